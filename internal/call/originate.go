package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// JobDispatcher is the slice of the agent dispatcher the call layer needs.
type JobDispatcher interface {
	AMIAction(ctx context.Context, action map[string]any, asList bool, opts agent.JobOptions) ([]byte, error)
}

// Notifier delivers a realtime notification to a user's connected clients.
type Notifier interface {
	Notify(uid int64, title, message string, warning bool)
}

// ConfKeyOriginateTimeout holds the originate ring timeout in seconds.
const ConfKeyOriginateTimeout = "originate.timeout"

const defaultOriginateTimeout = 60

// Originator places outbound click-to-dial calls through the agent.
type Originator struct {
	servers    database.ServerRepository
	pbxUsers   database.PbxUserRepository
	partners   database.PartnerRepository
	calls      database.CallRepository
	config     database.SystemConfigRepository
	dispatcher JobDispatcher
	logger     *slog.Logger
}

// NewOriginator creates an Originator.
func NewOriginator(
	servers database.ServerRepository,
	pbxUsers database.PbxUserRepository,
	partners database.PartnerRepository,
	calls database.CallRepository,
	config database.SystemConfigRepository,
	dispatcher JobDispatcher,
	logger *slog.Logger,
) *Originator {
	return &Originator{
		servers:    servers,
		pbxUsers:   pbxUsers,
		partners:   partners,
		calls:      calls,
		config:     config,
		dispatcher: dispatcher,
		logger:     logger.With("subsystem", "originate"),
	}
}

// OriginateCall places a call from the user's channels to number. model and
// resID reference the record the call was placed from ("partner" links the
// call to that contact). dtmfVars are extra channel variables supplied by
// the caller. One Call and one Channel row are committed per enabled
// channel before its AMI Originate is dispatched; the method never waits
// for the call outcome.
func (o *Originator) OriginateCall(ctx context.Context, user *models.User, number, model string, resID int64, dtmfVars []string) error {
	if number == "" {
		return agent.NewValidationError("Number not set!")
	}

	srv, err := o.servers.GetByUserID(ctx, user.ID)
	if err != nil {
		return err
	}
	if srv == nil {
		if srv, err = o.servers.GetDefault(ctx); err != nil {
			return err
		}
	}
	if srv == nil {
		return agent.NewValidationError("PBX server is not configured!")
	}

	pbxUser, err := o.pbxUsers.GetByUserID(ctx, srv.ID, user.ID)
	if err != nil {
		return err
	}
	if pbxUser == nil {
		return agent.NewValidationError("PBX user is not defined!")
	}

	channels, err := o.pbxUsers.ListChannels(ctx, pbxUser.ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return agent.NewValidationError("No channels defined for user!")
	}

	var enabled []models.UserChannel
	for _, ch := range channels {
		if ch.OriginateEnabled {
			enabled = append(enabled, ch)
		}
	}
	if len(enabled) == 0 {
		return agent.NewValidationError("No channels with originate enabled!")
	}

	number, partner, err := o.resolveNumber(ctx, number, model, resID, user)
	if err != nil {
		return err
	}

	recordName := number
	var partnerID *int64
	if partner != nil {
		recordName = partner.Name
		partnerID = &partner.ID
	}

	baseVars := []string{"__REALCALLERIDNUM=" + pbxUser.Exten}
	for _, line := range strings.Split(pbxUser.OriginateVars, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			baseVars = append(baseVars, line)
		}
	}

	timeoutSec, err := o.config.GetInt(ctx, ConfKeyOriginateTimeout, defaultOriginateTimeout)
	if err != nil {
		return err
	}

	for _, ch := range enabled {
		variables := append([]string{}, baseVars...)
		if v := autoAnswerVariable(ch, o.logger); v != "" {
			variables = append(variables, v)
		}
		variables = append(variables, dtmfVars...)

		channelID := uuid.NewString()
		otherChannelID := uuid.NewString()

		dbCall := &models.Call{
			UniqueID:      channelID,
			ServerID:      srv.ID,
			CallingNumber: pbxUser.Exten,
			CalledNumber:  number,
			Direction:     "out",
			Status:        models.CallStatusProgress,
			IsActive:      true,
			Started:       time.Now().UTC(),
			CallingUserID: &user.ID,
			PartnerID:     partnerID,
			ResModel:      model,
		}
		if resID != 0 {
			dbCall.ResID = &resID
		}
		if err := o.calls.Create(ctx, dbCall); err != nil {
			return err
		}

		dbChannel := &models.Channel{
			CallID:   dbCall.ID,
			ServerID: srv.ID,
			UserID:   &user.ID,
			Channel:  ch.Name,
			UniqueID: channelID,
			LinkedID: otherChannelID,
			IsActive: true,
		}
		if err := o.calls.CreateChannel(ctx, dbChannel); err != nil {
			return err
		}

		action := map[string]any{
			"Action":         "Originate",
			"Channel":        ch.Name,
			"Context":        ch.OriginateContext,
			"Exten":          number,
			"Priority":       "1",
			"Timeout":        timeoutSec * 1000,
			"CallerID":       fmt.Sprintf("To: %s <%s>", recordName, number),
			"ChannelId":      channelID,
			"OtherChannelId": otherChannelID,
			"Async":          "true",
			"EarlyMedia":     "true",
			"Variable":       variables,
		}

		_, err := o.dispatcher.AMIAction(ctx, action, false, agent.JobOptions{
			ResModel:     "server",
			ResMethod:    "originate_call_response",
			ResNotifyUID: user.ID,
			PassBack: map[string]any{
				"notify_uid": user.ID,
				"channel_id": channelID,
			},
			RaiseExc: true,
		})
		if err != nil {
			return err
		}

		o.logger.Info("call originated",
			"channel", ch.Name,
			"number", number,
			"channel_id", channelID,
			"user_id", user.ID,
		)
	}

	return nil
}

// resolveNumber normalizes and formats the dialed number, resolving the
// partner when the trigger record is a contact. The partner's country wins
// over the caller's for formatting.
func (o *Originator) resolveNumber(ctx context.Context, number, model string, resID int64, user *models.User) (string, *models.Partner, error) {
	var partner *models.Partner
	country := user.CountryCode

	if model == "partner" && resID != 0 {
		p, err := o.partners.GetByID(ctx, resID)
		if err != nil {
			return "", nil, err
		}
		if p != nil {
			partner = p
			if p.CountryCode != "" {
				country = p.CountryCode
			}
		}
	}

	return FormatNumber(number, country), partner, nil
}

// autoAnswerVariable builds the channel variable that injects the channel's
// auto-answer SIP header. PJSIP channels use the PJSIP_HEADER dialplan
// function; chan_sip channels use SIPADDHEADER. A header without a colon is
// skipped with a warning, the originate proceeds without it.
func autoAnswerVariable(ch models.UserChannel, logger *slog.Logger) string {
	if ch.AutoAnswerHeader == "" {
		return ""
	}

	name, value, found := strings.Cut(ch.AutoAnswerHeader, ":")
	if !found || strings.TrimSpace(name) == "" {
		logger.Warn("malformed auto answer header ignored",
			"channel", ch.Name, "header", ch.AutoAnswerHeader)
		return ""
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	if strings.HasPrefix(strings.ToUpper(ch.Name), "PJSIP/") {
		return fmt.Sprintf("PJSIP_HEADER(add,%s)=%s", name, value)
	}
	return fmt.Sprintf("SIPADDHEADER=%s: %s", name, value)
}

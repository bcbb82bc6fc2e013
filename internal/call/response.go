package call

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// originateResponse is the AMI reply forwarded by the agent after an
// asynchronous Originate.
type originateResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}

// Handler processes asynchronous call events: originate responses from the
// agent and channel hangups.
type Handler struct {
	calls      database.CallRepository
	pbxUsers   database.PbxUserRepository
	users      database.UserRepository
	recordings RecordingSaver
	notifier   Notifier
	logger     *slog.Logger
}

// RecordingSaver persists the recording of a finished channel.
type RecordingSaver interface {
	SaveCallRecording(ctx agent.SystemContext, ch *models.Channel) (bool, error)
}

// NewHandler creates a call event handler.
func NewHandler(
	calls database.CallRepository,
	pbxUsers database.PbxUserRepository,
	users database.UserRepository,
	recordings RecordingSaver,
	notifier Notifier,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		calls:      calls,
		pbxUsers:   pbxUsers,
		users:      users,
		recordings: recordings,
		notifier:   notifier,
		logger:     logger.With("subsystem", "call"),
	}
}

// Register binds the handler's callback targets into the registry.
func (h *Handler) Register(reg *agent.CallbackRegistry) {
	reg.Register("server", "originate_call_response", h.HandleOriginateResponse)
}

// HandleOriginateResponse processes the agent's originate result. Error
// responses fail the call and notify the originating user once; anything
// else means the call is progressing and leaves state untouched. Late or
// duplicate responses for calls already in a terminal state are no-ops.
func (h *Handler) HandleOriginateResponse(ctx agent.SystemContext, result json.RawMessage, passBack map[string]any) error {
	var resp originateResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("decoding originate response: %w", err)
	}

	channelID := passBackString(passBack, "channel_id")
	if resp.Response != "Error" {
		h.logger.Debug("originate accepted", "channel_id", channelID, "response", resp.Response)
		return nil
	}

	if channelID == "" {
		return fmt.Errorf("originate error response without channel_id")
	}

	call, err := h.calls.GetByUniqueID(ctx, channelID)
	if err != nil {
		return err
	}
	if call == nil {
		h.logger.Warn("originate response for unknown call", "channel_id", channelID)
		return nil
	}
	if call.IsTerminal() {
		h.logger.Debug("originate response for finished call ignored",
			"channel_id", channelID, "status", call.Status)
		return nil
	}

	now := time.Now().UTC()
	call.Status = models.CallStatusFailed
	call.IsActive = false
	call.Ended = &now
	if err := h.calls.Update(ctx, call); err != nil {
		return err
	}
	if err := h.calls.DeactivateChannels(ctx, call.ID); err != nil {
		return err
	}

	if uid := passBackInt(passBack, "notify_uid"); uid != 0 {
		h.notifier.Notify(uid, "Call failed",
			fmt.Sprintf("Call to %s failed: %s", call.CalledNumber, resp.Message), true)
	}

	h.logger.Info("originate failed", "channel_id", channelID, "message", resp.Message)
	return nil
}

// passBackString reads a string out of a decoded pass_back map.
func passBackString(passBack map[string]any, key string) string {
	s, _ := passBack[key].(string)
	return s
}

// passBackInt reads an integer out of a decoded pass_back map. JSON numbers
// decode as float64.
func passBackInt(passBack map[string]any, key string) int64 {
	switch v := passBack[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

package call

import (
	"context"
	"fmt"
	"time"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// statusFromCause maps a Q.850 hangup cause code to a terminal call status.
func statusFromCause(cause string) string {
	switch cause {
	case models.HangupCauseAnswered:
		return models.CallStatusAnswered
	case "17":
		return models.CallStatusBusy
	case "18", "19", "21":
		return models.CallStatusNoAnswer
	default:
		return models.CallStatusFailed
	}
}

// HandleHangup marks the channel with the given unique id inactive and
// records its hangup cause. When the last channel of the call goes
// inactive, the call is finalized exactly once: terminal status derived
// from the cause, ended timestamp set, recordings saved for answered legs,
// and missed-call notifications sent for unanswered inbound calls.
func (h *Handler) HandleHangup(ctx context.Context, uniqueID, cause string) error {
	ch, err := h.calls.GetChannelByUniqueID(ctx, uniqueID)
	if err != nil {
		return err
	}
	if ch == nil {
		h.logger.Debug("hangup for unknown channel", "unique_id", uniqueID)
		return nil
	}

	ch.IsActive = false
	ch.Cause = cause
	if err := h.calls.UpdateChannel(ctx, ch); err != nil {
		return err
	}

	channels, err := h.calls.ListChannels(ctx, ch.CallID)
	if err != nil {
		return err
	}
	for _, c := range channels {
		if c.IsActive {
			return nil
		}
	}

	call, err := h.calls.GetByID(ctx, ch.CallID)
	if err != nil {
		return err
	}
	if call == nil || call.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	call.Status = statusFromCause(cause)
	call.IsActive = false
	call.Ended = &now
	if call.Status == models.CallStatusAnswered && call.Answered == nil {
		call.Answered = &now
	}
	if err := h.calls.Update(ctx, call); err != nil {
		return err
	}

	h.logger.Info("call finished",
		"call_id", call.ID, "status", call.Status, "cause", cause)

	sysCtx := agent.NewSystemContext(ctx)
	for _, c := range channels {
		if c.Cause == models.HangupCauseAnswered && c.RecordingFilePath != "" {
			if _, err := h.recordings.SaveCallRecording(sysCtx, &c); err != nil {
				h.logger.Error("saving call recording failed",
					"channel_id", c.ID, "error", err)
			}
		}
	}

	if call.Direction == "in" && call.Status != models.CallStatusAnswered {
		h.notifyMissedCall(ctx, call)
	}

	return nil
}

// notifyMissedCall alerts users who opted into missed-call notifications.
func (h *Handler) notifyMissedCall(ctx context.Context, call *models.Call) {
	pbxUsers, err := h.pbxUsers.List(ctx, call.ServerID)
	if err != nil {
		h.logger.Error("listing pbx users for missed call notify", "error", err)
		return
	}
	for _, pu := range pbxUsers {
		if !pu.MissedCallsNotify {
			continue
		}
		h.notifier.Notify(pu.UserID, "Missed call",
			fmt.Sprintf("Missed call from %s", call.CallingNumber), false)
	}
}

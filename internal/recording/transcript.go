package recording

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// transcriptionClient posts transcription requests to the external service.
type transcriptionClient struct {
	httpClient *http.Client
	config     database.SystemConfigRepository
}

func newTranscriptionClient(config database.SystemConfigRepository) *transcriptionClient {
	return &transcriptionClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     config,
	}
}

// transcriptionRequest is the payload posted to the transcription service.
type transcriptionRequest struct {
	FileName           string `json:"file_name"`
	Content            string `json:"content"` // base64 audio
	SummaryPrompt      string `json:"summary_prompt,omitempty"`
	CallbackURL        string `json:"callback_url"`
	TranscriptionToken string `json:"transcription_token"`
	NotifyUID          int64  `json:"notify_uid,omitempty"`
}

func (c *transcriptionClient) submit(ctx context.Context, req transcriptionRequest) error {
	url, err := c.config.Get(ctx, database.ConfKeyTranscriptionURL)
	if err != nil {
		return err
	}
	if url == "" {
		return agent.NewValidationError("Transcription service URL is not configured!")
	}
	apiKey, _ := c.config.Get(ctx, database.ConfKeyAPIKey)
	instanceUID, _ := c.config.Get(ctx, database.ConfKeyInstanceUID)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling transcription request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/transcription", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("x-instance-uid", instanceUID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &agent.RemoteError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// RequestTranscript submits a recording for transcription. A fresh
// single-use token is persisted before the outbound request so the service
// callback can be validated even if it races the response. A repeated
// request overwrites the previous token, invalidating the older callback.
func (m *Manager) RequestTranscript(ctx context.Context, rec *models.Recording, failSilently bool) error {
	audio, err := m.Audio(rec)
	if err != nil {
		if failSilently {
			m.logger.Error("transcript request: no audio", "recording_id", rec.ID, "error", err)
			return nil
		}
		return err
	}

	rec.TranscriptionToken = uuid.NewString()
	rec.TranscriptionError = ""
	if err := m.recordings.Update(ctx, rec); err != nil {
		return err
	}

	baseURL, _ := m.config.Get(ctx, database.ConfKeyBaseURL)
	summaryPrompt, _ := m.config.Get(ctx, database.ConfKeySummaryPrompt)

	var notifyUID int64
	if rec.CallingUserID != nil {
		notifyUID = *rec.CallingUserID
	}

	req := transcriptionRequest{
		FileName:           rec.RecordingFilename,
		Content:            base64.StdEncoding.EncodeToString(audio),
		SummaryPrompt:      summaryPrompt,
		CallbackURL:        fmt.Sprintf("%s/pbxlink/transcript/%d", baseURL, rec.ID),
		TranscriptionToken: rec.TranscriptionToken,
		NotifyUID:          notifyUID,
	}

	if err := m.transcribe.submit(ctx, req); err != nil {
		rec.TranscriptionError = err.Error()
		if updErr := m.recordings.Update(ctx, rec); updErr != nil {
			m.logger.Error("storing transcription error failed", "recording_id", rec.ID, "error", updErr)
		}
		if failSilently {
			m.logger.Error("transcript request failed", "recording_id", rec.ID, "error", err)
			return nil
		}
		var remote *agent.RemoteError
		if errors.As(err, &remote) {
			return agent.NewValidationError(remote.Error())
		}
		return err
	}

	m.logger.Info("transcript requested", "recording_id", rec.ID)
	return nil
}

// TranscriptData is the transcription service's callback payload.
type TranscriptData struct {
	Transcript string  `json:"transcript"`
	Summary    string  `json:"summary"`
	Price      float64 `json:"price"`
	NotifyUID  int64   `json:"notify_uid"`
}

// UpdateTranscript stores the finished transcription, consumes the token,
// notifies the requesting user and, when configured, posts the summary to
// the linked partner's activity log.
func (m *Manager) UpdateTranscript(ctx context.Context, rec *models.Recording, data TranscriptData) error {
	rec.Transcript = data.Transcript
	rec.Summary = data.Summary
	rec.TranscriptionPrice = fmt.Sprintf("%.2f", data.Price)
	rec.TranscriptionToken = ""
	rec.TranscriptionError = ""
	if err := m.recordings.Update(ctx, rec); err != nil {
		return err
	}

	if data.NotifyUID != 0 {
		m.notifier.Notify(data.NotifyUID, "Transcription ready",
			fmt.Sprintf("Transcription of call %s -> %s is ready", rec.CallingNumber, rec.CalledNumber), false)
	}

	postSummary, err := m.config.GetBool(ctx, database.ConfKeySummaryPostToPartner)
	if err != nil {
		return err
	}
	if postSummary && rec.PartnerID != nil && data.Summary != "" {
		if err := m.partners.PostMessage(ctx, *rec.PartnerID, data.Summary); err != nil {
			m.logger.Error("posting summary to partner failed",
				"recording_id", rec.ID, "partner_id", *rec.PartnerID, "error", err)
		}
	}

	m.logger.Info("transcript stored", "recording_id", rec.ID)
	return nil
}

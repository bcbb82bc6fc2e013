package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/recording"
)

// transcriptCallbackRequest is the transcription service's result payload.
type transcriptCallbackRequest struct {
	Transcript         string  `json:"transcript"`
	Summary            string  `json:"summary"`
	Price              float64 `json:"price"`
	NotifyUID          int64   `json:"notify_uid"`
	TranscriptionToken string  `json:"transcription_token"`
}

// handleTranscriptCallback stores a finished transcription. The request
// must present the single-use token issued when the transcript was
// requested; anything else is rejected without touching the recording.
func (s *Server) handleTranscriptCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(chi.URLParam(r, "id"))
	if !ok {
		writeText(w, http.StatusBadRequest, "Bad token")
		return
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	var req transcriptCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, "Bad request")
		return
	}

	rec, err := s.recordings.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("transcript callback: loading recording failed", "recording_id", id, "error", err)
		writeText(w, http.StatusInternalServerError, "Error")
		return
	}
	if rec == nil || rec.TranscriptionToken == "" || req.TranscriptionToken != rec.TranscriptionToken {
		s.logger.Warn("transcript callback with bad token", "recording_id", id, "ip", r.RemoteAddr)
		writeText(w, http.StatusBadRequest, "Bad token")
		return
	}

	err = s.manager.UpdateTranscript(r.Context(), rec, recording.TranscriptData{
		Transcript: req.Transcript,
		Summary:    req.Summary,
		Price:      req.Price,
		NotifyUID:  req.NotifyUID,
	})
	if err != nil {
		s.logger.Error("transcript callback: storing transcript failed", "recording_id", id, "error", err)
		writeText(w, http.StatusInternalServerError, "Error")
		return
	}

	writeText(w, http.StatusOK, "true")
}

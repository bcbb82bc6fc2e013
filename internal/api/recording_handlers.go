package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// recordingResponse is the API shape of a recording. The audio payload and
// the transcription token never appear here.
type recordingResponse struct {
	ID                 int64      `json:"id"`
	UniqueID           string     `json:"unique_id"`
	CallID             *int64     `json:"call_id,omitempty"`
	PartnerID          *int64     `json:"partner_id,omitempty"`
	CallingUserID      *int64     `json:"calling_user_id,omitempty"`
	AnsweredUserID     *int64     `json:"answered_user_id,omitempty"`
	CallingNumber      string     `json:"calling_number"`
	CalledNumber       string     `json:"called_number"`
	Answered           *time.Time `json:"answered,omitempty"`
	RecordingFilename  string     `json:"recording_filename"`
	HasAudio           bool       `json:"has_audio"`
	KeepForever        string     `json:"keep_forever"`
	Transcript         string     `json:"transcript,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	TranscriptionError string     `json:"transcription_error,omitempty"`
	TranscriptionPrice string     `json:"transcription_price,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toRecordingResponse(rec models.Recording) recordingResponse {
	return recordingResponse{
		ID:                 rec.ID,
		UniqueID:           rec.UniqueID,
		CallID:             rec.CallID,
		PartnerID:          rec.PartnerID,
		CallingUserID:      rec.CallingUserID,
		AnsweredUserID:     rec.AnsweredUserID,
		CallingNumber:      rec.CallingNumber,
		CalledNumber:       rec.CalledNumber,
		Answered:           rec.Answered,
		RecordingFilename:  rec.RecordingFilename,
		HasAudio:           len(rec.RecordingData) > 0 || rec.FilePath != "",
		KeepForever:        rec.KeepForever,
		Transcript:         rec.Transcript,
		Summary:            rec.Summary,
		TranscriptionError: rec.TranscriptionError,
		TranscriptionPrice: rec.TranscriptionPrice,
		CreatedAt:          rec.CreatedAt,
	}
}

// getRecordingOr404 loads the recording from the {id} URL parameter,
// writing the error response itself when it returns nil.
func (s *Server) getRecordingOr404(w http.ResponseWriter, r *http.Request) *models.Recording {
	id, ok := parseIDParam(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recording id")
		return nil
	}

	rec, err := s.recordings.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return nil
	}
	return rec
}

// handleListRecordings returns stored recordings with pagination.
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	p, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter := database.RecordingListFilter{
		Limit:  p.Limit,
		Offset: p.Offset,
		Search: r.URL.Query().Get("search"),
	}

	recordings, total, err := s.recordings.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	items := make([]recordingResponse, 0, len(recordings))
	for _, rec := range recordings {
		items = append(items, toRecordingResponse(rec))
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

// handleGetRecording returns a single recording's metadata and transcript.
func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecordingOr404(w, r)
	if rec == nil {
		return
	}
	writeJSON(w, http.StatusOK, toRecordingResponse(*rec))
}

// handleRecordingAudio streams the recording audio.
func (s *Server) handleRecordingAudio(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecordingOr404(w, r)
	if rec == nil {
		return
	}

	audio, err := s.manager.Audio(rec)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusNotFound, "recording has no audio")
		return
	}

	contentType := "audio/wav"
	if strings.HasSuffix(strings.ToLower(rec.RecordingFilename), ".mp3") {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.RecordingFilename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(audio) //nolint:errcheck
}

// handleDeleteRecording removes a recording row and its audio file.
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecordingOr404(w, r)
	if rec == nil {
		return
	}

	s.manager.DeleteAudioFile(rec)
	if err := s.recordings.Delete(r.Context(), rec.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("recording deleted", "recording_id", rec.ID)
	writeJSON(w, http.StatusOK, true)
}

type keepRecordingRequest struct {
	KeepForever bool `json:"keep_forever"`
}

// handleKeepRecording toggles the keep-forever flag that exempts a
// recording from retention cleanup.
func (s *Server) handleKeepRecording(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecordingOr404(w, r)
	if rec == nil {
		return
	}

	var req keepRecordingRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	rec.KeepForever = models.KeepForeverNo
	if req.KeepForever {
		rec.KeepForever = models.KeepForeverYes
	}
	if err := s.recordings.Update(r.Context(), rec); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordingResponse(*rec))
}

// handleRequestTranscript submits the recording for transcription.
func (s *Server) handleRequestTranscript(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecordingOr404(w, r)
	if rec == nil {
		return
	}

	if err := s.manager.RequestTranscript(r.Context(), rec, false); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, true)
}

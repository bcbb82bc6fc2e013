package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/api/middleware"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// callResponse is the API shape of a call.
type callResponse struct {
	ID             int64      `json:"id"`
	UniqueID       string     `json:"unique_id"`
	ServerID       int64      `json:"server_id"`
	CallingNumber  string     `json:"calling_number"`
	CalledNumber   string     `json:"called_number"`
	Direction      string     `json:"direction"`
	Status         string     `json:"status"`
	IsActive       bool       `json:"is_active"`
	Started        time.Time  `json:"started"`
	Answered       *time.Time `json:"answered,omitempty"`
	Ended          *time.Time `json:"ended,omitempty"`
	CallingUserID  *int64     `json:"calling_user_id,omitempty"`
	AnsweredUserID *int64     `json:"answered_user_id,omitempty"`
	PartnerID      *int64     `json:"partner_id,omitempty"`
	ResModel       string     `json:"res_model,omitempty"`
	ResID          *int64     `json:"res_id,omitempty"`
}

func toCallResponse(c models.Call) callResponse {
	return callResponse{
		ID:             c.ID,
		UniqueID:       c.UniqueID,
		ServerID:       c.ServerID,
		CallingNumber:  c.CallingNumber,
		CalledNumber:   c.CalledNumber,
		Direction:      c.Direction,
		Status:         c.Status,
		IsActive:       c.IsActive,
		Started:        c.Started,
		Answered:       c.Answered,
		Ended:          c.Ended,
		CallingUserID:  c.CallingUserID,
		AnsweredUserID: c.AnsweredUserID,
		PartnerID:      c.PartnerID,
		ResModel:       c.ResModel,
		ResID:          c.ResID,
	}
}

func toCallResponses(calls []models.Call) []callResponse {
	out := make([]callResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, toCallResponse(c))
	}
	return out
}

// writeServiceError maps service-layer errors to API responses. Validation
// failures become 422 so the UI can show them verbatim; everything else is
// an opaque 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *agent.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, verr.Message)
		return
	}
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

type originateRequest struct {
	Number        string   `json:"number"`
	Model         string   `json:"model"`
	ResID         int64    `json:"res_id"`
	DTMFVariables []string `json:"dtmf_variables"`
}

// handleOriginate places a click-to-dial call from the authenticated
// user's channels.
func (s *Server) handleOriginate(w http.ResponseWriter, r *http.Request) {
	var req originateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	uid := middleware.UserIDFromContext(r.Context())
	user, err := s.users.GetByID(r.Context(), uid)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	if err := s.originator.OriginateCall(r.Context(), user, req.Number, req.Model, req.ResID, req.DTMFVariables); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, true)
}

// handleListCalls returns the call history with filtering and pagination.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	p, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	filter := database.CallListFilter{
		Limit:     p.Limit,
		Offset:    p.Offset,
		Search:    q.Get("search"),
		Direction: q.Get("direction"),
		Status:    q.Get("status"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}
	if filter.Direction != "" && filter.Direction != "in" && filter.Direction != "out" {
		writeError(w, http.StatusBadRequest, "direction must be in or out")
		return
	}

	calls, total, err := s.calls.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  toCallResponses(calls),
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

// handleListActiveCalls returns calls still in flight.
func (s *Server) handleListActiveCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.calls.ListActive(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallResponses(calls))
}

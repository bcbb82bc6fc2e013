package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/api/middleware"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// serverResponse is the API shape of a PBX server binding.
type serverResponse struct {
	ID                      int64     `json:"id"`
	Name                    string    `json:"name"`
	UserID                  int64     `json:"user_id"`
	SecurityToken           string    `json:"security_token"`
	ConnectionMode          string    `json:"connection_mode"`
	AgentURL                string    `json:"agent_url"`
	NATSURL                 string    `json:"nats_url"`
	AgentInitialized        bool      `json:"agent_initialized"`
	AgentInitializationOpen bool      `json:"agent_initialization_open"`
	AutoCreateUsers         bool      `json:"auto_create_users"`
	GenerateSIPPeers        bool      `json:"generate_sip_peers"`
	SIPProtocol             string    `json:"sip_protocol"`
	SIPPeerTemplate         string    `json:"sip_peer_template"`
	SIPPeerStartExten       string    `json:"sip_peer_start_exten"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func toServerResponse(srv *models.Server) serverResponse {
	return serverResponse{
		ID:                      srv.ID,
		Name:                    srv.Name,
		UserID:                  srv.UserID,
		SecurityToken:           srv.SecurityToken,
		ConnectionMode:          srv.ConnectionMode,
		AgentURL:                srv.AgentURL,
		NATSURL:                 srv.NATSURL,
		AgentInitialized:        srv.AgentInitialized,
		AgentInitializationOpen: srv.AgentInitializationOpen,
		AutoCreateUsers:         srv.AutoCreateUsers,
		GenerateSIPPeers:        srv.GenerateSIPPeers,
		SIPProtocol:             srv.SIPProtocol,
		SIPPeerTemplate:         srv.SIPPeerTemplate,
		SIPPeerStartExten:       srv.SIPPeerStartExten,
		CreatedAt:               srv.CreatedAt,
		UpdatedAt:               srv.UpdatedAt,
	}
}

// serverRequest is the shape accepted by PUT /servers/{id}. Nil fields are
// left unchanged.
type serverRequest struct {
	Name                    *string `json:"name"`
	ConnectionMode          *string `json:"connection_mode"`
	AgentURL                *string `json:"agent_url"`
	NATSURL                 *string `json:"nats_url"`
	AgentInitializationOpen *bool   `json:"agent_initialization_open"`
	AutoCreateUsers         *bool   `json:"auto_create_users"`
	GenerateSIPPeers        *bool   `json:"generate_sip_peers"`
	SIPProtocol             *string `json:"sip_protocol"`
	SIPPeerTemplate         *string `json:"sip_peer_template"`
	SIPPeerStartExten       *string `json:"sip_peer_start_exten"`
}

// getServerOr404 loads the server from the {id} URL parameter, writing the
// error response itself when it returns nil.
func (s *Server) getServerOr404(w http.ResponseWriter, r *http.Request) *models.Server {
	id, ok := parseIDParam(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return nil
	}

	srv, err := s.servers.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	if srv == nil {
		writeError(w, http.StatusNotFound, "server not found")
		return nil
	}
	return srv
}

// handleGetServer returns a PBX server binding.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv := s.getServerOr404(w, r)
	if srv == nil {
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(srv))
}

// handleUpdateServer modifies a PBX server binding. Only provided fields
// are changed.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	srv := s.getServerOr404(w, r)
	if srv == nil {
		return
	}

	var req serverRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.ConnectionMode != nil {
		if *req.ConnectionMode != "webhook" && *req.ConnectionMode != "nats" {
			writeError(w, http.StatusBadRequest, "connection_mode must be webhook or nats")
			return
		}
		srv.ConnectionMode = *req.ConnectionMode
	}
	if req.SIPProtocol != nil {
		if *req.SIPProtocol != "SIP" && *req.SIPProtocol != "PJSIP" {
			writeError(w, http.StatusBadRequest, "sip_protocol must be SIP or PJSIP")
			return
		}
		srv.SIPProtocol = *req.SIPProtocol
	}
	if req.SIPPeerStartExten != nil {
		if errMsg := validateExtensionNumber("sip_peer_start_exten", *req.SIPPeerStartExten); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		srv.SIPPeerStartExten = *req.SIPPeerStartExten
	}
	if req.Name != nil {
		if errMsg := validateRequiredStringLen("name", *req.Name, maxNameLen); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		srv.Name = *req.Name
	}
	if req.AgentURL != nil {
		if errMsg := validateStringLen("agent_url", *req.AgentURL, maxURLLen); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		srv.AgentURL = *req.AgentURL
	}
	if req.NATSURL != nil {
		if errMsg := validateStringLen("nats_url", *req.NATSURL, maxURLLen); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		srv.NATSURL = *req.NATSURL
	}
	if req.AgentInitializationOpen != nil {
		srv.AgentInitializationOpen = *req.AgentInitializationOpen
		// Reopening initialization lets a rebuilt agent fetch credentials
		// again.
		if *req.AgentInitializationOpen {
			srv.AgentInitialized = false
		}
	}
	if req.AutoCreateUsers != nil {
		srv.AutoCreateUsers = *req.AutoCreateUsers
	}
	if req.GenerateSIPPeers != nil {
		srv.GenerateSIPPeers = *req.GenerateSIPPeers
	}
	if req.SIPPeerTemplate != nil {
		srv.SIPPeerTemplate = *req.SIPPeerTemplate
	}

	if err := s.servers.Update(r.Context(), srv); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("server updated", "server_id", srv.ID)
	writeJSON(w, http.StatusOK, toServerResponse(srv))
}

// handlePingServer dispatches an asynchronous agent liveness check. The
// reply arrives as a notification to the requesting user.
func (s *Server) handlePingServer(w http.ResponseWriter, r *http.Request) {
	if srv := s.getServerOr404(w, r); srv == nil {
		return
	}

	uid := middleware.UserIDFromContext(r.Context())
	if err := s.dispatcher.Ping(r.Context(), uid); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// handleAMIPingServer sends a synchronous AMI Ping and returns the raw
// reply.
func (s *Server) handleAMIPingServer(w http.ResponseWriter, r *http.Request) {
	if srv := s.getServerOr404(w, r); srv == nil {
		return
	}

	reply, err := s.dispatcher.AsteriskPing(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": string(reply)})
}

type serverCommandRequest struct {
	Command string `json:"command"`
}

// handleServerCommand runs a console command line ("service.method [args]
// {kwargs}") synchronously against the agent.
func (s *Server) handleServerCommand(w http.ResponseWriter, r *http.Request) {
	if srv := s.getServerOr404(w, r); srv == nil {
		return
	}

	var req serverCommandRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	reply, err := s.dispatcher.RunCommand(r.Context(), req.Command)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("console command executed", "uid", middleware.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"reply": string(reply)})
}

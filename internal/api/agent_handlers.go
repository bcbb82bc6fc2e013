package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"text/template"

	"github.com/pbxlink/pbxlink/internal/database"
)

// callbackRequest is the envelope the agent posts with an asynchronous job
// result. Unknown fields are tolerated; agents may echo the full job.
type callbackRequest struct {
	ResModel  string          `json:"res_model"`
	ResMethod string          `json:"res_method"`
	Result    json.RawMessage `json:"result"`
	PassBack  map[string]any  `json:"pass_back"`
}

// handleAgentCallback receives asynchronous job results from the agent and
// routes them through the callback registry. Handler failures are logged
// but never surfaced to the agent; only a malformed envelope is an error.
func (s *Server) handleAgentCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, "Bad request")
		return
	}
	if req.ResModel == "" || req.ResMethod == "" {
		writeText(w, http.StatusBadRequest, "Bad request")
		return
	}

	if err := s.registry.Dispatch(r.Context(), req.ResModel, req.ResMethod, req.Result, req.PassBack); err != nil {
		s.logger.Warn("agent callback not dispatched",
			"res_model", req.ResModel, "res_method", req.ResMethod, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("true")) //nolint:errcheck
}

// agentInitResponse carries the credentials handed to the agent exactly once.
type agentInitResponse struct {
	APIURL      string `json:"api_url"`
	APIKey      string `json:"api_key"`
	InstanceUID string `json:"instance_uid"`
}

// handleAgentInit is the one-shot agent bootstrap. It hands out the API
// credentials only while initialization is open and the agent has not
// initialized yet; any replay gets a plain 400 and credentials stay put.
func (s *Server) handleAgentInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	srv, err := s.servers.GetDefault(ctx)
	if err != nil {
		s.logger.Error("agent init: loading server failed", "error", err)
		writeText(w, http.StatusInternalServerError, "Error")
		return
	}
	if srv == nil {
		writeText(w, http.StatusBadRequest, "Server is not configured")
		return
	}

	registered, _ := s.sysConfig.GetBool(ctx, database.ConfKeyIsRegistered)
	subscribed, _ := s.sysConfig.GetBool(ctx, database.ConfKeyIsSubscribed)
	if !registered || !subscribed {
		writeText(w, http.StatusBadRequest, "Instance is not registered")
		return
	}

	if srv.AgentInitialized || !srv.AgentInitializationOpen {
		s.logger.Warn("agent init replay rejected", "server_id", srv.ID, "ip", r.RemoteAddr)
		writeText(w, http.StatusBadRequest, "Initialization is not open")
		return
	}

	apiURL, _ := s.sysConfig.Get(ctx, database.ConfKeyBaseURL)
	apiKey, _ := s.sysConfig.Get(ctx, database.ConfKeyAPIKey)
	instanceUID, _ := s.sysConfig.Get(ctx, database.ConfKeyInstanceUID)

	srv.AgentInitialized = true
	srv.AgentInitializationOpen = false
	if err := s.servers.Update(ctx, srv); err != nil {
		s.logger.Error("agent init: closing initialization failed", "error", err)
		writeText(w, http.StatusInternalServerError, "Error")
		return
	}

	s.logger.Info("agent initialized", "server_id", srv.ID, "ip", r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(agentInitResponse{ //nolint:errcheck
		APIURL:      apiURL,
		APIKey:      apiKey,
		InstanceUID: instanceUID,
	})
}

// sipPeerData is the template context for one rendered SIP peer stanza.
type sipPeerData struct {
	Exten       string
	SIPUser     string
	SIPPassword string
	ChannelName string
}

// handleSIPPeers renders SIP peer configuration for the agent to include in
// the Asterisk config. Gated by the server's security token.
func (s *Server) handleSIPPeers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	srv, err := s.servers.GetDefault(ctx)
	if err != nil {
		s.logger.Error("sip peers: loading server failed", "error", err)
		writeText(w, http.StatusInternalServerError, "Error")
		return
	}
	if srv == nil {
		writeText(w, http.StatusBadRequest, "Server is not configured")
		return
	}

	token := r.Header.Get("x-security-token")
	if token == "" || token != srv.SecurityToken {
		s.logger.Warn("sip peers: bad security token", "ip", r.RemoteAddr)
		writeText(w, http.StatusBadRequest, "Bad security token")
		return
	}

	if !srv.GenerateSIPPeers {
		writeText(w, http.StatusBadRequest, "SIP peer generation is disabled")
		return
	}

	tmpl, err := template.New("peer").Parse(srv.SIPPeerTemplate)
	if err != nil {
		s.logger.Error("sip peers: bad template", "error", err)
		writeText(w, http.StatusBadRequest, "Bad peer template")
		return
	}

	pbxUsers, err := s.pbxUsers.List(ctx, srv.ID)
	if err != nil {
		s.logger.Error("sip peers: listing pbx users failed", "error", err)
		writeText(w, http.StatusInternalServerError, "Error")
		return
	}

	var stanzas []string
	for _, pu := range pbxUsers {
		channels, err := s.pbxUsers.ListChannels(ctx, pu.ID)
		if err != nil {
			s.logger.Error("sip peers: listing channels failed", "pbx_user_id", pu.ID, "error", err)
			writeText(w, http.StatusInternalServerError, "Error")
			return
		}
		for _, ch := range channels {
			if ch.SIPPassword == "" {
				continue
			}
			var buf strings.Builder
			err := tmpl.Execute(&buf, sipPeerData{
				Exten:       pu.Exten,
				SIPUser:     ch.SIPUser,
				SIPPassword: ch.SIPPassword,
				ChannelName: ch.Name,
			})
			if err != nil {
				s.logger.Error("sip peers: rendering failed", "channel", ch.Name, "error", err)
				writeText(w, http.StatusBadRequest, "Bad peer template")
				return
			}
			stanzas = append(stanzas, strings.TrimSpace(buf.String()))
		}
	}

	writeText(w, http.StatusOK, strings.Join(stanzas, "\n\n"))
}

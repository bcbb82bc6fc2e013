package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

// pbxUserChannelResponse is the API shape of a SIP channel.
type pbxUserChannelResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	SIPUser          string `json:"sip_user"`
	SIPPassword      string `json:"sip_password"`
	OriginateEnabled bool   `json:"originate_enabled"`
	OriginateContext string `json:"originate_context"`
	AutoAnswerHeader string `json:"auto_answer_header"`
}

// pbxUserResponse is the API shape of a user-to-extension mapping.
type pbxUserResponse struct {
	ID                int64                    `json:"id"`
	Exten             string                   `json:"exten"`
	UserID            int64                    `json:"user_id"`
	ServerID          int64                    `json:"server_id"`
	OriginateVars     string                   `json:"originate_vars"`
	MissedCallsNotify bool                     `json:"missed_calls_notify"`
	OpenReference     bool                     `json:"open_reference"`
	CallPopupEnabled  bool                     `json:"call_popup_enabled"`
	CallPopupIsSticky bool                     `json:"call_popup_is_sticky"`
	CreatedAt         time.Time                `json:"created_at"`
	Channels          []pbxUserChannelResponse `json:"channels"`
}

func toPbxUserResponse(pu models.PbxUser) pbxUserResponse {
	resp := pbxUserResponse{
		ID:                pu.ID,
		Exten:             pu.Exten,
		UserID:            pu.UserID,
		ServerID:          pu.ServerID,
		OriginateVars:     pu.OriginateVars,
		MissedCallsNotify: pu.MissedCallsNotify,
		OpenReference:     pu.OpenReference,
		CallPopupEnabled:  pu.CallPopupEnabled,
		CallPopupIsSticky: pu.CallPopupIsSticky,
		CreatedAt:         pu.CreatedAt,
		Channels:          make([]pbxUserChannelResponse, 0, len(pu.Channels)),
	}
	for _, ch := range pu.Channels {
		resp.Channels = append(resp.Channels, pbxUserChannelResponse{
			ID:               ch.ID,
			Name:             ch.Name,
			SIPUser:          ch.SIPUser,
			SIPPassword:      ch.SIPPassword,
			OriginateEnabled: ch.OriginateEnabled,
			OriginateContext: ch.OriginateContext,
			AutoAnswerHeader: ch.AutoAnswerHeader,
		})
	}
	return resp
}

type pbxUserChannelRequest struct {
	Name             string `json:"name"`
	SIPUser          string `json:"sip_user"`
	SIPPassword      string `json:"sip_password"`
	OriginateEnabled bool   `json:"originate_enabled"`
	OriginateContext string `json:"originate_context"`
	AutoAnswerHeader string `json:"auto_answer_header"`
}

type createPbxUserRequest struct {
	Exten             string                  `json:"exten"`
	UserID            int64                   `json:"user_id"`
	OriginateVars     string                  `json:"originate_vars"`
	MissedCallsNotify bool                    `json:"missed_calls_notify"`
	OpenReference     bool                    `json:"open_reference"`
	CallPopupEnabled  bool                    `json:"call_popup_enabled"`
	CallPopupIsSticky bool                    `json:"call_popup_is_sticky"`
	Channels          []pbxUserChannelRequest `json:"channels"`
}

type updatePbxUserRequest struct {
	Exten             *string                  `json:"exten"`
	OriginateVars     *string                  `json:"originate_vars"`
	MissedCallsNotify *bool                    `json:"missed_calls_notify"`
	OpenReference     *bool                    `json:"open_reference"`
	CallPopupEnabled  *bool                    `json:"call_popup_enabled"`
	CallPopupIsSticky *bool                    `json:"call_popup_is_sticky"`
	Channels          *[]pbxUserChannelRequest `json:"channels"`
}

// defaultServerOr404 loads the single configured server, writing the error
// response itself when it returns nil.
func (s *Server) defaultServerOr404(w http.ResponseWriter, r *http.Request) *models.Server {
	srv, err := s.servers.GetDefault(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	if srv == nil {
		writeError(w, http.StatusNotFound, "server is not configured")
		return nil
	}
	return srv
}

func validateChannelRequest(ch pbxUserChannelRequest) string {
	if errMsg := validateRequiredStringLen("name", ch.Name, maxShortStringLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("sip_user", ch.SIPUser, maxShortStringLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("sip_password", ch.SIPPassword, maxPasswordLen); errMsg != "" {
		return errMsg
	}
	return validateStringLen("originate_context", ch.OriginateContext, maxShortStringLen)
}

// handleListPbxUsers returns all extension mappings with their channels.
func (s *Server) handleListPbxUsers(w http.ResponseWriter, r *http.Request) {
	srv := s.defaultServerOr404(w, r)
	if srv == nil {
		return
	}

	pbxUsers, err := s.pbxUsers.List(r.Context(), srv.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	items := make([]pbxUserResponse, 0, len(pbxUsers))
	for _, pu := range pbxUsers {
		channels, err := s.pbxUsers.ListChannels(r.Context(), pu.ID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		pu.Channels = channels
		items = append(items, toPbxUserResponse(pu))
	}

	writeJSON(w, http.StatusOK, items)
}

// handleCreatePbxUser maps an application user to an extension, optionally
// creating its SIP channels in the same request.
func (s *Server) handleCreatePbxUser(w http.ResponseWriter, r *http.Request) {
	srv := s.defaultServerOr404(w, r)
	if srv == nil {
		return
	}

	var req createPbxUserRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateExtensionNumber("exten", req.Exten); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	for _, ch := range req.Channels {
		if errMsg := validateChannelRequest(ch); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}

	user, err := s.users.GetByID(r.Context(), req.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusBadRequest, "user does not exist")
		return
	}

	if existing, err := s.pbxUsers.GetByExten(r.Context(), srv.ID, req.Exten); err != nil {
		s.writeServiceError(w, err)
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "extension is already taken")
		return
	}
	if existing, err := s.pbxUsers.GetByUserID(r.Context(), srv.ID, req.UserID); err != nil {
		s.writeServiceError(w, err)
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "user already has an extension")
		return
	}

	pu := &models.PbxUser{
		Exten:             req.Exten,
		UserID:            req.UserID,
		ServerID:          srv.ID,
		OriginateVars:     req.OriginateVars,
		MissedCallsNotify: req.MissedCallsNotify,
		OpenReference:     req.OpenReference,
		CallPopupEnabled:  req.CallPopupEnabled,
		CallPopupIsSticky: req.CallPopupIsSticky,
	}
	if err := s.pbxUsers.Create(r.Context(), pu); err != nil {
		s.writeServiceError(w, err)
		return
	}

	for _, ch := range req.Channels {
		channel := &models.UserChannel{
			Name:             ch.Name,
			ServerID:         srv.ID,
			PbxUserID:        pu.ID,
			SIPUser:          ch.SIPUser,
			SIPPassword:      ch.SIPPassword,
			OriginateEnabled: ch.OriginateEnabled,
			OriginateContext: ch.OriginateContext,
			AutoAnswerHeader: ch.AutoAnswerHeader,
		}
		if err := s.pbxUsers.CreateChannel(r.Context(), channel); err != nil {
			s.writeServiceError(w, err)
			return
		}
		pu.Channels = append(pu.Channels, *channel)
	}

	s.logger.Info("pbx user created", "exten", pu.Exten, "user_id", pu.UserID)
	writeJSON(w, http.StatusCreated, toPbxUserResponse(*pu))
}

// handleUpdatePbxUser modifies an extension mapping. Passing a channels
// array replaces the existing channel set.
func (s *Server) handleUpdatePbxUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pbx user id")
		return
	}

	pu, err := s.pbxUsers.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if pu == nil {
		writeError(w, http.StatusNotFound, "pbx user not found")
		return
	}

	var req updatePbxUserRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.Exten != nil && *req.Exten != pu.Exten {
		if errMsg := validateExtensionNumber("exten", *req.Exten); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		existing, err := s.pbxUsers.GetByExten(r.Context(), pu.ServerID, *req.Exten)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if existing != nil {
			writeError(w, http.StatusConflict, "extension is already taken")
			return
		}
		pu.Exten = *req.Exten
	}
	if req.OriginateVars != nil {
		pu.OriginateVars = *req.OriginateVars
	}
	if req.MissedCallsNotify != nil {
		pu.MissedCallsNotify = *req.MissedCallsNotify
	}
	if req.OpenReference != nil {
		pu.OpenReference = *req.OpenReference
	}
	if req.CallPopupEnabled != nil {
		pu.CallPopupEnabled = *req.CallPopupEnabled
	}
	if req.CallPopupIsSticky != nil {
		pu.CallPopupIsSticky = *req.CallPopupIsSticky
	}

	if err := s.pbxUsers.Update(r.Context(), pu); err != nil {
		s.writeServiceError(w, err)
		return
	}

	if req.Channels != nil {
		for _, ch := range *req.Channels {
			if errMsg := validateChannelRequest(ch); errMsg != "" {
				writeError(w, http.StatusBadRequest, errMsg)
				return
			}
		}
		existing, err := s.pbxUsers.ListChannels(r.Context(), pu.ID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		for _, ch := range existing {
			if err := s.pbxUsers.DeleteChannel(r.Context(), ch.ID); err != nil {
				s.writeServiceError(w, err)
				return
			}
		}
		for _, ch := range *req.Channels {
			channel := &models.UserChannel{
				Name:             ch.Name,
				ServerID:         pu.ServerID,
				PbxUserID:        pu.ID,
				SIPUser:          ch.SIPUser,
				SIPPassword:      ch.SIPPassword,
				OriginateEnabled: ch.OriginateEnabled,
				OriginateContext: ch.OriginateContext,
				AutoAnswerHeader: ch.AutoAnswerHeader,
			}
			if err := s.pbxUsers.CreateChannel(r.Context(), channel); err != nil {
				s.writeServiceError(w, err)
				return
			}
		}
	}

	channels, err := s.pbxUsers.ListChannels(r.Context(), pu.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	pu.Channels = channels

	writeJSON(w, http.StatusOK, toPbxUserResponse(*pu))
}

// handleDeletePbxUser removes an extension mapping. Its channels go with
// it via foreign key cascade.
func (s *Server) handleDeletePbxUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pbx user id")
		return
	}

	pu, err := s.pbxUsers.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if pu == nil {
		writeError(w, http.StatusNotFound, "pbx user not found")
		return
	}

	if err := s.pbxUsers.Delete(r.Context(), pu.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("pbx user deleted", "exten", pu.Exten, "user_id", pu.UserID)
	writeJSON(w, http.StatusOK, true)
}

type autoCreateResponse struct {
	Created int `json:"created"`
}

// handleAutoCreatePbxUsers provisions extensions for every internal user
// that does not have one yet. Extensions are allocated sequentially from
// the server's start extension and each gets a single SIP channel with a
// random password.
func (s *Server) handleAutoCreatePbxUsers(w http.ResponseWriter, r *http.Request) {
	srv := s.defaultServerOr404(w, r)
	if srv == nil {
		return
	}
	if !srv.AutoCreateUsers {
		writeError(w, http.StatusUnprocessableEntity, "auto-create is disabled for this server")
		return
	}

	startExten, err := strconv.ParseInt(srv.SIPPeerStartExten, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "server has no valid start extension")
		return
	}

	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	created := 0
	nextExten := startExten
	for _, user := range users {
		if !user.IsInternal {
			continue
		}
		existing, err := s.pbxUsers.GetByUserID(r.Context(), srv.ID, user.ID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if existing != nil {
			continue
		}

		exten, err := s.nextFreeExten(r, srv.ID, &nextExten)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}

		pu := &models.PbxUser{
			Exten:            exten,
			UserID:           user.ID,
			ServerID:         srv.ID,
			OpenReference:    true,
			CallPopupEnabled: true,
		}
		if err := s.pbxUsers.Create(r.Context(), pu); err != nil {
			s.writeServiceError(w, err)
			return
		}

		channel := &models.UserChannel{
			Name:             srv.SIPProtocol + "/" + exten,
			ServerID:         srv.ID,
			PbxUserID:        pu.ID,
			SIPUser:          exten,
			SIPPassword:      randomSIPPassword(),
			OriginateEnabled: true,
		}
		if err := s.pbxUsers.CreateChannel(r.Context(), channel); err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.logger.Info("pbx user auto-created", "exten", exten, "user_id", user.ID, "login", user.Login)
		created++
	}

	writeJSON(w, http.StatusOK, autoCreateResponse{Created: created})
}

// nextFreeExten advances the candidate counter past taken extensions and
// returns the first free one.
func (s *Server) nextFreeExten(r *http.Request, serverID int64, next *int64) (string, error) {
	for {
		exten := strconv.FormatInt(*next, 10)
		*next++
		taken, err := s.pbxUsers.GetByExten(r.Context(), serverID, exten)
		if err != nil {
			return "", err
		}
		if taken == nil {
			return exten, nil
		}
	}
}

func randomSIPPassword() string {
	buf := make([]byte, 16)
	rand.Read(buf) //nolint:errcheck
	return hex.EncodeToString(buf)
}

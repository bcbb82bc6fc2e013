package api

import (
	"net/http"
	"strings"

	"github.com/pbxlink/pbxlink/internal/call"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// dbName is the database identifier lookup requests must carry. The agent
// dialplan passes it through so a misdirected request never answers for the
// wrong instance.
const dbName = "pbxlink"

// resolveLookupPartner handles the shared gate and partner resolution of
// the agent lookup endpoints. A written=true return means a response was
// already sent.
func (s *Server) resolveLookupPartner(w http.ResponseWriter, r *http.Request) (p *models.Partner, written bool) {
	if !s.allowedIP(r) {
		writeText(w, http.StatusForbidden, "Forbidden")
		return nil, true
	}

	q := r.URL.Query()
	if q.Get("db") == "" {
		writeText(w, http.StatusOK, "db not specified")
		return nil, true
	}
	if q.Get("db") != dbName {
		writeText(w, http.StatusOK, "db does not exist")
		return nil, true
	}

	number := q.Get("number")
	if number == "" {
		writeText(w, http.StatusOK, "")
		return nil, true
	}
	number = call.FormatNumber(number, q.Get("country"))

	partner, err := s.partners.SearchByNumber(r.Context(), number)
	if err != nil {
		s.logger.Error("partner lookup failed", "number", number, "error", err)
		writeText(w, http.StatusOK, "Error")
		return nil, true
	}
	return partner, false
}

// handleGetCallerName resolves a calling number to a partner name for the
// agent's caller-id dialplan hook. Empty body when nothing matches.
func (s *Server) handleGetCallerName(w http.ResponseWriter, r *http.Request) {
	partner, written := s.resolveLookupPartner(w, r)
	if written {
		return
	}
	if partner == nil {
		writeText(w, http.StatusOK, "")
		return
	}
	writeText(w, http.StatusOK, partner.Name)
}

// handleGetCallerTags resolves a calling number to the partner's tags,
// comma-joined.
func (s *Server) handleGetCallerTags(w http.ResponseWriter, r *http.Request) {
	partner, written := s.resolveLookupPartner(w, r)
	if written {
		return
	}
	if partner == nil {
		writeText(w, http.StatusOK, "")
		return
	}
	writeText(w, http.StatusOK, partner.Tags)
}

// handleGetPartnerManager resolves a calling number to the dial string of
// the partner's account manager, so inbound calls can be routed straight
// to them. Originate-enabled channels joined by "&", falling back to the
// manager's extension.
func (s *Server) handleGetPartnerManager(w http.ResponseWriter, r *http.Request) {
	partner, written := s.resolveLookupPartner(w, r)
	if written {
		return
	}
	if partner == nil || partner.UserID == nil {
		writeText(w, http.StatusOK, "")
		return
	}

	ctx := r.Context()
	srv, err := s.servers.GetDefault(ctx)
	if err != nil || srv == nil {
		if err != nil {
			s.logger.Error("partner manager lookup: loading server failed", "error", err)
			writeText(w, http.StatusOK, "Error")
			return
		}
		writeText(w, http.StatusOK, "")
		return
	}

	pu, err := s.pbxUsers.GetByUserID(ctx, srv.ID, *partner.UserID)
	if err != nil {
		s.logger.Error("partner manager lookup failed", "user_id", *partner.UserID, "error", err)
		writeText(w, http.StatusOK, "Error")
		return
	}
	if pu == nil {
		writeText(w, http.StatusOK, "")
		return
	}

	channels, err := s.pbxUsers.ListOriginateChannels(ctx, pu.ID)
	if err != nil {
		s.logger.Error("partner manager lookup: listing channels failed", "pbx_user_id", pu.ID, "error", err)
		writeText(w, http.StatusOK, "Error")
		return
	}
	if len(channels) == 0 {
		writeText(w, http.StatusOK, pu.Exten)
		return
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name)
	}
	writeText(w, http.StatusOK, strings.Join(names, "&"))
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

func TestAgentCallbackDispatch(t *testing.T) {
	env := newTestEnv(t)

	var called atomic.Int64
	var gotResult string
	env.registry.Register("echo", "store", func(_ agent.SystemContext, result json.RawMessage, _ map[string]any) error {
		called.Add(1)
		gotResult = string(result)
		return nil
	})

	body := map[string]any{
		"res_model":  "echo",
		"res_method": "store",
		"result":     map[string]string{"Response": "Success"},
		"pass_back":  map[string]any{"notify_uid": 7},
		"fun":        "asterisk.manager_action",
	}
	rr := env.do(t, http.MethodPost, "/pbxlink/agent/callback", "", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "true" {
		t.Errorf("expected body true, got %q", got)
	}
	if called.Load() != 1 {
		t.Fatalf("expected callback invoked once, got %d", called.Load())
	}
	if !strings.Contains(gotResult, "Success") {
		t.Errorf("callback did not receive result payload: %q", gotResult)
	}
}

func TestAgentCallbackUnknownTargetStillOK(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"res_model": "nobody", "res_method": "home", "result": true}
	rr := env.do(t, http.MethodPost, "/pbxlink/agent/callback", "", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown target, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "true" {
		t.Errorf("expected body true, got %q", got)
	}
}

func TestAgentCallbackBadRequest(t *testing.T) {
	env := newTestEnv(t)

	// Missing res_model/res_method.
	rr := env.do(t, http.MethodPost, "/pbxlink/agent/callback", "", map[string]any{"result": 1})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing target, got %d", rr.Code)
	}

	// Not JSON at all.
	req := newRawRequest(t, http.MethodPost, "/pbxlink/agent/callback", "{not json")
	rr = serveRaw(env, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestAgentInitFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No server configured.
	rr := env.do(t, http.MethodGet, "/pbxlink/agent", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without server, got %d", rr.Code)
	}

	env.createServer(t, func(srv *models.Server) {
		srv.AgentInitializationOpen = true
	})

	// Not registered yet.
	rr = env.do(t, http.MethodGet, "/pbxlink/agent", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before registration, got %d", rr.Code)
	}

	env.sysConfig.Set(ctx, database.ConfKeyIsRegistered, "true")
	env.sysConfig.Set(ctx, database.ConfKeyIsSubscribed, "true")
	env.sysConfig.Set(ctx, database.ConfKeyBaseURL, "https://crm.example.com")
	env.sysConfig.Set(ctx, database.ConfKeyAPIKey, "key-123")
	env.sysConfig.Set(ctx, database.ConfKeyInstanceUID, "uid-456")

	rr = env.do(t, http.MethodGet, "/pbxlink/agent", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on first init, got %d (%s)", rr.Code, rr.Body.String())
	}
	var resp struct {
		APIURL      string `json:"api_url"`
		APIKey      string `json:"api_key"`
		InstanceUID string `json:"instance_uid"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding init response: %v", err)
	}
	if resp.APIURL != "https://crm.example.com" || resp.APIKey != "key-123" || resp.InstanceUID != "uid-456" {
		t.Errorf("unexpected init payload: %+v", resp)
	}

	// Replay is rejected and the window stays closed.
	rr = env.do(t, http.MethodGet, "/pbxlink/agent", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on replay, got %d", rr.Code)
	}

	srv, err := env.servers.GetDefault(ctx)
	if err != nil || srv == nil {
		t.Fatalf("loading server: %v", err)
	}
	if !srv.AgentInitialized || srv.AgentInitializationOpen {
		t.Errorf("initialization flags not flipped: initialized=%v open=%v",
			srv.AgentInitialized, srv.AgentInitializationOpen)
	}
}

func TestSIPPeers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	srv := env.createServer(t, func(srv *models.Server) {
		srv.GenerateSIPPeers = true
		srv.SIPPeerTemplate = "[{{.SIPUser}}]\nsecret={{.SIPPassword}}\ncallerid={{.Exten}}"
	})

	agentUser := env.createUser(t, "alice", "alicepass1", true)
	pu := &models.PbxUser{Exten: "101", UserID: agentUser.ID, ServerID: srv.ID}
	if err := env.pbxUsers.Create(ctx, pu); err != nil {
		t.Fatalf("creating pbx user: %v", err)
	}
	if err := env.pbxUsers.CreateChannel(ctx, &models.UserChannel{
		Name: "PJSIP/101", ServerID: srv.ID, PbxUserID: pu.ID,
		SIPUser: "101", SIPPassword: "s3cret",
	}); err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	// Channel without a password is omitted from the rendered config.
	if err := env.pbxUsers.CreateChannel(ctx, &models.UserChannel{
		Name: "PJSIP/101-b", ServerID: srv.ID, PbxUserID: pu.ID, SIPUser: "101b",
	}); err != nil {
		t.Fatalf("creating channel: %v", err)
	}

	// Missing token.
	rr := env.do(t, http.MethodGet, "/pbxlink/sip_peers", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", rr.Code)
	}

	req := newRawRequest(t, http.MethodGet, "/pbxlink/sip_peers", "")
	req.Header.Set("x-security-token", srv.SecurityToken)
	rr = serveRaw(env, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "[101]") || !strings.Contains(body, "secret=s3cret") {
		t.Errorf("rendered peers missing expected stanza: %q", body)
	}
	if strings.Contains(body, "101b") {
		t.Errorf("channel without password should be skipped: %q", body)
	}
}

func TestSIPPeersDisabled(t *testing.T) {
	env := newTestEnv(t)

	srv := env.createServer(t, nil)

	req := newRawRequest(t, http.MethodGet, "/pbxlink/sip_peers", "")
	req.Header.Set("x-security-token", srv.SecurityToken)
	rr := serveRaw(env, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when generation disabled, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "SIP peer generation is disabled" {
		t.Errorf("unexpected body: %q", got)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(t *testing.T, origins []string) http.Handler {
	t.Helper()
	return CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func corsRequest(handler http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCORSAllowedOriginSetsHeaders(t *testing.T) {
	handler := corsHandler(t, []string{"https://crm.example.com"})

	rr := corsRequest(handler, "https://crm.example.com")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://crm.example.com" {
		t.Fatalf("Allow-Origin = %q, want the CRM origin", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary = %q, want Origin", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Allow-Credentials = %q, want true", got)
	}
}

func TestCORSDisallowedOriginNoHeaders(t *testing.T) {
	handler := corsHandler(t, []string{"https://crm.example.com"})

	rr := corsRequest(handler, "https://rogue.example.net")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin got Allow-Origin %q", got)
	}
}

func TestCORSWildcardAllowsAny(t *testing.T) {
	handler := corsHandler(t, []string{"*"})

	rr := corsRequest(handler, "https://anything.example.net")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin = %q, want *", got)
	}
	// The wildcard response is origin-independent, so no Vary.
	if got := rr.Header().Get("Vary"); got != "" {
		t.Fatalf("Vary = %q, want none for wildcard", got)
	}
}

func TestCORSPreflightReturns204(t *testing.T) {
	handler := CORS([]string{"https://crm.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/calls/originate", nil)
	req.Header.Set("Origin", "https://crm.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight reply is missing Allow-Methods")
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "300" {
		t.Fatalf("Max-Age = %q, want 300", got)
	}
}

func TestCORSNoOriginHeaderNoHeaders(t *testing.T) {
	handler := corsHandler(t, []string{"https://crm.example.com"})

	// Same-origin and curl-style requests carry no Origin header.
	rr := corsRequest(handler, "")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("request without Origin got Allow-Origin %q", got)
	}
}

func TestCORSEmptyOriginsDisablesCORS(t *testing.T) {
	handler := corsHandler(t, nil)

	rr := corsRequest(handler, "https://crm.example.com")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("empty origin list got Allow-Origin %q", got)
	}
}

func TestCORSMultipleOrigins(t *testing.T) {
	handler := corsHandler(t, []string{"https://crm.example.com", "https://staging.example.com"})

	for _, origin := range []string{"https://crm.example.com", "https://staging.example.com"} {
		rr := corsRequest(handler, origin)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("Allow-Origin = %q, want %q", got, origin)
		}
	}
}

func TestParseCORSOrigins(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"single", "https://crm.example.com", []string{"https://crm.example.com"}},
		{"wildcard", "*", []string{"*"}},
		{"multiple with spaces", "https://a.example.com, https://b.example.com , https://c.example.com",
			[]string{"https://a.example.com", "https://b.example.com", "https://c.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCORSOrigins(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseCORSOrigins(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ParseCORSOrigins(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

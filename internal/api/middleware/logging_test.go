package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func loggedRequest(t *testing.T, handler http.Handler, method, path string) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	buf := captureLog(t)

	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing log output: %v", err)
	}
	return entry, rr
}

func TestStructuredLoggerDefaultStatus(t *testing.T) {
	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	entry, rr := loggedRequest(t, handler, http.MethodGet, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	if entry["method"] != "GET" || entry["path"] != "/api/v1/health" {
		t.Fatalf("request fields = %v %v", entry["method"], entry["path"])
	}
	// JSON numbers decode as float64.
	if entry["status"] != float64(200) {
		t.Fatalf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Fatal("duration_ms missing from log output")
	}
}

func TestStructuredLoggerExplicitStatus(t *testing.T) {
	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	entry, rr := loggedRequest(t, handler, http.MethodGet, "/api/v1/recordings/9999")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if entry["path"] != "/api/v1/recordings/9999" || entry["status"] != float64(404) {
		t.Fatalf("logged %v %v, want path and 404", entry["path"], entry["status"])
	}
}

func TestStructuredLoggerDoubleWriteHeader(t *testing.T) {
	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusInternalServerError) // Ignored.
	}))

	entry, _ := loggedRequest(t, handler, http.MethodPost, "/api/v1/pbx-users")
	if entry["status"] != float64(201) {
		t.Fatalf("status = %v, want the first write (201)", entry["status"])
	}
}

func TestWrapResponseWriter(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())
	if w.status != http.StatusOK {
		t.Fatalf("default status = %d, want 200", w.status)
	}

	w.WriteHeader(http.StatusBadRequest)
	if w.status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.status)
	}
}

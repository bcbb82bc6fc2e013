package notify

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestClient(t *testing.T, hub *Hub, uid int64) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, uid)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Wait for the hub to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(uid) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func TestNotifyDeliversToConnectedClient(t *testing.T) {
	hub := NewHub(slog.Default())
	conn := dialTestClient(t, hub, 42)

	hub.Notify(42, "Call failed", "Call to 101 failed: busy", true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading notification: %v", err)
	}
	if msg.Title != "Call failed" || !msg.Warning {
		t.Errorf("message = %+v", msg)
	}
}

func TestNotifyWithoutClientsIsSilent(t *testing.T) {
	hub := NewHub(slog.Default())
	// Must not panic or block.
	hub.Notify(7, "Ping", "pong", false)
	if hub.ClientCount(7) != 0 {
		t.Error("phantom client registered")
	}
}

func TestNotifyOnlyTargetsOwner(t *testing.T) {
	hub := NewHub(slog.Default())
	alice := dialTestClient(t, hub, 1)
	bob := dialTestClient(t, hub, 2)

	hub.Notify(1, "Hello", "for alice", false)

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := alice.ReadJSON(&msg); err != nil {
		t.Fatalf("alice read: %v", err)
	}
	if msg.Message != "for alice" {
		t.Errorf("alice got %+v", msg)
	}

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if err := bob.ReadJSON(&msg); err == nil {
		t.Errorf("bob unexpectedly received %+v", msg)
	}
}

func TestClientUnregisteredOnClose(t *testing.T) {
	hub := NewHub(slog.Default())
	conn := dialTestClient(t, hub, 9)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(9) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

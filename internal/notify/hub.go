package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Message is a realtime notification delivered to a user's connected
// clients.
type Message struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
	SentAt  string `json:"sent_at"`
}

// client is one websocket connection belonging to a user.
type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub fans notifications out to each user's connected websocket clients.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an empty notification hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("subsystem", "notify"),
	}
}

// ServeWS upgrades the request to a websocket and registers it for the
// given user until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, uid int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "uid", uid, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBufferSize)}
	h.register(uid, c)
	h.logger.Debug("client connected", "uid", uid)

	go h.writePump(uid, c)
	h.readPump(uid, c)
}

// Notify delivers a message to every connected client of the user. Users
// with no connected clients only get a log line.
func (h *Hub) Notify(uid int64, title, message string, warning bool) {
	msg := Message{
		Title:   title,
		Message: message,
		Warning: warning,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.RLock()
	clients := h.clients[uid]
	if len(clients) == 0 {
		h.mu.RUnlock()
		h.logger.Info("notification with no connected clients",
			"uid", uid, "title", title, "message", message)
		return
	}
	for c := range clients {
		select {
		case c.send <- msg:
		default:
			// Slow client; drop the message rather than block.
			h.logger.Warn("client send buffer full, dropping notification", "uid", uid)
		}
	}
	h.mu.RUnlock()
}

// TotalClients returns the number of connected clients across all users.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// ClientCount returns the number of connected clients for a user.
func (h *Hub) ClientCount(uid int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[uid])
}

func (h *Hub) register(uid int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[uid] == nil {
		h.clients[uid] = make(map[*client]struct{})
	}
	h.clients[uid][c] = struct{}{}
}

func (h *Hub) unregister(uid int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[uid]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.clients, uid)
			}
		}
	}
}

// readPump consumes (and discards) inbound frames so pongs and close
// frames are processed.
func (h *Hub) readPump(uid int64, c *client) {
	defer func() {
		h.unregister(uid, c)
		c.conn.Close()
		h.logger.Debug("client disconnected", "uid", uid)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes outbound messages and keepalive pings.
func (h *Hub) writePump(uid int64, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("write to client failed", "uid", uid, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

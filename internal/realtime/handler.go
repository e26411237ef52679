package realtime

import (
	"log/slog"
	"net/http"
	"time"

	gw "github.com/gorilla/websocket"

	"github.com/ariefcatur/go-digital-store/internal/auth"
)

type Conn = gw.Conn

type Handler struct {
	hub      *Hub
	auth     *auth.Verifier
	upgrader gw.Upgrader
	log      *slog.Logger
}

// NewHandler serves the notification socket. An empty origins list accepts
// any origin.
func NewHandler(hub *Hub, verifier *auth.Verifier, origins []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub:  hub,
		auth: verifier,
		log:  log,
		upgrader: gw.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 || allowed["*"] {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Parse(auth.TokenFrom(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{userID: u.ID, conn: conn, send: make(chan []byte, 64)}
	c.send <- []byte(`{"type":"ready"}`)
	select {
	case h.hub.register <- c:
	case <-h.hub.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(h.hub)
}

func (c *client) readPump(hub *Hub) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}

// Package realtime pushes notifications to the browsers of signed-in users
// over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Message is the frame written to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type outbound struct {
	userID string
	body   []byte
}

type client struct {
	userID string
	conn   *Conn
	send   chan []byte
}

type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	clients    map[string]map[*client]bool
	done       chan struct{}
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, 256),
		clients:    make(map[string]map[*client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*client]bool)
				h.clients[c.userID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case m := <-h.broadcast:
			for c := range h.clients[m.userID] {
				select {
				case c.send <- m.body:
				default:
					// slow reader
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[string]map[*client]bool{}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.userID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// Send queues a notification for every connection of userID. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Send(userID string, v any) {
	body, err := json.Marshal(Message{Type: "notification", Data: v})
	if err != nil {
		h.log.Error("encode realtime message", "user_id", userID, "err", err)
		return
	}
	select {
	case h.broadcast <- outbound{userID: userID, body: body}:
	default:
		h.log.Warn("realtime queue full, dropping message", "user_id", userID)
	}
}

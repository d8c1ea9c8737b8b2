// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
)

const (
	TypeSnapshot = "snapshot"
	TypeAlert    = "alert"
)

// Message is the envelope of everything pushed to dashboard clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode marshals a message envelope.
func Encode(typ string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Payload: payload})
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.With("component", "websocket"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("websocket: client registered", "client", client.ID, "remote", client.RemoteAddr())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Info("websocket: client unregistered", "client", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// slow consumer
					h.logger.Warn("websocket: send buffer full, dropping client", "client", client.ID)
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register hands a client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastSnapshot pushes an engine snapshot to all clients.
func (h *Hub) BroadcastSnapshot(snapshot any) {
	h.publish(TypeSnapshot, snapshot)
}

// BroadcastAlert sends an alert message to all clients
func (h *Hub) BroadcastAlert(alert data.Alert) {
	h.publish(TypeAlert, alert)
}

func (h *Hub) publish(typ string, payload any) {
	message, err := Encode(typ, payload)
	if err != nil {
		h.logger.Error("websocket: encode failed", "type", typ, "error", err)
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Package websocket streams auth events to connected administrators.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"go-auth-service/internal/event"
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	bus        event.Bus
}

func NewHub(bus event.Bus) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		bus:        bus,
	}
}

// Run broadcasts every bus event to the connected clients until ctx ends.
// A client that cannot keep up is disconnected. Run must be called at most
// once.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			slog.Debug("audit stream client connected", "user_id", client.userID, "clients", len(h.clients))
		case client := <-h.unregister:
			h.drop(client)
		case e, ok := <-events:
			if !ok {
				return
			}
			message, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to marshal event", "error", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					slog.Warn("audit stream client too slow, disconnecting", "user_id", client.userID)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		h.drop(client)
	}
}

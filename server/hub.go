// Package server exposes the orchestrator's HTTP API and the websocket
// channel that pushes budget alerts and progress events to dashboards.
package server

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signalpress/signalpress/logger"
)

// Event is one message pushed to websocket clients
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Hub fans events out to connected websocket clients. Slow clients are
// dropped rather than allowed to block the broadcast path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	logger *zap.SugaredLogger
}

// NewHub creates a websocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		logger:     logger.Named("ws"),
	}
}

// Run processes registration and broadcast until the channel closes
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debugw("Websocket client connected", "clients", h.clientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debugw("Websocket client disconnected", "clients", h.clientCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client buffer full: drop it, never block the hub
					go func(c *Client) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts one event to all clients. Non-blocking: if the hub's
// buffer is full the event is dropped with a log line.
func (h *Hub) Publish(eventType string, payload interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now(), Payload: payload}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorw("Failed to encode event", "type", eventType, "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warnw("Event dropped, broadcast buffer full", "type", eventType)
	}
}

// The hub doubles as an alert sink so budget and failure alerts reach
// connected dashboards.

func (h *Hub) BudgetWarning(sessionID string, spent, ceiling float64) {
	h.Publish("budget_warning", map[string]interface{}{
		"session_id":  sessionID,
		"spent_usd":   spent,
		"ceiling_usd": ceiling,
	})
}

func (h *Hub) BudgetCritical(sessionID string, spent, ceiling float64) {
	h.Publish("budget_critical", map[string]interface{}{
		"session_id":  sessionID,
		"spent_usd":   spent,
		"ceiling_usd": ceiling,
	})
}

func (h *Hub) SessionFailed(sessionID string, reason string) {
	h.Publish("session_failed", map[string]interface{}{
		"session_id": sessionID,
		"reason":     reason,
	})
}

func (h *Hub) RunFailed(runID string, publicationType string, reason string) {
	h.Publish("run_failed", map[string]interface{}{
		"run_id":           runID,
		"publication_type": publicationType,
		"reason":           reason,
	})
}

package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// EventCreditsUpdated is sent on every ledger movement.
const EventCreditsUpdated = "credits_updated"

// Message is one realtime event delivered to an account's connections.
type Message struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Hub tracks live connections per account and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to its account's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.accountID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.accountID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.accountID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.accountID)
		}
	}
	h.mu.Unlock()
}

// Publish sends an event to every connection of accountID. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Publish(accountID int64, eventType string, payload any) {
	data, err := json.Marshal(Message{Type: eventType, Data: payload, At: time.Now().UTC()})
	if err != nil {
		h.logger.Error("marshal event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[accountID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, event dropped", "account_id", accountID, "type", eventType)
		}
	}
}

// BalanceChanged forwards ledger movements to the account's connections.
func (h *Hub) BalanceChanged(accountID, delta int64, reason string) {
	h.Publish(accountID, EventCreditsUpdated, map[string]any{"delta": delta, "reason": reason})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

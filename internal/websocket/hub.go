package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// BalanceUpdate is pushed to an account owner after a ledger mutation commits.
type BalanceUpdate struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
	Event     string `json:"event"`
}

// Hub fans balance updates out to every open connection of a user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// BroadcastBalance never blocks: a client whose buffer is full misses the update.
func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		slog.Error("encode balance update", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			slog.Debug("dropping balance update for slow client", "user_id", userID, "account_id", update.AccountID)
		}
	}
}

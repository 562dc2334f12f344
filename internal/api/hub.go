package api

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"sportfolio/internal/store"
)

// Hub maintains active WebSocket connections and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// Typed broadcast shapes. TradeExecuted and BookUpdated satisfy the
// matching engine's Broadcaster interface.

func (h *Hub) TradeExecuted(t *store.Trade) {
	h.Broadcast(map[string]interface{}{
		"type":     "trade",
		"playerId": t.PlayerID,
		"quantity": t.Quantity,
		"price":    t.Price,
	})
	h.Broadcast(map[string]interface{}{"type": "marketActivity"})
}

func (h *Hub) BookUpdated(playerID int64) {
	h.Broadcast(map[string]interface{}{
		"type":     "orderBook",
		"playerId": playerID,
	})
}

func (h *Hub) PortfolioChanged(userID string, balance int64) {
	h.Broadcast(map[string]interface{}{
		"type":    "portfolio",
		"userId":  userID,
		"balance": balance,
	})
}

func (h *Hub) GameUpdated(gameID int64) {
	h.Broadcast(map[string]interface{}{
		"type":   "liveStats",
		"gameId": gameID,
	})
}

func (h *Hub) ContestUpdated(contestID string) {
	h.Broadcast(map[string]interface{}{
		"type":      "contestUpdate",
		"contestId": contestID,
	})
}

func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Incoming client messages are ignored; the socket is broadcast-only.
	}
}

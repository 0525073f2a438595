package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const WRITE_DEADLINE = 10 * time.Second

type Client struct {
	conn      *websocket.Conn
	accountID string
	mu        sync.Mutex
}

// Hub fans round feed messages out to every connected websocket client.
// Round progression never depends on it: the coordinator advances on
// server time whether or not anyone is connected.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan WSMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WSMessage, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (Total: %d)", client.accountID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.accountID, len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				go client.send(data) // non-blocking fan-out
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a message for every client. Drops on backpressure;
// the feed is advisory, the engine is the source of truth.
func (h *Hub) Broadcast(message WSMessage) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("[WS] Broadcast channel full, dropping message")
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(WRITE_DEADLINE))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error for %s: %v", c.accountID, err)
	}
}

// SendSnapshot pushes the current round view to a single client, used on
// connect and reconnect so it can resync from one authoritative value.
func (c *Client) SendSnapshot(snap Snapshot) {
	data, err := json.Marshal(WSMessage{Type: "snapshot", Data: snap})
	if err != nil {
		return
	}
	c.send(data)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, accountID string) *Client {
	client := &Client{
		conn:      conn,
		accountID: accountID,
	}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			h.unregister <- client
			return
		}
	}
	h.mu.RUnlock()
}

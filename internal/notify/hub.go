// Package notify pushes per-user events to websocket subscribers.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	// sendBuffer is how many events may queue for one connection before
	// Publish gives up on it
	sendBuffer = 16
)

// WSClient is one websocket connection. Only writeLoop writes to conn.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *WSClient {
	return &WSClient{conn: conn, send: make(chan []byte, sendBuffer)}
}

// writeLoop drains send until the hub closes it, then says goodbye and
// closes the connection
func (c *WSClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
}

// Hub tracks live connections per user
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[int64]map[*WSClient]bool
}

// NewHub creates a hub. checkOrigin nil accepts every origin.
func NewHub(checkOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		log:      log,
		clients:  make(map[int64]map[*WSClient]bool),
	}
}

// Serve upgrades the request and keeps the connection registered for
// userID until the peer goes away. Inbound messages are discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(conn)
	h.add(userID, client)
	go client.writeLoop()
	defer h.remove(userID, client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish queues v as JSON for every connection of userID without
// waiting on the network. A connection whose queue is full is dropped.
func (h *Hub) Publish(userID int64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	var slow []*WSClient
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Debug("dropping slow subscriber", zap.Int64("user_id", userID))
		h.remove(userID, c)
	}
}

// Subscribers returns the number of live connections for userID
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects everyone
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) add(userID int64, c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*WSClient]bool)
		h.clients[userID] = set
	}
	set[c] = true
}

func (h *Hub) remove(userID int64, c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	if !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// Package feed pushes committed exchange events to WebSocket clients.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/resourceswap/internal/models"
)

const writeWait = 5 * time.Second

// Message types on the wire
const (
	TypeSnapshot = "snapshot"
	TypeEvent    = "event"
)

// Message is the envelope written to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected clients and broadcasts events to all of them
type Hub struct {
	log      logrus.FieldLogger
	snapshot func() interface{}
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub. snapshot, when set, is sent to each client on connect.
func NewHub(log logrus.FieldLogger, snapshot func() interface{}) *Hub {
	return &Hub{
		log:      log,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		clients: make(map[*client]bool),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run broadcasts events until ctx is done or events is closed, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, events <-chan models.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(Message{Type: TypeEvent, Data: ev})
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal feed message")
		return
	}

	var failed []*client
	h.mu.RLock()
	for c := range h.clients {
		if err := c.write(data); err != nil {
			h.log.WithError(err).Debug("failed to send feed message")
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range failed {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		c.conn.Close()
	}
}

func (h *Hub) sendSnapshot(conn *websocket.Conn) error {
	if h.snapshot == nil {
		return nil
	}
	data, err := json.Marshal(Message{Type: TypeSnapshot, Data: h.snapshot()})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ServeHTTP upgrades the connection, sends the snapshot and keeps the client
// registered until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	// The client stays locked until its snapshot is written so that no
	// broadcast overtakes it.
	c := &client{conn: conn}
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	defer h.remove(c)

	err = h.sendSnapshot(conn)
	c.mu.Unlock()
	if err != nil {
		h.log.WithError(err).Debug("failed to send snapshot")
		return
	}

	// Clients only listen; reading detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

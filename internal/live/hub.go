package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/septivank/sensor-rollup/internal/mq"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// EventRunCompleted is the message type sent after each aggregation run
const EventRunCompleted = "rollup.run.completed"

// Message is the envelope written to dashboard clients
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	// gorilla connections allow one concurrent writer
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub keeps track of dashboard websocket connections and fans run events out to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates an empty hub. checkOrigin may be nil to accept every origin.
func NewHub(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// Register adds a connection and returns its id
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.New().String()
	h.mu.Lock()
	h.clients[id] = &client{conn: conn}
	h.mu.Unlock()
	return id
}

// Unregister closes and removes a connection
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		_ = c.conn.Close()
		delete(h.clients, id)
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast writes payload to every client and drops those that fail.
// It returns the number of clients reached.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	targets := make(map[string]*client, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c
	}
	h.mu.RUnlock()

	delivered := 0
	for id, c := range targets {
		if err := c.write(payload); err != nil {
			h.logger.Debug("dropping websocket client", zap.String("client_id", id), zap.Error(err))
			h.Unregister(id)
			continue
		}
		delivered++
	}
	return delivered
}

// NotifyRunCompleted broadcasts a run event to every dashboard
func (h *Hub) NotifyRunCompleted(ctx context.Context, event mq.RunCompletedEvent) error {
	payload, err := json.Marshal(Message{Type: EventRunCompleted, Data: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	n := h.Broadcast(payload)
	h.logger.Debug("run event broadcast", zap.String("run_id", event.RunID), zap.Int("clients", n))
	return nil
}

// ServeHTTP upgrades the request and keeps the connection registered until the
// client goes away. Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := h.Register(conn)
	h.logger.Debug("dashboard connected", zap.String("client_id", id))
	defer func() {
		h.Unregister(id)
		h.logger.Debug("dashboard disconnected", zap.String("client_id", id))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", id), zap.Error(err))
			}
			return
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
		delete(h.clients, id)
	}
}

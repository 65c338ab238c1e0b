// Package realtime is a notification-only gorilla/websocket hub that
// broadcasts commit/merge/rebase/artifact events to subscribers of a
// database's branches (SPEC_FULL §6.4). It is fire-and-forget: a slow
// subscriber is dropped rather than backpressuring a commit, and it never
// participates in the transactional guarantees of the versioning engine.
// Grounded on the teacher's internal/websocket Hub/Client pattern.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType is the closed set of realtime notifications.
type EventType string

const (
	EventCommit   EventType = "commit"
	EventMerge    EventType = "merge"
	EventRebase   EventType = "rebase"
	EventArtifact EventType = "artifact"
)

// Event is one notification broadcast to a database's subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Database  string    `json:"database"`
	Branch    string    `json:"branch,omitempty"`
	CommitHash string   `json:"commit_hash,omitempty"`
	ArtifactID string   `json:"artifact_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one connected WebSocket subscriber, scoped to a database.
type Client struct {
	id       string
	database string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
}

// Hub manages subscriber connections and event broadcasting, one per
// server process (not per database — Event.Database filters delivery).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
}

// NewHub builds a Hub. Call Run in its own goroutine to start it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		logger:     logger,
	}
}

// Run drives the hub's register/unregister/broadcast loop. It returns
// when the register channel is closed; Hub has no Close method, so it
// otherwise runs for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case c, ok := <-h.register:
			if !ok {
				return
			}
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("marshal realtime event failed", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for _, c := range h.clients {
				if c.database != ev.Database {
					continue
				}
				select {
				case c.send <- payload:
				default:
					// Slow subscriber: drop the event rather than
					// block the broadcaster (SPEC_FULL §6.4).
					h.logger.Debug("dropping realtime event for slow subscriber", zap.String("client", c.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish enqueues ev for broadcast. Non-blocking best-effort; if the
// internal broadcast channel is full the event is dropped and logged.
func (h *Hub) Publish(ev Event) {
	ev.Timestamp = ev.Timestamp.UTC()
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("realtime broadcast channel full, dropping event", zap.String("type", string(ev.Type)), zap.String("database", ev.Database))
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeWS upgrades an HTTP request to a WebSocket subscriber of database's
// events (spec.md §6.4 "/databases/{db}/events").
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, database string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &Client{
		id:       conn.RemoteAddr().String() + "-" + database,
		database: database,
		conn:     conn,
		send:     make(chan []byte, 64),
		hub:      h,
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
	return nil
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump drains and discards client frames; subscribers are
// receive-only, but the read loop must run to process control frames
// (ping/pong/close) and detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

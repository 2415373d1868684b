package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/dockpulse/pkg/config"
	"github.com/nicktill/dockpulse/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (non-browser clients)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// SnapshotMessage is what live clients receive after every publication.
type SnapshotMessage struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Count     int                `json:"count"`
	Stations  []telemetry.Record `json:"stations"`
}

func newSnapshotMessage(records []telemetry.Record, now time.Time) SnapshotMessage {
	if records == nil {
		records = []telemetry.Record{}
	}
	return SnapshotMessage{
		Type:      "snapshot",
		Timestamp: now.Unix(),
		Count:     len(records),
		Stations:  records,
	}
}

// Hub fans published snapshots out to websocket clients. Clients are added
// and removed under the lock by the goroutine that owns the connection event,
// so no path waits on the broadcast loop.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	closed    bool
	logger    *slog.Logger

	mu sync.RWMutex
}

// NewHub creates a new websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, config.WSBroadcastBuffer),
		logger:    logger.With("component", "ws-hub"),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.closed = true
			h.mu.Unlock()
			return
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn("websocket write failed", "error", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

// add registers conn for broadcasts. It reports false once the hub stopped.
func (h *Hub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected", "clients", count)
	return true
}

// remove drops and closes conn. Removing an unknown connection is a no-op.
func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("websocket client disconnected", "clients", count)
	}
}

// Publish queues a snapshot for every connected client. It never blocks:
// when the queue is full or nobody listens the snapshot is dropped.
func (h *Hub) Publish(records []telemetry.Record) {
	if !h.HasClients() {
		return
	}

	message, err := json.Marshal(newSnapshotMessage(records, time.Now()))
	if err != nil {
		h.logger.Error("failed to encode snapshot message", "error", err)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping snapshot")
	}
}

// HasClients returns true if there are any connected websocket clients.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request, sends the current snapshot and then
// registers the connection for live updates.
func (h *Hub) HandleWebSocket(current func() []telemetry.Record) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		// Not registered yet, so this is the only writer.
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteJSON(newSnapshotMessage(current(), time.Now())); err != nil {
			h.logger.Warn("failed to send initial snapshot", "error", err)
			conn.Close()
			return
		}

		if !h.add(conn) {
			conn.Close()
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// WriteControl may run concurrently with the hub's writes.
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					deadline := time.Now().Add(config.WSWriteDeadline)
					if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			h.remove(conn)
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket error", "error", err)
				}
				break
			}
		}
	}
}

// Package statusapi exposes a read-only HTTP view over a running batch:
// liveness, Prometheus exposition, a point-in-time per-cluster snapshot,
// and a WebSocket stream of status-change events, fed by the batch
// runner (C10) as it drives clusters through the pipeline.
package statusapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClusterStatusEvent is one cluster's status transition, pushed to every
// subscriber of its batch.
type ClusterStatusEvent struct {
	BatchID   string    `json:"batch_id"`
	ClusterID string    `json:"cluster_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans batch.Runner status transitions out to WebSocket subscribers,
// filtered per batch so a client watching batch-7 never sees batch-8's
// traffic. It implements batch.EventPublisher structurally.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool // batch_id -> conns

	broadcast  chan ClusterStatusEvent
	register   chan subscription
	unregister chan *websocket.Conn

	logger *slog.Logger
}

type subscription struct {
	batchID string
	conn    *websocket.Conn
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*websocket.Conn]bool),
		broadcast:  make(chan ClusterStatusEvent, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Run drives the hub's event loop until ctx is cancelled. Call it once,
// in its own goroutine, before the batch runner starts publishing.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case sub := <-h.register:
			h.mu.Lock()
			if h.clients[sub.batchID] == nil {
				h.clients[sub.batchID] = make(map[*websocket.Conn]bool)
			}
			h.clients[sub.batchID][sub.conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			for batchID, conns := range h.clients {
				if conns[conn] {
					delete(conns, conn)
					conn.Close()
					if len(conns) == 0 {
						delete(h.clients, batchID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			conns := h.clients[event.BatchID]
			targets := make([]*websocket.Conn, 0, len(conns))
			for c := range conns {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				go h.send(c, event)
			}
		}
	}
}

func (h *Hub) send(conn *websocket.Conn, event ClusterStatusEvent) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Warn("status stream write failed, dropping subscriber", "error", err)
		h.unregister <- conn
	}
}

// Publish implements batch.EventPublisher. It never blocks: a full
// broadcast channel drops the event and logs rather than stall the
// calling pipeline goroutine.
func (h *Hub) Publish(batchID, clusterID, status string) {
	event := ClusterStatusEvent{BatchID: batchID, ClusterID: clusterID, Status: status, Timestamp: time.Now()}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("status stream broadcast channel full, dropping event", "batch_id", batchID, "cluster_id", clusterID)
	}
}

// HandleStream upgrades the request to a WebSocket and subscribes the
// connection to batch_id's events until the client disconnects.
func (h *Hub) HandleStream(batchID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("status stream upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
			return
		}
		h.register <- subscription{batchID: batchID, conn: conn}
		go h.readPump(conn)
	}
}

// readPump keeps the connection alive with pings and detects client
// disconnects; guard never expects inbound client messages on this
// stream.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for c := range conns {
			c.Close()
		}
	}
	h.clients = make(map[string]map[*websocket.Conn]bool)
}

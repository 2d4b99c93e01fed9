// Package stream pushes assessment events to websocket subscribers in real
// time. The hub subscribes to the in-process event bus, so it sees both
// synchronous assessments made by this process and asynchronous ones injected
// through the Redis bridge. Each CloudEvent becomes one JSON frame.
package stream

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vigilsec/riskengine/internal/events"
)

// clientGauge is satisfied by prometheus.Gauge.
type clientGauge interface {
	Set(float64)
}

// Hub manages websocket connections for the live assessment feed.
type Hub struct {
	bus        *events.EventBus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *log.Logger
	gauge      clientGauge
}

// NewHub creates a hub attached to the given event bus. Call Run before
// serving HandleWebSocket.
func NewHub(bus *events.EventBus) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.New(log.Writer(), "[Stream] ", log.LstdFlags),
	}
}

// SetClientGauge wires a gauge that tracks the connected client count.
func (h *Hub) SetClientGauge(g clientGauge) {
	h.gauge = g
}

// Run is the hub loop. It subscribes to every event type on the bus and
// returns when ctx is cancelled, closing all client connections.
func (h *Hub) Run(ctx context.Context) {
	feed := h.bus.Subscribe()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.bus.Unsubscribe(feed)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.setGauge(total)
			h.logger.Printf("📡 Stream client connected (total: %d)", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.setGauge(total)
			h.logger.Printf("📡 Stream client disconnected (total: %d)", total)

		case event, ok := <-feed:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("⚠️  Websocket upgrade failed: %v", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readLoop(conn)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalStats returns hub statistics for the health endpoint.
func (h *Hub) MarshalStats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": h.ClientCount(),
	}
}

// readLoop drains inbound frames so the connection notices peer close.
// Clients never send meaningful data; the feed is one-way.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
			conn.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(event *events.CloudEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*websocket.Conn
	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			h.logger.Printf("⚠️  Stream write failed: %v", err)
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range failed {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			c.Close()
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.setGauge(total)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()
	h.setGauge(0)
	h.logger.Printf("📡 Stream hub stopped")
}

func (h *Hub) setGauge(total int) {
	if h.gauge != nil {
		h.gauge.Set(float64(total))
	}
}

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Hub manages WebSocket clients and broadcasts saga events to them. The
// feed is observational: a slow or dead client is dropped, never waited
// on, and a saturated feed drops messages rather than backpressuring the
// publish path.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	broadcast   chan []byte
	done        chan struct{}
	mu          sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		broadcast:   make(chan []byte, 64),
		done:        make(chan struct{}),
	}
}

// Attach registers the client. Once the hub has stopped it closes the
// connection instead, so callers never block on a dead hub.
func (h *Hub) Attach(conn *websocket.Conn) {
	select {
	case h.Register <- conn:
	case <-h.done:
		conn.Close()
	}
}

// Detach removes the client, tolerating a hub that has already stopped.
func (h *Hub) Detach(conn *websocket.Conn) {
	select {
	case h.Unregister <- conn:
	case <-h.done:
		conn.Close()
	}
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Run processes register/unregister/broadcast events until ctx ends.
// It must be called at most once per Hub.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		conn.Close()
	}
	h.connections = make(map[*websocket.Conn]struct{})
}

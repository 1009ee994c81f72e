package events

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients connect from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts core events to connected websocket clients. It implements
// Sink; a client that cannot keep up is disconnected rather than allowed to
// back-pressure the dispatcher.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan Event)}
}

// Deliver fans the event out to every connected client.
func (h *Hub) Deliver(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			logger.Warn("websocket client too slow, disconnecting")
			h.dropLocked(conn)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("websocket upgrade failed")
		return
	}

	ch := make(chan Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	logger.WithField("remote", r.RemoteAddr).Info("websocket client connected")

	go func() {
		for event := range ch {
			if err := conn.WriteJSON(event); err != nil {
				h.mu.Lock()
				h.dropLocked(conn)
				h.mu.Unlock()
				return
			}
		}
	}()

	// Drain reads so pings/close frames are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			h.dropLocked(conn)
			h.mu.Unlock()
			return
		}
	}
}

// dropLocked removes a client; callers hold h.mu.
func (h *Hub) dropLocked(conn *websocket.Conn) {
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
		_ = conn.Close()
	}
}

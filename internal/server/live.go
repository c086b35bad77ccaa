package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/models"
)

const (
	clientBuffer = 256
	writeWait    = 5 * time.Second
)

// Hub fans captured events out to websocket clients. Slow clients lose events
// rather than stall capture.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	closed  bool
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*liveClient]struct{}),
	}
}

func (h *Hub) Broadcast(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("Failed to marshal live event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Debug("Live client lagging, dropping event")
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	client := &liveClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.write(client)

	// The feed is one-way; reading only detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
}

func (h *Hub) write(client *liveClient) {
	defer client.conn.Close()
	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
			return
		}
	}
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(client *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// StreamUpdate is one message pushed to real-time subscribers: either a live
// metric sample (IsActive true) or a terminal stream-ended message with the
// numeric fields zeroed and IsActive false.
type StreamUpdate struct {
	StreamKey    string  `json:"streamKey"`
	IsActive     bool    `json:"isActive"`
	VideoCodec   string  `json:"videoCodec"`
	AudioCodec   string  `json:"audioCodec"`
	Resolution   string  `json:"resolution"`
	FrameRate    float64 `json:"frameRate"`
	VideoBitrate int64   `json:"videoBitrate"`
	AudioBitrate int64   `json:"audioBitrate"`
	TotalBitrate int64   `json:"totalBitrate"`
	Duration     float64 `json:"duration"`
	Timestamp    int64   `json:"timestamp"`
}

const clientSendBuffer = 64

// Hub tracks connected subscribers and broadcasts stream updates to them.
// Broadcast never blocks: a client that cannot keep up has messages dropped,
// a client that errors is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty subscriber hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request to a websocket subscriber connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("subscriber connected", slog.Int("subscribers", n))

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast pushes one update to every connected subscriber, skipping any
// subscriber whose send buffer is full.
func (h *Hub) Broadcast(u StreamUpdate) {
	payload, err := json.Marshal(u)
	if err != nil {
		h.log.Error("marshal stream update", slog.String("error", err.Error()))
		return
	}

	// Sends are non-blocking, so holding the lock here is cheap and keeps
	// them ordered against remove's close of the send channel.
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Debug("subscriber send buffer full, dropping update",
				slog.String("stream_key", u.StreamKey))
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) writePump(c *client) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
}

// readPump discards inbound messages; subscribers are receive-only. Its real
// job is noticing the close handshake or a dead connection.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		h.log.Debug("subscriber disconnected")
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/recorder"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
	pongWait         = 70 * time.Second
)

var upgrader = websocket.Upgrader{
	// The UI is served from localhost; allow any origin on the local port
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans recorder events out to every connected UI socket.
// A client that falls behind loses events rather than slowing the recorder.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  observability.Component(logger, "events"),
	}
}

// Publish implements recorder.Publisher
func (h *Hub) Publish(ev recorder.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			observability.RecordDrop("event_client_slow")
		}
	}
}

// Clients returns the number of connected sockets
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the client goes away
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade event socket")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event client connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the close; clients send nothing we act on
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Event socket read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and turns away later ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

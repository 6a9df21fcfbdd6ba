// Package render fans the engine's output stream out to websocket clients.
package render

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message types sent to clients.
const (
	TypeSnapshot = "snapshot"
	TypeVisual   = "visual"
	TypeBlocked  = "blocked"
	TypeBattery  = "battery"
	TypeRollback = "rollback"
	TypeMoreInfo = "more_info"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is one frame sent to clients.
type Message struct {
	Type   string `json:"type"`
	LockID string `json:"lock_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Command is a frame received from a client, e.g. {"type":"tap","lock_id":"front"}.
type Command struct {
	Type   string `json:"type"`
	LockID string `json:"lock_id"`
}

// Snapshotter returns the messages a new client receives on connect.
type Snapshotter func() []Message

// CommandHandler handles a client command.
type CommandHandler func(cmd Command)

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub tracks connected clients and broadcasts messages to them.
type Hub struct {
	upgrader  websocket.Upgrader
	snapshot  Snapshotter
	onCommand CommandHandler

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. snapshot and onCommand may be nil.
func NewHub(snapshot Snapshotter, onCommand CommandHandler) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		snapshot:  snapshot,
		onCommand: onCommand,
		clients:   make(map[*client]struct{}),
	}
}

// Broadcast queues msg for every client. Clients whose buffer is full are dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Render client too slow, disconnecting")
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	var initial []Message
	if h.snapshot != nil {
		initial = h.snapshot()
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer+len(initial))}
	for _, msg := range initial {
		c.send <- msg
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Render client connected")

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
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

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		log.Debug().Msg("Render client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed render client command")
			continue
		}
		if h.onCommand != nil {
			h.onCommand(cmd)
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("Failed to write to render client")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

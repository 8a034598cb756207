package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/aggregate"
)

// Client represents a connected WebSocket client
type Client struct {
	hub    *TimelineHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger
}

// TimelineHub manages WebSocket clients and broadcasts timeline updates as
// the aggregator applies analysis responses.
type TimelineHub struct {
	logger     *logrus.Logger
	clients    map[*Client]bool
	broadcast  chan aggregate.Update
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	running    bool
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local UI collaborator; all origins accepted
		return true
	},
}

// NewTimelineHub creates a new timeline hub
func NewTimelineHub(logger *logrus.Logger) *TimelineHub {
	return &TimelineHub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan aggregate.Update, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// OnTimelineUpdate implements aggregate.Listener: each applied response is
// fanned out to every connected client. A stalled hub drops updates rather
// than blocking the upload completion path.
func (h *TimelineHub) OnTimelineUpdate(update aggregate.Update) {
	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("Timeline broadcast channel full, dropping update")
	}
}

// Run starts the timeline hub
func (h *TimelineHub) Run(ctx context.Context) {
	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	h.logger.Info("Starting WebSocket timeline hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket timeline hub")
			h.mutex.Lock()
			h.running = false
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Info("Client connected to timeline WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("Client disconnected from timeline WebSocket")
			}
			h.mutex.Unlock()

		case update := <-h.broadcast:
			data, err := json.Marshal(update)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal timeline update")
				continue
			}

			h.mutex.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer; drop the frame, not the hub.
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// IsRunning reports whether the hub loop is active
func (h *TimelineHub) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// ServeWs upgrades an HTTP request to a WebSocket subscription
func (h *TimelineHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 32),
		logger: h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		// Clients only subscribe; any read error ends the session.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

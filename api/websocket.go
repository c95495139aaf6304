package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/angelstreet/virtualpytest-sub004/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Viewers is told when a client starts or stops following a device.
// service.CaptureFeed implements it.
type Viewers interface {
	AddViewer(deviceID string) error
	RemoveViewer(deviceID string)
}

// ClientMessage is what clients send: subscribe or unsubscribe to a device.
type ClientMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

type Client struct {
	hub     *WebSocketHub
	conn    *websocket.Conn
	send    chan []byte
	viewers Viewers

	mu         sync.RWMutex
	subscribed map[string]bool
}

func (c *Client) isSubscribed(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed[deviceID]
}

// drain returns the subscribed devices and forgets them.
func (c *Client) drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, id)
	}
	c.subscribed = map[string]bool{}
	return ids
}

type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logging.Info("ws").Int("clients", n).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Info("ws").Int("clients", n).Msg("Client disconnected")
		}
	}
}

// BroadcastToDevice sends message as JSON to the clients subscribed to
// deviceID. It never blocks: a full client queue drops its oldest message.
func (h *WebSocketHub) BroadcastToDevice(deviceID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logging.Error("ws").Err(err).Msg("Failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if !client.isSubscribed(deviceID) {
			continue
		}
		sent++
		select {
		case client.send <- data:
		default:
			select {
			case <-client.send:
			default:
			}
			select {
			case client.send <- data:
			default:
				logging.Warn("ws").Str("device", deviceID).Msg("Client queue full, message dropped")
			}
		}
	}
	logging.Debug("ws").Str("device", deviceID).Int("clients", sent).Int("bytes", len(data)).Msg("Broadcast")
}

// BroadcastToAll sends a message to every connected client.
func (h *WebSocketHub) BroadcastToAll(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logging.Error("ws").Err(err).Msg("Failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			logging.Warn("ws").Msg("Client queue full, message dropped")
		}
	}
}

func HandleWebSocket(hub *WebSocketHub, viewers Viewers, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("ws").Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		viewers:    viewers,
		subscribed: make(map[string]bool),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump handles subscriptions until the connection closes, then releases
// every feed the client was viewing.
func (c *Client) readPump() {
	defer func() {
		for _, id := range c.drain() {
			c.viewers.RemoveViewer(id)
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("ws").Err(err).Msg("WebSocket error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.DeviceID == "" {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.DeviceID)
		case "unsubscribe":
			c.unsubscribe(msg.DeviceID)
		}
	}
}

func (c *Client) subscribe(deviceID string) {
	c.mu.Lock()
	if c.subscribed[deviceID] {
		c.mu.Unlock()
		return
	}
	c.subscribed[deviceID] = true
	c.mu.Unlock()

	if err := c.viewers.AddViewer(deviceID); err != nil {
		c.mu.Lock()
		delete(c.subscribed, deviceID)
		c.mu.Unlock()
		c.reply(gin.H{"type": "error", "device_id": deviceID, "error": err.Error()})
		return
	}
	logging.Info("ws").Str("device", deviceID).Msg("Client subscribed")
	c.reply(gin.H{"type": "subscribed", "device_id": deviceID})
}

func (c *Client) unsubscribe(deviceID string) {
	c.mu.Lock()
	was := c.subscribed[deviceID]
	delete(c.subscribed, deviceID)
	c.mu.Unlock()

	if was {
		c.viewers.RemoveViewer(deviceID)
		logging.Info("ws").Str("device", deviceID).Msg("Client unsubscribed")
	}
}

func (c *Client) reply(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn("ws").Msg("Client queue full, reply dropped")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

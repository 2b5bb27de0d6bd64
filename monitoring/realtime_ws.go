package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"salaryclf/pipeline"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// MessageTypePrediction tags every message the hub pushes for a finished run.
const MessageTypePrediction = "prediction"

// Message is the envelope sent to websocket clients.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// ClientMessage is what a client may send: subscribe or unsubscribe to a
// topic ("single" or "batch"). A client with no subscriptions gets everything.
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type outbound struct {
	topic   string
	payload []byte
}

type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.Mutex
	subscriptions map[string]bool
}

func (c *Client) wants(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[topic]
}

// Hub fans prediction events out to websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
}

// NewHub creates a hub accepting connections from allowedOrigins; "*" allows
// any origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start runs the hub until Stop is called.
func (h *Hub) Start() {
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("client", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.String("client", client.clientID), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.topic) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		clientID:      uuid.NewString(),
		subscriptions: make(map[string]bool),
	}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// Broadcast queues payload for every client subscribed to topic. A full queue
// drops the message.
func (h *Hub) Broadcast(topic string, payload []byte) {
	select {
	case h.broadcast <- outbound{topic: topic, payload: payload}:
	default:
		h.logger.Warn("websocket broadcast queue is full, dropping message", zap.String("topic", topic))
	}
}

// Observe publishes a finished pipeline run.
func (h *Hub) Observe(_ context.Context, event pipeline.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode prediction event", zap.Error(err))
		return
	}
	payload, err := json.Marshal(Message{
		Type:      MessageTypePrediction,
		Topic:     event.Kind,
		Timestamp: time.Now().UTC(),
		Data:      data,
		ID:        event.ID,
	})
	if err != nil {
		h.logger.Error("failed to encode hub message", zap.Error(err))
		return
	}
	h.Broadcast(event.Kind, payload)
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client", c.clientID), zap.Error(err))
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

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", zap.String("client", c.clientID))
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	}
}

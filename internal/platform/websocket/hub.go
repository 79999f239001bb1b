// Package websocket pushes server-side events to connected browsers. Each
// connection is bound to one topic chosen by the server when it connects.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Event is a notification delivered to every client on Topic.
type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Client is one connected socket.
type Client struct {
	ID    string
	Topic string
	Send  chan []byte
}

func newClient(topic string) *Client {
	return &Client{ID: uuid.NewString(), Topic: topic, Send: make(chan []byte, sendBuffer)}
}

// Hub tracks clients by topic.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.Topic] == nil {
		h.clients[client.Topic] = make(map[*Client]struct{})
	}
	h.clients[client.Topic][client] = struct{}{}
}

// Unregister removes the client and closes its Send channel. Calling it
// twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
}

// Publish sends the event to every client on its topic. Clients whose
// buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[event.Topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", event.Topic).Msg("websocket client too slow, event dropped")
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subscribers := range h.clients {
		n += len(subscribers)
	}
	return n
}

// TopicCount returns the number of clients on topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// TopicFunc picks the topic for a connecting request. Returning an error
// rejects the connection.
type TopicFunc func(c echo.Context) (string, error)

type Handler struct {
	hub      *Hub
	topic    TopicFunc
	upgrader gorillawebsocket.Upgrader
}

// NewHandler serves upgrades for hub. Only browsers from allowedOrigins may
// connect; "*" allows any origin.
func NewHandler(hub *Hub, topic TopicFunc, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:   hub,
		topic: topic,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the request and streams the topic's events until
// the client goes away.
func (h *Handler) HandleConnect(c echo.Context) error {
	topic, err := h.topic(c)
	if err != nil {
		return err
	}
	// Registered before the handshake completes so no event published
	// after the client sees the upgrade is missed.
	client := newClient(topic)
	h.hub.Register(client)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.hub.Unregister(client)
		// The upgrader has already written the error response.
		return nil
	}
	h.hub.logger.Debug().Str("client_id", client.ID).Str("topic", topic).Msg("websocket client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump discards inbound messages and unregisters the client once the
// connection fails or stops answering pings.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

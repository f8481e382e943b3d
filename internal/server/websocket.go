package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/auth"
	"github.com/Jdogg9/agent-admission-sidecar/internal/intent"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024 // 512KB
)

// WSMessage is pushed to connected review consoles.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client is one connected websocket consumer.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan WSMessage
	hub      *Hub
	user     *auth.User
	closedMu sync.Mutex
	closed   bool
}

// Hub fans escalation updates out to connected clients. New HITL requests
// trigger a broadcast; a periodic tick covers missed notifications.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan WSMessage
	register     chan *Client
	unregister   chan *Client
	mu           sync.RWMutex
	queue        *intent.HitlQueue
	authManager  *auth.Manager
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func NewHub(queue *intent.HitlQueue, authManager *auth.Manager) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:     make(map[*Client]bool),
		broadcast:   make(chan WSMessage, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		queue:       queue,
		authManager: authManager,
		ctx:         ctx,
		cancel:      cancel,
	}
	go h.run()
	go h.watchHitlQueue()
	return h
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		log.Info().Msg("shutting down websocket hub")
		h.cancel()
		close(h.register)
		close(h.unregister)
		close(h.broadcast)

		h.mu.Lock()
		for client := range h.clients {
			client.safeClose()
		}
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", len(h.clients)).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.safeClose()
			}
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", len(h.clients)).Msg("client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full, disconnect.
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) watchHitlQueue() {
	notifyCh := h.queue.NotifyChannel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-notifyCh:
			h.broadcastPendingUpdate()
		case <-ticker.C:
			h.broadcastPendingUpdate()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) broadcastPendingUpdate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := h.queue.Pending(ctx, 0)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get pending hitl requests for broadcast")
		return
	}

	msg := WSMessage{
		Type: "hitl_update",
		Data: map[string]any{
			"total":   len(pending),
			"pending": pending,
		},
	}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

func (c *Client) safeClose() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.send)
	_ = c.conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler upgrades review-console connections.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(queue *intent.HitlQueue, authManager *auth.Manager) *WSHandler {
	hub := NewHub(queue, authManager)
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // auth is handled via token validation
			},
		},
	}
}

func (h *WSHandler) GetHub() *Hub {
	return h.hub
}

// HandleWebSocket authenticates via query-param or bearer token, upgrades,
// and streams escalation updates.
func (h *WSHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}

	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
	}

	user, err := h.hub.authManager.ValidateToken(token)
	if err != nil {
		log.Warn().Err(err).Msg("websocket auth failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}

	client := &Client{
		id:   user.ID + "-" + time.Now().Format("20060102150405"),
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  h.hub,
		user: user,
	}

	h.hub.register <- client

	// Initial snapshot so the console does not wait for the next tick.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := h.hub.queue.Pending(ctx, 0)
	if err == nil {
		client.send <- WSMessage{
			Type: "hitl_update",
			Data: map[string]any{
				"total":   len(pending),
				"pending": pending,
			},
		}
	}

	go client.writePump()
	go client.readPump()

	return nil
}

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"jamroom/internal/models"
	"jamroom/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 8192
)

// Client is one authenticated device connection. A connection is not
// bound to a session at handshake; join-session binds it and the client
// may re-join elsewhere after leaving.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	user    *models.User
	manager *Manager
	router  *Router

	// done is closed exactly once when the client is discarded. The send
	// channel itself is never closed: replies race in from hub goroutines
	// and the read pump, and a send on a closed channel would be fatal.
	done      chan struct{}
	closeOnce sync.Once

	// hub the client currently has presence in, nil when idle. Written
	// from hub goroutines, read on disconnect.
	mu     sync.Mutex
	joined *Hub
}

func (c *Client) setJoined(h *Hub) {
	c.mu.Lock()
	c.joined = h
	c.mu.Unlock()
}

func (c *Client) joinedHub() *Hub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func NewClient(conn *websocket.Conn, user *models.User, manager *Manager, router *Router) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		user:    user,
		manager: manager,
		router:  router,
	}
}

// close marks the client discarded. Safe to call from any goroutine,
// idempotent; the write pump observes done and tears the connection down.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump parses inbound frames into the event envelope and routes each
// one to the owning session's hub. It runs until the connection drops,
// then releases presence and cooldown bookkeeping.
func (c *Client) ReadPump() {
	defer func() {
		if h := c.joinedHub(); h != nil {
			h.unregister <- c
		}
		c.router.Disconnected(c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error for %s: %v", c.user.Username, err)
			}
			break
		}

		var event models.ClientEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.SendError("malformed", "invalid event envelope", 0)
			continue
		}

		c.route(event)
	}
}

// route answers session-less events directly and hands everything else to
// the target session's hub for sequential handling.
func (c *Client) route(event models.ClientEvent) {
	if event.Type == models.EventSyncPing {
		c.router.HandleSyncPing(c, event)
		return
	}

	var ref models.SessionRef
	if err := json.Unmarshal(event.Payload, &ref); err != nil || ref.SessionID == uuid.Nil {
		c.SendError("malformed", "missing or invalid sessionId", 0)
		return
	}

	// Only join-session and quit-session may materialize a hub; anything
	// else against a session with no live room is refused, so arbitrary
	// session ids cannot spawn hubs.
	var hub *Hub
	switch event.Type {
	case models.EventJoinSession, models.EventQuitSession:
		hub = c.manager.GetHub(ref.SessionID)
	default:
		if hub = c.manager.Lookup(ref.SessionID); hub == nil {
			c.SendError("not_joined", "join the session before acting on it", 0)
			return
		}
	}

	select {
	case hub.dispatch <- inbound{client: c, event: event}:
	case <-hub.shutdown:
		c.SendError("not_joined", "session is no longer active, join again", 0)
	default:
		c.SendError("overloaded", "session is busy, retry shortly", 0)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
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

// SendEvent queues one event for this client alone.
func (c *Client) SendEvent(event models.ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Error marshaling %s reply: %v", event.Type, err)
		return
	}
	select {
	case <-c.done:
		// Discarded client, reply has nowhere to go.
	case c.send <- data:
	default:
		logger.Warn("Dropping %s reply to %s: send buffer full", event.Type, c.user.Username)
	}
}

// SendError delivers a caller-scoped error notice. Errors are never
// broadcast to the room.
func (c *Client) SendError(code, message string, retryAfter time.Duration) {
	c.SendEvent(models.ServerEvent{
		Type: models.EventError,
		Payload: models.ErrorPayload{
			Code:         code,
			Message:      message,
			RetryAfterMS: retryAfter.Milliseconds(),
		},
	})
}

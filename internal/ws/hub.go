package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"jamroom/internal/models"
	"jamroom/pkg/logger"

	"github.com/google/uuid"
)

type inbound struct {
	client *Client
	event  models.ClientEvent
}

// Hub owns one session's live connections. Every mutating event for the
// session is funneled through its dispatch channel and handled in Run's
// goroutine, so two mutations against the same session are never observed
// interleaved.
type Hub struct {
	sessionID  uuid.UUID
	clients    map[*Client]bool
	dispatch   chan inbound
	unregister chan *Client
	shutdown   chan struct{}
	router     *Router

	// online and lastActivity are read by the manager's cleanup goroutine
	// while the hub goroutine mutates presence, hence atomics.
	online       atomic.Int32
	lastActivity atomic.Int64
}

func newHub(sessionID uuid.UUID, router *Router) *Hub {
	h := &Hub{
		sessionID:  sessionID,
		clients:    make(map[*Client]bool),
		dispatch:   make(chan inbound, 64),
		unregister: make(chan *Client, 8),
		shutdown:   make(chan struct{}),
		router:     router,
	}
	h.lastActivity.Store(time.Now().UnixNano())
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			for client := range h.clients {
				client.close()
			}
			return

		case client := <-h.unregister:
			h.drop(client, false)

		case in := <-h.dispatch:
			h.lastActivity.Store(time.Now().UnixNano())
			h.router.Dispatch(h, in.client, in.event)
		}
	}
}

// join registers transient presence. Runs in the hub goroutine.
func (h *Hub) join(c *Client) {
	if h.clients[c] {
		return
	}
	h.clients[c] = true
	h.online.Add(1)
	logger.Info("User %s joined session %s", c.user.Username, h.sessionID)
}

// drop releases transient presence and tells the rest of the room the
// actor left the view. Membership is untouched unless permanent, which
// marks a quit for clients that track the roster.
func (h *Hub) drop(c *Client, permanent bool) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.online.Add(-1)
	h.broadcastExcept(c, models.ServerEvent{
		Type: models.EventParticipantOut,
		Payload: models.ParticipantPayload{
			SessionID: h.sessionID,
			UserID:    c.user.ID,
			Username:  c.user.Username,
			Permanent: permanent,
		},
	})
	logger.Info("User %s left session %s", c.user.Username, h.sessionID)
}

func (h *Hub) broadcast(event models.ServerEvent) {
	h.broadcastExcept(nil, event)
}

func (h *Hub) broadcastExcept(exclude *Client, event models.ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Error marshaling %s broadcast: %v", event.Type, err)
		return
	}
	for client := range h.clients {
		if client == exclude {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow client: release it and let its pumps tear down. The
			// send channel stays open so in-flight replies cannot panic.
			delete(h.clients, client)
			h.online.Add(-1)
			client.close()
		}
	}
}

func (h *Hub) onlineCount() int {
	return int(h.online.Load())
}

func (h *Hub) idleSince() time.Time {
	return time.Unix(0, h.lastActivity.Load())
}

// Manager hands out one hub per live session.
type Manager struct {
	hubs   map[uuid.UUID]*Hub
	mutex  sync.Mutex
	router *Router
}

func NewManager(router *Router) *Manager {
	manager := &Manager{
		hubs:   make(map[uuid.UUID]*Hub),
		router: router,
	}

	go manager.cleanupUnusedHubs()
	return manager
}

func (m *Manager) GetHub(sessionID uuid.UUID) *Hub {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hub, exists := m.hubs[sessionID]
	if !exists {
		hub = newHub(sessionID, m.router)
		m.hubs[sessionID] = hub
		go hub.Run()
	}
	return hub
}

// Lookup returns the session's live hub without creating one.
func (m *Manager) Lookup(sessionID uuid.UUID) *Hub {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.hubs[sessionID]
}

func (m *Manager) cleanupUnusedHubs() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.mutex.Lock()
		for sessionID, hub := range m.hubs {
			if hub.onlineCount() == 0 && time.Since(hub.idleSince()) > 30*time.Minute {
				close(hub.shutdown)
				delete(m.hubs, sessionID)
				logger.Debug("Cleaned up unused hub for session %s", sessionID)
			}
		}
		m.mutex.Unlock()
	}
}

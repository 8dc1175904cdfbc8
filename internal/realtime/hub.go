package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Hub manages relay clients and routes messages by session id.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// session id -> set of subscribed clients
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscribeMsg
	broadcast  chan broadcastMsg

	// Closed when Run returns
	done chan struct{}

	mu     sync.RWMutex
	logger zerolog.Logger
}

type subscribeMsg struct {
	client    *Client
	sessionID string
}

type broadcastMsg struct {
	sessionID string
	payload   []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan subscribeMsg),
		broadcast:     make(chan broadcastMsg, 256),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// Send queues payload for the subscribers of sessionID, dropping it when the hub is saturated.
func (h *Hub) Send(sessionID string, payload []byte) {
	select {
	case h.broadcast <- broadcastMsg{sessionID: sessionID, payload: payload}:
	default:
		h.logger.Warn().Str("session", sessionID).Msg("broadcast queue full, dropping message")
	}
}

// Subscribers returns how many clients follow sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[sessionID])
}

// join registers c and, when sessionID is set, subscribes it. It reports false once the hub
// has stopped.
func (h *Hub) join(c *Client, sessionID string) bool {
	select {
	case h.register <- c:
	case <-h.done:
		return false
	}
	if sessionID != "" {
		h.follow(c, sessionID)
	}
	return true
}

func (h *Hub) follow(c *Client, sessionID string) {
	select {
	case h.subscribe <- subscribeMsg{client: c, sessionID: sessionID}:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.subscriptions = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.logger.Debug().Int("total", len(h.clients)).Msg("client registered")
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case msg := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[msg.client]; ok {
				if _, ok := h.subscriptions[msg.sessionID]; !ok {
					h.subscriptions[msg.sessionID] = make(map[*Client]bool)
				}
				h.subscriptions[msg.sessionID][msg.client] = true
				h.logger.Debug().
					Str("session", msg.sessionID).
					Int("subscribers", len(h.subscriptions[msg.sessionID])).
					Msg("client subscribed")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.subscriptions[msg.sessionID] {
				select {
				case client.send <- msg.payload:
				default:
					// Client buffer full, remove it
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for sessionID, subs := range h.subscriptions {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, sessionID)
		}
	}
	h.logger.Debug().Int("total", len(h.clients)).Msg("client unregistered")
}

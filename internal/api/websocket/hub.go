package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives every message the session publishes.
type Sink interface {
	Publish(msg Message)
}

// Hub maintains the set of active browser clients and broadcasts messages to them
type Hub struct {
	clients map[*Client]bool

	// Latest message per retained type, replayed to clients on register
	retained map[MessageType]Message

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to every client
	Broadcast chan Message

	// Messages addressed to a single client
	direct chan addressed

	// Closed when Run returns
	done chan struct{}

	mu     sync.RWMutex
	Logger zerolog.Logger
}

type addressed struct {
	client *Client
	msg    Message
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		retained:   make(map[MessageType]Message),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Message, 256),
		direct:     make(chan addressed, 256),
		done:       make(chan struct{}),
		Logger:     logger,
	}
}

// Run starts the hub's main event loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.Broadcast:
			h.broadcastMessage(message)

		case d := <-h.direct:
			h.sendTo(d.client, d.msg)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Leave unregisters client, or returns at once when the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// SendTo queues msg for client alone. It never blocks; the message is dropped when the hub is
// saturated or stopped.
func (h *Hub) SendTo(client *Client, msg Message) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.direct <- addressed{client: client, msg: msg}:
		return true
	default:
		return false
	}
}

// Publish queues msg for broadcast without blocking. Messages are dropped when the hub is
// saturated.
func (h *Hub) Publish(msg Message) {
	select {
	case h.Broadcast <- msg:
	default:
		h.Logger.Warn().Str("type", string(msg.Type)).Msg("Broadcast queue full, dropping message")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	for _, msg := range h.retained {
		select {
		case client.Send <- msg:
		default:
		}
	}
	h.Logger.Info().Str("clientId", client.ID).Int("clients", len(h.clients)).Msg("Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.Logger.Info().Str("clientId", client.ID).Int("clients", len(h.clients)).Msg("Client unregistered")
}

func (h *Hub) sendTo(client *Client, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.Send <- msg:
	default:
		h.Logger.Warn().Str("clientId", client.ID).Str("type", string(msg.Type)).Msg("Send buffer full, dropping reply")
	}
}

func (h *Hub) broadcastMessage(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if message.Type.retained() {
		h.retained[message.Type] = message
	}
	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// Client buffer full, drop it
			delete(h.clients, client)
			close(client.Send)
			h.Logger.Warn().Str("clientId", client.ID).Msg("Client too slow, disconnected")
		}
	}

	h.Logger.Debug().
		Str("type", string(message.Type)).
		Int("clients", len(h.clients)).
		Msg("Broadcasted message")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
	}
}

// ClientCount returns the number of connected browsers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

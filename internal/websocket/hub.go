package websocket

import (
	"context"
	"sync"

	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/rs/zerolog"
)

// Hub maintains the set of active dashboard clients and fans messages out
// to them. The latest broadcast is replayed to every client that joins.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for all clients
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Last broadcast message, sent to new clients
	latest []byte

	// Mutex to protect clients map and latest
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop and closes all clients when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info().Msg("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.latest != nil {
				select {
				case client.send <- h.latest:
				default:
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.fanout(message)
		}
	}
}

// join registers client. It reports false once the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave unregisters client; a stopped hub has already closed it.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for all connected clients. It never blocks;
// when the hub is backlogged the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		metrics.Get().RecordWebSocketError()
		h.logger.Warn().Msg("hub backlog full, dropping broadcast")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// fanout sends a message to all clients, dropping the ones that fell behind
func (h *Hub) fanout(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = message
	for client := range h.clients {
		select {
		case client.send <- message:
			metrics.Get().RecordWebSocketMessage()
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			metrics.Get().RecordWebSocketDisconnect()
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}

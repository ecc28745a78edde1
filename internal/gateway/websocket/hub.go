package websocket

import (
	"context"
	"sync"

	"chorus/internal/chat"
	"chorus/internal/runner"
	"chorus/pkg/logger"
)

// Engine runs the turns requested by clients.
type Engine interface {
	HandleMessage(ctx context.Context, entry chat.Entry) (*runner.Turn, error)
	Continue(ctx context.Context, roomID, character string) (*runner.Turn, error)
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Topic to clients mapping for targeted broadcasts.
	topics map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu     sync.RWMutex
	engine Engine

	// ctx bounds the turns started by clients; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	turns  sync.WaitGroup
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetEngine sets the engine chat messages are handed to.
func (h *Hub) SetEngine(engine Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = engine
}

func (h *Hub) getEngine() Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("websocket: client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for topic := range client.topics {
					h.removeLocked(client, topic)
				}
			}
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("websocket: client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.targetsLocked(msg.Topics) {
				select {
				case client.send <- msg.Data:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends Run, cancels running turns and waits for them.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.once.Do(func() {
		h.cancel()
		close(h.done)
	})
	h.mu.Unlock()
	h.turns.Wait()
}

// targetsLocked collects each subscribed client once.
func (h *Hub) targetsLocked(topics []string) map[*Client]bool {
	if len(topics) == 0 {
		return h.clients
	}
	out := make(map[*Client]bool)
	for _, t := range topics {
		for client := range h.topics[t] {
			out[client] = true
		}
	}
	return out
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a topic's subscriber list.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.topics[topic] = true
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true

	logger.Debug().Str("client_id", client.id).Str("topic", topic).Msg("websocket: subscribed")
}

// Unsubscribe removes a client from a topic's subscriber list.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, topic)

	logger.Debug().Str("client_id", client.id).Str("topic", topic).Msg("websocket: unsubscribed")
}

func (h *Hub) removeLocked(client *Client, topic string) {
	delete(client.topics, topic)
	if clients, ok := h.topics[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Broadcast sends data to every client subscribed to any of the topics,
// once per client.
func (h *Hub) Broadcast(data []byte, topics ...string) {
	select {
	case h.broadcast <- &BroadcastMessage{Topics: topics, Data: data}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// runTurn runs fn on its own goroutine under the hub's context.
func (h *Hub) runTurn(fn func(ctx context.Context)) bool {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return false
	default:
	}
	h.turns.Add(1)
	h.mu.Unlock()
	go func() {
		defer h.turns.Done()
		fn(h.ctx)
	}()
	return true
}

package realtime

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Hub maintains active WebSocket connections and fans events out to
// topic subscribers. Topics are the per-actor private channels plus the
// shared partners:pool job channel (see topics.go).
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Topic -> subscribed clients
	topics map[string]map[*Client]bool

	// Outbound events waiting for fan-out
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe map access
	mu sync.RWMutex
}

// Message represents an event to broadcast on a topic
type Message struct {
	Topic string
	Data  interface{}
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Infof("✅ [WS] client connected: user=%s role=%s conn=%s (total %d)",
				client.UserID, client.Role, client.ID, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.removeClientLocked(client)
				log.Infof("🔴 [WS] client disconnected: user=%s conn=%s (remaining %d)",
					client.UserID, client.ID, len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Publish queues an event for every subscriber of topic. Safe to call
// from any goroutine; never blocks the caller beyond the queue buffer.
func (h *Hub) Publish(topic string, event interface{}) {
	h.broadcast <- &Message{Topic: topic, Data: event}
}

// Subscribe adds the client to a topic's subscriber set.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]bool)
		h.topics[topic] = subs
	}
	subs[client] = true
}

// Unsubscribe removes the client from a topic's subscriber set.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// deliver marshals the event once and writes it to every subscriber.
// A client whose send buffer is full is dropped, same as a dead socket.
func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message.Data)
	if err != nil {
		log.Errorf("❌ Failed to marshal event for topic %s: %v", message.Topic, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.topics[message.Topic] {
		select {
		case client.send <- data:
		default:
			log.Warnf("⚠️  Client buffer full, disconnecting: user=%s conn=%s", client.UserID, client.ID)
			h.removeClientLocked(client)
		}
	}
}

// removeClientLocked drops the client from the hub and every topic.
// Caller must hold h.mu.
func (h *Hub) removeClientLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for topic, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns how many clients are subscribed to a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Package events broadcasts prediction lifecycle events to connected
// websocket subscribers. Delivery is at-most-once and best-effort: the
// scoring pipeline never blocks or fails on event delivery.
package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Hub tracks subscriber connections and fans events out to them. Slow
// subscribers are disconnected rather than allowed to apply backpressure
// to the pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

// NewHub creates a hub. Run must be started before clients attach. The
// instruments are optional; either may be nil.
func NewHub(dropped prometheus.Counter, subscribers prometheus.Gauge) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
		dropped:     dropped,
		subscribers: subscribers,
	}
}

func (h *Hub) countDrop() {
	if h.dropped != nil {
		h.dropped.Inc()
	}
}

// setSubscribersLocked publishes the current subscriber count. Caller
// holds the lock.
func (h *Hub) setSubscribersLocked() {
	if h.subscribers != nil {
		h.subscribers.Set(float64(len(h.clients)))
	}
}

// Run processes registration and broadcast traffic until Close.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.setSubscribersLocked()
			h.mu.Unlock()
			zap.L().Debug("event subscriber connected", zap.String("remote", c.remoteAddr))

		case c := <-h.unregister:
			h.removeClient(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var stalled []*Client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Send buffer full; the subscriber is not keeping up.
					stalled = append(stalled, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range stalled {
				zap.L().Warn("dropping slow event subscriber", zap.String("remote", c.remoteAddr))
				h.countDrop()
				h.removeClient(c)
			}

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setSubscribersLocked()
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		h.setSubscribersLocked()
	}
}

// Broadcast queues a message for all subscribers. It never blocks; when
// the hub's queue is full the message is dropped and counted as a
// delivery failure, not an error.
func (h *Hub) Broadcast(msg []byte) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.countDrop()
		return false
	}
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the hub and disconnects all subscribers.
func (h *Hub) Close() {
	close(h.done)
}

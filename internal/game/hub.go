package game

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"skycrash/internal/metrics"
)

const defaultSubscriberQueue = 256

// Subscriber is one spectator's delivery queue. The hub pushes marshalled
// events into the queue; the transport drains Events into the connection.
// The queue is bounded and drops the oldest event on overflow so a slow
// consumer only ever hurts itself.
type Subscriber struct {
	id    string
	queue chan []byte

	closeOnce sync.Once
}

func (s *Subscriber) ID() string { return s.id }

// Events is the delivery channel. It is closed when the subscriber is
// removed from the hub.
func (s *Subscriber) Events() <-chan []byte { return s.queue }

func (s *Subscriber) push(data []byte) {
	for {
		select {
		case s.queue <- data:
			return
		default:
			select {
			case <-s.queue:
				metrics.DroppedEventsTotal.Inc()
			default:
			}
		}
	}
}

// Hub fans out round and settlement events to every subscriber in publish
// order. Publishing never blocks on a subscriber: delivery is fire-and-forget
// per queue, and a dead or slow connection cannot delay the others. Broadcast
// failure never affects settlement correctness; the hub only observes state
// decided elsewhere.
type Hub struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new spectator queue.
func (h *Hub) Subscribe(id string) *Subscriber {
	sub := &Subscriber{
		id:    id,
		queue: make(chan []byte, defaultSubscriberQueue),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(count))
	h.log.Debug("subscriber attached", zap.String("id", id), zap.Int("total", count))
	return sub
}

// Unsubscribe removes the spectator and closes its delivery channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		sub.closeOnce.Do(func() { close(sub.queue) })
		metrics.ConnectedClients.Set(float64(count))
		h.log.Debug("subscriber detached", zap.String("id", sub.id), zap.Int("total", count))
	}
}

// Publish marshals the event once and enqueues it for every subscriber.
// Events reach each subscriber in the order they were published; distinct
// event types are never coalesced or reordered.
func (h *Hub) Publish(eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		h.log.Error("event marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	for sub := range h.subs {
		sub.push(payload)
	}
	h.mu.RUnlock()
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/liverelay/internal/config"
	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/sirupsen/logrus"
)

// Subscriber is one registered consumer queue. The hub owns the write side;
// the stream session (or any other consumer) reads from C until it is closed.
type Subscriber struct {
	ID        uuid.UUID
	CreatedAt time.Time
	C         <-chan *models.ChangeEvent

	queue chan *models.ChangeEvent
}

// Hub fans out change events to every registered subscriber without blocking
// on any single one of them. The registry is the only shared mutable
// structure: registration, removal and fan-out all go through h.mu.
type Hub struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*Subscriber
	capacity int
	policy   config.OverflowPolicy
	logger   *logrus.Logger
}

func New(capacity int, policy config.OverflowPolicy, logger *logrus.Logger) *Hub {
	return &Hub{
		subs:     make(map[uuid.UUID]*Subscriber),
		capacity: capacity,
		policy:   policy,
		logger:   logger,
	}
}

// Register allocates a bounded queue and adds it to the registry. The
// returned subscriber only ever receives events published after this call.
func (h *Hub) Register() *Subscriber {
	queue := make(chan *models.ChangeEvent, h.capacity)
	sub := &Subscriber{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		C:         queue,
		queue:     queue,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debugf("Registered subscriber %s (%d active)", sub.ID, h.Len())
	return sub
}

// Unregister removes the subscriber and closes its queue. Idempotent; safe
// to call while a Publish is in flight.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	if ok {
		delete(h.subs, sub.ID)
	}
	h.mu.Unlock()

	if ok {
		// Sends only happen under the read lock against subscribers still in
		// the registry, so closing here cannot race a send.
		close(sub.queue)
		h.logger.Debugf("Unregistered subscriber %s (%d active)", sub.ID, h.Len())
	}
}

// Publish delivers event to every registered subscriber's queue. It never
// blocks on a slow consumer: a full queue triggers the configured overflow
// policy instead.
func (h *Hub) Publish(event *models.ChangeEvent) {
	var evicted []*Subscriber

	h.mu.RLock()
	for _, sub := range h.subs {
		select {
		case sub.queue <- event:
			continue
		default:
		}

		switch h.policy {
		case config.OverflowDropOldest:
			// Make room by discarding the stalest pending event. The retry
			// is non-blocking too: the consumer may have drained meanwhile.
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- event:
			default:
			}
		default:
			evicted = append(evicted, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range evicted {
		h.logger.Warnf("Evicting subscriber %s: queue full after %s", sub.ID, time.Since(sub.CreatedAt))
		h.Unregister(sub)
	}
}

// Len reports the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

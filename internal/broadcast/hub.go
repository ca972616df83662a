package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ratewatch/internal/metrics"
	"ratewatch/internal/rates"
)

const defaultQueueSize = 16

// Subscriber is one live consumer of cache updates. Events arrive on C() in
// per-pair FIFO order until the subscriber leaves or falls behind.
type Subscriber struct {
	ID    uuid.UUID
	pairs map[rates.Pair]struct{} // nil means all pairs

	mu     sync.Mutex
	ch     chan rates.Entry
	closed bool
}

// C is the subscriber's event stream. It is closed on unsubscribe and on
// slow-consumer disconnect.
func (s *Subscriber) C() <-chan rates.Entry {
	return s.ch
}

func (s *Subscriber) wants(pair rates.Pair) bool {
	if s.pairs == nil {
		return true
	}
	_, ok := s.pairs[pair]
	return ok
}

// push enqueues an event without ever blocking. It reports false when the
// subscriber's queue is full, which marks it for disconnection.
func (s *Subscriber) push(entry rates.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- entry:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans cache-update events out to subscribers. A subscriber that cannot
// keep up is disconnected rather than allowed to stall the fan-out of others.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber

	queueSize int
	logger    zerolog.Logger
}

// NewHub constructs a hub whose subscribers buffer up to queueSize events.
func NewHub(queueSize int, logger zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		subs:      make(map[uuid.UUID]*Subscriber),
		queueSize: queueSize,
		logger:    logger.With().Str("component", "broadcast").Logger(),
	}
}

// Subscribe registers interest in the given pairs; no pairs means all.
func (h *Hub) Subscribe(pairs ...rates.Pair) *Subscriber {
	sub := &Subscriber{
		ID: uuid.New(),
		ch: make(chan rates.Entry, h.queueSize),
	}
	if len(pairs) > 0 {
		sub.pairs = make(map[rates.Pair]struct{}, len(pairs))
		for _, p := range pairs {
			sub.pairs[p] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	metrics.Subscribers.Inc()
	h.logger.Debug().Stringer("subscriber", sub.ID).Int("pairs", len(pairs)).Msg("subscriber joined")
	return sub
}

// Unsubscribe removes a subscriber and closes its stream. Safe to call at
// any time, including concurrently with an in-flight fan-out.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
		metrics.Subscribers.Dec()
		h.logger.Debug().Stringer("subscriber", id).Msg("subscriber left")
	}
}

// Publish delivers an update to every subscriber interested in its pair.
// Delivery never blocks; overflowing subscribers are dropped afterwards.
func (h *Hub) Publish(entry rates.Entry) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(entry.Snapshot.Pair) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	var dropped []uuid.UUID
	for _, sub := range targets {
		if !sub.push(entry) {
			dropped = append(dropped, sub.ID)
		}
	}
	metrics.EventsBroadcast.Inc()

	for _, id := range dropped {
		metrics.SlowConsumersDropped.Inc()
		h.logger.Warn().Stringer("subscriber", id).Str("pair", entry.Snapshot.Pair.String()).Msg("dropping slow consumer")
		h.Unsubscribe(id)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

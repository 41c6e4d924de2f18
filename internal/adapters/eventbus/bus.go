// Package eventbus provides an in-process implementation of the runtime
// event stream. Delivery uses a bounded channel per subscriber: a full
// subscriber loses the event (counted, never blocking the publisher), so
// a slow presentation layer cannot stall a lifecycle operation.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

const defaultBufferSize = 64

// Bus fans runtime events out to subscribers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*subscription
	bufferSize int
	closed     bool
	logger     ports.Logger
}

// BusOption configures the bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger ports.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[string]*subscription),
		bufferSize: defaultBufferSize,
		logger:     ports.NopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers an event to every subscriber. Events with a zero ID
// or timestamp are stamped before delivery. Publish never blocks; a
// subscriber whose buffer is full loses the event and its drop counter
// is incremented.
func (b *Bus) Publish(event ports.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			dropped := atomic.AddUint64(&sub.dropped, 1)
			if dropped == 1 || dropped%100 == 0 {
				b.logger.Warn(context.Background(), "event subscriber backlogged",
					ports.F("event", string(event.Type)),
					ports.F("dropped", dropped))
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its subscription.
func (b *Bus) Subscribe() ports.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:  uuid.New().String(),
		ch:  make(chan ports.Event, b.bufferSize),
		bus: b,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Close shuts the bus down, closing every subscriber channel. Publish
// calls after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type subscription struct {
	id       string
	ch       chan ports.Event
	dropped  uint64
	bus      *Bus
	cancelMu sync.Mutex
	done     bool
}

// Events returns the delivery channel.
func (s *subscription) Events() <-chan ports.Event {
	return s.ch
}

// Dropped reports how many events this subscriber lost.
func (s *subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Cancel stops delivery and closes the channel.
func (s *subscription) Cancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.done {
		return
	}
	s.done = true

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(s.ch)
	}
}

// Ensure interfaces are satisfied.
var (
	_ ports.Publisher    = (*Bus)(nil)
	_ ports.Subscription = (*subscription)(nil)
)

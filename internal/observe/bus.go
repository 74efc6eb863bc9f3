package observe

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the per-subscriber buffer bound when the config does
// not set one.
const DefaultBuffer = 128

// Bus fans observations out to subscribers without ever blocking the
// publisher. Each subscriber owns a bounded buffer; when a slow subscriber
// falls behind, its oldest unread observation is dropped rather than the
// publisher delayed. Fast subscribers see every observation in publish
// order; slow ones see a suffix-preserving subsequence, still in order.
type Bus struct {
	buffer int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one independent read position on the bus.
type Subscription struct {
	name    string
	ch      chan *Observation
	dropped atomic.Uint64
}

// C is the subscriber's receive channel. It is closed after Unsubscribe or
// bus Close; buffered observations remain readable until drained.
func (s *Subscription) C() <-chan *Observation { return s.ch }

// Dropped reports how many observations this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// NewBus creates a bus with the given per-subscriber buffer bound.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. The name only labels log lines.
func (b *Bus) Subscribe(name string) *Subscription {
	s := &Subscription{name: name, ch: make(chan *Observation, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe stops delivery and releases the subscriber's buffer. Already
// buffered observations remain readable.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers o to every subscriber. The cost is bounded by the
// enqueue: a full subscriber buffer sheds its oldest item instead of
// stalling the caller. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(o *Observation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- o:
			continue
		default:
		}
		// Buffer full: drop the oldest unread item for this subscriber
		// only. The publisher lock makes us the only sender, so one slot
		// is free after the receive unless the consumer drained it first.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- o:
		default:
			s.dropped.Add(1)
			log.Warn().Str("subscriber", s.name).Msg("bus: dropped observation on overflow")
		}
	}
}

// Close stops delivery to all subscribers and closes their channels.
// Subscribers drain their remaining buffers and then see channel close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

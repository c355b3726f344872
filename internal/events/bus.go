package events

import "sync"

// DefaultBuffer is the per-subscriber channel depth used by Subscribe.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: subscribers with
// a full buffer miss the event and their drop counter increments.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription receives events on C until Close. Dropped reports how many
// events this subscriber missed because its buffer was full.
type Subscription struct {
	C chan Event

	bus     *Bus
	mu      sync.Mutex
	dropped uint64
	once    sync.Once
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber with the default buffer depth.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffered(DefaultBuffer)
}

// SubscribeBuffered registers a new subscriber with an explicit buffer depth.
func (b *Bus) SubscribeBuffered(depth int) *Subscription {
	if depth < 1 {
		depth = 1
	}
	sub := &Subscription{C: make(chan Event, depth), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber that has buffer room.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		}
	}
}

// Close closes every subscription channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.C)
		delete(b.subs, sub)
	}
}

// Close removes the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.C)
		}
	})
}

// Dropped reports how many events were missed due to a full buffer.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

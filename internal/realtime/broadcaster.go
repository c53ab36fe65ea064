package realtime

import (
	"log"
	"sync"
)

// Subscriber owns its receive channel. Close it exactly once via Close; the
// channel is closed by the broadcaster so stream loops can range over it.
type Subscriber struct {
	C    chan Event
	b    *Broadcaster
	once sync.Once
}

// Close unsubscribes and closes the channel.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s)
	})
}

// Broadcaster fans events out to all subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event and catches up through
// the polling fallback.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	buffer int
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 32
	}
	return &Broadcaster{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := &Subscriber{C: make(chan Event, b.buffer), b: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) unsubscribe(s *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()
	if ok {
		close(s.C)
	}
}

// Publish delivers the event to every current subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.C <- ev:
		default:
			log.Printf("realtime: dropping %s event for booking %s on a slow subscriber", ev.Kind, ev.BookingID)
		}
	}
}

// SubscriberCount reports the number of connected subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

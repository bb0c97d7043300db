package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 100

type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string]chan Event),
	}
}

// Publish fans e out to every subscriber without blocking; a subscriber
// whose buffer is full misses the event.
func (b *InMemoryBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			slog.Warn("event dropped for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

func (b *InMemoryBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			close(ch)
			delete(b.subscribers, id)
		})
	}

	return ch, unsubscribe
}

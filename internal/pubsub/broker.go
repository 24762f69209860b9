package pubsub

import (
	"context"
	"sync"
)

const bufferSize = 64

// Broker fans events out to any number of subscribers. Publishing never
// blocks: a subscriber that has fallen more than bufferSize events behind
// misses events rather than stalling the publisher.
type Broker[T any] struct {
	mu       sync.RWMutex
	subs     map[chan Event[T]]struct{}
	done     chan struct{}
	shutdown bool
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[chan Event[T]]struct{}),
		done: make(chan struct{}),
	}
}

// Subscribe returns a channel of events that is closed when ctx is done or
// the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan Event[T], bufferSize)
	if b.shutdown {
		close(sub)
		return sub
	}
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Publish sends the event to all current subscribers.
func (b *Broker[T]) Publish(t EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.shutdown {
		return
	}
	for sub := range b.subs {
		select {
		case sub <- Event[T]{Type: t, Payload: payload}:
		default:
			// Subscriber is too far behind; drop rather than block.
		}
	}
}

// Shutdown closes all subscriber channels and rejects further publishes.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	b.shutdown = true
	close(b.done)
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub)
	}
}

// Package realtime serves the tenant-scoped live update stream and the
// database change feed to dashboard clients.
package realtime

import (
	"context"
	"sync"
)

// Broker fans values out to subscribers of a key. Slow subscribers miss
// values rather than blocking publishers.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan T]struct{}
	buffer      int
}

func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker[T]{
		subscribers: map[string]map[chan T]struct{}{},
		buffer:      buffer,
	}
}

// Subscribe registers for values published under key until ctx is done,
// at which point the returned channel is closed.
func (b *Broker[T]) Subscribe(ctx context.Context, key string) <-chan T {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	if b.subscribers[key] == nil {
		b.subscribers[key] = map[chan T]struct{}{}
	}
	b.subscribers[key][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if subs := b.subscribers[key]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subscribers, key)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers v to every current subscriber of key and reports how
// many received it.
func (b *Broker[T]) Publish(key string, v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for ch := range b.subscribers[key] {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for key.
func (b *Broker[T]) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

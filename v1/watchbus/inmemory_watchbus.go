package watchbus

import (
	"context"
	"sync"
)

// defaultBuffer is the per-watcher channel capacity.
const defaultBuffer = 16

// InMemoryWatchBus is an in-memory implementation of WatchBus.
type InMemoryWatchBus struct {
	mu     sync.Mutex
	subs   map[string][]chan []byte
	stops  map[chan []byte]func() bool
	buffer int
}

// NewInMemory creates a new InMemoryWatchBus.
func NewInMemory() *InMemoryWatchBus {
	return &InMemoryWatchBus{
		subs:   make(map[string][]chan []byte),
		stops:  make(map[chan []byte]func() bool),
		buffer: defaultBuffer,
	}
}

// Publish sends data to all watchers of topic.
func (b *InMemoryWatchBus) Publish(ctx context.Context, topic string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Sends happen under the lock so Unwatch cannot close a channel mid-send.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch subscribes to topic and returns a channel receiving messages.
func (b *InMemoryWatchBus) Watch(ctx context.Context, topic string) (chan []byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	// Registered under the lock so an early cancellation cannot run
	// Unwatch before the stop func is stored.
	b.stops[ch] = context.AfterFunc(ctx, func() {
		_ = b.Unwatch(context.Background(), topic, ch)
	})
	b.mu.Unlock()
	return ch, nil
}

// Unwatch removes the channel from topic watchers.
func (b *InMemoryWatchBus) Unwatch(ctx context.Context, topic string, ch chan []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	if stop, ok := b.stops[ch]; ok {
		stop()
		delete(b.stops, ch)
	}
	subs := b.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[topic] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	return nil
}

// Watchers returns the number of active watchers of topic.
func (b *InMemoryWatchBus) Watchers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

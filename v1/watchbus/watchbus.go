package watchbus

import "context"

// WatchBus provides a simple message bus for streaming events.
// Producers publish payloads to a topic and watchers receive them.
type WatchBus interface {
	// Publish sends the given data to all watchers of topic.
	// Slow watchers whose buffer is full miss the message.
	Publish(ctx context.Context, topic string, data []byte) error
	// Watch subscribes to messages for topic. The returned channel receives
	// payloads until the context is canceled or Unwatch is called.
	Watch(ctx context.Context, topic string) (chan []byte, error)
	// Unwatch stops delivering messages for topic to ch and closes it.
	Unwatch(ctx context.Context, topic string, ch chan []byte) error
}

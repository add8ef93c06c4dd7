// Package publisher sends wallboard updates to message brokers.
package publisher

import "context"

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// PublishRetained asks the broker to keep payload as the last value
	// of topic. Use it only for a bounded set of topics.
	PublishRetained(ctx context.Context, topic string, payload []byte) error
	Close() error
}

package core

import "context"

// Publisher accepts a message for asynchronous delivery. Publish resolves
// destinations at call time, enqueues the payload into each destination's
// cache and returns the number of successful deliveries. It never blocks on
// downstream processing; backpressure is bounded by cache capacity.
//
// The message bus is the canonical implementation. Agents and external
// producers depend only on this interface.
type Publisher interface {
	Publish(ctx context.Context, sourceID, keyword, payload string) int
}

// PublisherFunc adapts an ordinary function to the Publisher interface.
type PublisherFunc func(ctx context.Context, sourceID, keyword, payload string) int

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, sourceID, keyword, payload string) int {
	return f(ctx, sourceID, keyword, payload)
}

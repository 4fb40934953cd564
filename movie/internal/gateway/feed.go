package gateway

import "context"

// FeedSource opens connections to a change feed.
type FeedSource interface {
	Connect(ctx context.Context) (FeedStream, error)
}

// FeedStream yields raw change event payloads in arrival order.
type FeedStream interface {
	// Next blocks until a payload arrives, the stream fails, or ctx ends.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

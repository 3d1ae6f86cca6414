package pubsub

import "context"

// DeliverFunc receives raw payloads for a subscribed channel. A transport
// calls it from a single goroutine per subscription, in the order the
// backend delivers messages.
type DeliverFunc func(ctx context.Context, channel string, payload []byte)

// Transport moves raw payloads between processes.
//
// Ordering on a single channel is whatever the backend provides; the relay
// adds no ordering guarantee of its own.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, deliver DeliverFunc) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
	Name() string
}

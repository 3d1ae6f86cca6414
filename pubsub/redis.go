package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/ncobase/relay/data/store"
	"github.com/ncobase/relay/logging/logger"
	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes through the command store and receives on a
// dedicated subscriber client. A connection in subscriber mode cannot run
// normal commands, so the two must never be the same client.
//
// All channels share one subscription connection drained by one goroutine,
// which keeps per channel delivery in server order.
type RedisTransport struct {
	kv  store.KeyValueStore
	sub *redis.Client

	ps       *redis.PubSub
	handlers map[string]DeliverFunc
	pending  map[string][]chan struct{}
	done     chan struct{}
	closed   bool
	mu       sync.RWMutex
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport creates a transport publishing through kv and
// subscribing on sub.
func NewRedisTransport(kv store.KeyValueStore, sub *redis.Client) *RedisTransport {
	return &RedisTransport{
		kv:       kv,
		sub:      sub,
		handlers: make(map[string]DeliverFunc),
		pending:  make(map[string][]chan struct{}),
	}
}

// Name returns the transport name
func (t *RedisTransport) Name() string { return "redis" }

// Publish sends payload with PUBLISH. Having no receivers is not an error.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := t.kv.Publish(ctx, channel, payload)
	return err
}

// Subscribe registers deliver for channel, opening the shared subscription
// on first use. It returns once the server has confirmed the subscription,
// so a message published after Subscribe returns is received.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string, deliver DeliverFunc) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrRelayClosed
	}
	if t.sub == nil {
		t.mu.Unlock()
		return errors.New("pubsub: redis subscriber client is nil")
	}
	if _, ok := t.handlers[channel]; ok {
		t.handlers[channel] = deliver
		t.mu.Unlock()
		return nil
	}

	confirmed := make(chan struct{})
	t.pending[channel] = append(t.pending[channel], confirmed)
	t.handlers[channel] = deliver

	var err error
	if t.ps == nil {
		ps := t.sub.Subscribe(ctx)
		if err = ps.Subscribe(ctx, channel); err != nil {
			_ = ps.Close()
		} else {
			t.ps = ps
			t.done = make(chan struct{})
			go t.dispatch(ps.ChannelWithSubscriptions(), t.done)
		}
	} else {
		err = t.ps.Subscribe(ctx, channel)
	}
	if err != nil {
		t.forget(channel, confirmed)
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	select {
	case <-confirmed:
	case <-ctx.Done():
		t.mu.Lock()
		t.forget(channel, confirmed)
		ps := t.ps
		t.mu.Unlock()
		if ps != nil {
			_ = ps.Unsubscribe(context.WithoutCancel(ctx), channel)
		}
		return ctx.Err()
	}

	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrRelayClosed
	}
	return nil
}

// forget drops the handler and waiter of a subscription that did not
// complete. Callers hold t.mu.
func (t *RedisTransport) forget(channel string, confirmed chan struct{}) {
	delete(t.handlers, channel)
	waiters := t.pending[channel]
	for i, w := range waiters {
		if w == confirmed {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(t.pending, channel)
	} else {
		t.pending[channel] = waiters
	}
}

// confirm releases every Subscribe waiting on channel
func (t *RedisTransport) confirm(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.pending[channel] {
		close(w)
	}
	delete(t.pending, channel)
}

// Unsubscribe stops receiving channel
func (t *RedisTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.handlers[channel]; !ok {
		return nil
	}
	delete(t.handlers, channel)
	if t.ps == nil {
		return nil
	}
	return t.ps.Unsubscribe(ctx, channel)
}

// Close closes the shared subscription and waits for the dispatcher to exit.
// The clients themselves belong to the caller.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ps, done := t.ps, t.done
	t.ps = nil
	t.handlers = make(map[string]DeliverFunc)
	t.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}

func (t *RedisTransport) dispatch(ch <-chan any, done chan struct{}) {
	defer close(done)
	defer t.releasePending()

	ctx := context.Background()
	for raw := range ch {
		switch msg := raw.(type) {
		case *redis.Subscription:
			if msg.Kind == "subscribe" {
				t.confirm(msg.Channel)
			}
		case *redis.Message:
			t.mu.RLock()
			deliver := t.handlers[msg.Channel]
			t.mu.RUnlock()

			if deliver == nil {
				logger.Debugf(ctx, "pubsub: no handler for redis channel %s", msg.Channel)
				continue
			}
			deliver(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// releasePending wakes every Subscribe still waiting once the
// subscription connection is gone.
func (t *RedisTransport) releasePending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for channel, waiters := range t.pending {
		for _, w := range waiters {
			close(w)
		}
		delete(t.pending, channel)
	}
}

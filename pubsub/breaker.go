package pubsub

import (
	"context"
	"time"

	"github.com/ncobase/relay/logging/logger"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the publish circuit breaker
type BreakerSettings struct {
	// MinRequests is the number of requests in a window before the failure ratio is considered.
	MinRequests uint32
	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
	// Interval is the closed state counting window.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultBreakerSettings returns the settings used by the application
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  3,
		FailureRatio: 0.6,
		Interval:     5 * time.Second,
		Timeout:      3 * time.Second,
	}
}

// BreakerTransport fails publishes fast while the wrapped transport keeps
// failing. Subscriptions pass through untouched.
type BreakerTransport struct {
	Transport
	cb *gobreaker.CircuitBreaker
}

var _ Transport = (*BreakerTransport)(nil)

// NewBreakerTransport wraps next with a circuit breaker on Publish
func NewBreakerTransport(next Transport, st BreakerSettings) *BreakerTransport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < st.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= st.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf(context.Background(), "pubsub: %s breaker %s -> %s", name, from, to)
		},
	})
	return &BreakerTransport{Transport: next, cb: cb}
}

// Publish runs the wrapped publish through the breaker. An open breaker
// returns gobreaker.ErrOpenState without calling the transport.
func (b *BreakerTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.Transport.Publish(ctx, channel, payload)
	})
	return err
}

// State returns the breaker state
func (b *BreakerTransport) State() gobreaker.State {
	return b.cb.State()
}

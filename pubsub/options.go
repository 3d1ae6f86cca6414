package pubsub

import (
	"time"

	"github.com/ncobase/relay/data/metrics"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied when the relay is built without explicit settings.
const (
	DefaultPublishTimeout = 5 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultMessageType    = "message"
)

// Priority of a publication
type Priority string

// Priorities
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Option configures a Relay
type Option func(*Relay)

// WithSource sets the metadata source stamped on outgoing envelopes
func WithSource(source string) Option {
	return func(r *Relay) { r.source = source }
}

// WithPublishTimeout sets the default publication timeout. Non-positive values are ignored.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetry sets the number of retries after the first attempt and the
// fixed delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(r *Relay) {
		if attempts >= 0 {
			r.retries = attempts
		}
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

// WithCollector reports publish and consume outcomes to c
func WithCollector(c metrics.Collector) Option {
	return func(r *Relay) {
		if c != nil {
			r.collector = c
		}
	}
}

// WithTracerProvider replaces the global tracer provider for publish and
// deliver spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPropagator replaces the global propagator used to carry trace
// context in envelope metadata
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(r *Relay) {
		if p != nil {
			r.propagator = p
		}
	}
}

// PublishOption adjusts a single publication
type PublishOption func(*publishOptions)

type publishOptions struct {
	priority Priority
	metadata map[string]any
	timeout  time.Duration
	msgType  string
}

// WithPriority sets the publication priority. Unknown priorities are ignored.
func WithPriority(p Priority) PublishOption {
	return func(o *publishOptions) {
		if p.Valid() {
			o.priority = p
		}
	}
}

// WithMetadata adds extra envelope metadata. The version, priority and
// source entries are always set by the relay.
func WithMetadata(md map[string]any) PublishOption {
	return func(o *publishOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

// WithExpiration overrides the publication timeout
func WithExpiration(d time.Duration) PublishOption {
	return func(o *publishOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithType sets the envelope type
func WithType(t string) PublishOption {
	return func(o *publishOptions) {
		if t != "" {
			o.msgType = t
		}
	}
}

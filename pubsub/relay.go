// Package pubsub relays JSON messages over named channels.
//
// Every Publish creates a Publication that ends in exactly one terminal
// event: published, timeout or error. Delivery is retried with a fixed delay
// until the attempts run out or the publication times out. A timeout only
// stops waiting; an in-flight transport call is never cancelled and its late
// outcome is discarded.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/relay/ctxutil"
	"github.com/ncobase/relay/data/metrics"
	"github.com/ncobase/relay/logging/logger"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ncobase/relay/pubsub"

// Publication is one publish request
type Publication struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Priority  Priority        `json:"priority"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Timeout   time.Duration   `json:"timeout"`
}

// Handler processes one incoming message
type Handler func(ctx context.Context, msg *Message) error

// Relay publishes and dispatches messages over a Transport
type Relay struct {
	transport  Transport
	collector  metrics.Collector
	source     string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	listeners map[EventKind][]Listener
	lmu       sync.RWMutex

	active map[string]*Publication
	amu    sync.Mutex

	handlers map[string]Handler
	hmu      sync.RWMutex

	closed atomic.Bool
}

// NewRelay creates a relay over transport
func NewRelay(transport Transport, opts ...Option) *Relay {
	r := &Relay{
		transport:  transport,
		collector:  metrics.NoOpCollector{},
		timeout:    DefaultPublishTimeout,
		retries:    DefaultRetryAttempts,
		retryDelay: DefaultRetryDelay,
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
		listeners:  make(map[EventKind][]Listener),
		active:     make(map[string]*Publication),
		handlers:   make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transport returns the underlying transport
func (r *Relay) Transport() Transport { return r.transport }

// On registers a listener for kind. Listeners for the same kind run in
// registration order.
func (r *Relay) On(kind EventKind, l Listener) error {
	if !kind.Valid() {
		return fmt.Errorf("pubsub: unknown event kind %d", int(kind))
	}
	if l == nil {
		return errors.New("pubsub: listener is nil")
	}
	r.lmu.Lock()
	r.listeners[kind] = append(r.listeners[kind], l)
	r.lmu.Unlock()
	return nil
}

func (r *Relay) emit(ctx context.Context, ev Event) {
	r.lmu.RLock()
	ls := append([]Listener(nil), r.listeners[ev.Kind]...)
	r.lmu.RUnlock()

	for _, l := range ls {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Errorf(ctx, "pubsub: %s listener panicked: %v", ev.Kind, p)
				}
			}()
			l(ev)
		}()
	}
}

// ActivePublications returns the publications still waiting for an outcome
func (r *Relay) ActivePublications() []Publication {
	r.amu.Lock()
	out := make([]Publication, 0, len(r.active))
	for _, p := range r.active {
		out = append(out, *p)
	}
	r.amu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// finish removes id from the active table. Only the caller that removes it
// may emit the terminal event.
func (r *Relay) finish(id string) bool {
	r.amu.Lock()
	defer r.amu.Unlock()
	if _, ok := r.active[id]; !ok {
		return false
	}
	delete(r.active, id)
	return true
}

// Publish encodes message as the envelope payload and delivers it on channel.
//
// It returns the publication once the transport accepted it. Otherwise it
// returns *TimeoutError when the timeout fires first, *RetriesExhaustedError
// when every attempt failed, or the context error when ctx ends first.
func (r *Relay) Publish(ctx context.Context, channel string, message any, opts ...PublishOption) (*Publication, error) {
	if r.closed.Load() {
		return nil, ErrRelayClosed
	}
	if channel == "" {
		return nil, errors.New("pubsub: channel is required")
	}

	o := publishOptions{priority: PriorityNormal, timeout: r.timeout, msgType: DefaultMessageType}
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("pubsub: encode payload: %w", err)
	}

	ctx, traceID := ctxutil.EnsureTraceID(ctx)
	md := make(map[string]any, len(o.metadata)+1)
	for k, v := range o.metadata {
		md[k] = v
	}
	if _, ok := md[ctxutil.TraceIDKey]; !ok {
		md[ctxutil.TraceIDKey] = traceID
	}
	source := r.source
	if s := ctxutil.GetSource(ctx); s != "" {
		source = s
	}

	pub := &Publication{
		ID:        uuid.NewString(),
		Channel:   channel,
		Type:      o.msgType,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  o.priority,
		Metadata:  md,
		Timeout:   o.timeout,
	}

	ctx, span := r.tracer.Start(ctx, "pubsub.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", r.transport.Name()),
			attribute.String("messaging.destination", channel),
			attribute.String("messaging.message_id", pub.ID),
			attribute.String("pubsub.priority", string(pub.Priority)),
			attribute.String("pubsub.type", pub.Type),
		))
	defer span.End()
	r.propagator.Inject(ctx, metadataCarrier(md))

	data, err := encodeEnvelope(pub, source)
	if err != nil {
		err = fmt.Errorf("pubsub: encode envelope: %w", err)
		failSpan(span, err)
		return nil, err
	}

	r.amu.Lock()
	r.active[pub.ID] = pub
	r.amu.Unlock()

	stop := make(chan struct{})
	result := make(chan error, 1)
	go r.attempt(context.WithoutCancel(ctx), pub, data, stop, result)

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if !r.finish(pub.ID) {
			failSpan(span, ErrRelayClosed)
			return nil, ErrRelayClosed
		}
		if err != nil {
			failSpan(span, err)
			r.emit(ctx, Event{Kind: EventError, PublicationID: pub.ID, Publication: pub, Err: err})
			return nil, err
		}
		span.SetStatus(codes.Ok, "")
		r.emit(ctx, Event{Kind: EventPublished, PublicationID: pub.ID, Publication: pub})
		return pub, nil

	case <-timer.C:
		close(stop)
		terr := &TimeoutError{PublicationID: pub.ID, Timeout: o.timeout}
		failSpan(span, terr)
		if r.finish(pub.ID) {
			logger.EntryWithFields(ctx, logrus.Fields{
				"channel":        channel,
				"publication_id": pub.ID,
			}).Warnf("pubsub: publication timed out after %s", o.timeout)
			r.emit(ctx, Event{Kind: EventTimeout, PublicationID: pub.ID, Err: terr})
		}
		return nil, terr

	case <-ctx.Done():
		close(stop)
		err := fmt.Errorf("pubsub: publication %s: %w", pub.ID, ctx.Err())
		failSpan(span, err)
		if r.finish(pub.ID) {
			r.emit(ctx, Event{Kind: EventError, PublicationID: pub.ID, Publication: pub, Err: err})
		}
		return nil, err
	}
}

// attempt runs up to 1+retries transport publishes with a fixed delay and
// reports the outcome on result. Closing stop prevents further attempts.
func (r *Relay) attempt(ctx context.Context, pub *Publication, data []byte, stop <-chan struct{}, result chan<- error) {
	attempts := r.retries + 1
	span := trace.SpanFromContext(ctx)
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := time.NewTimer(r.retryDelay)
			select {
			case <-stop:
				delay.Stop()
				return
			case <-delay.C:
			}
		}

		select {
		case <-stop:
			return
		default:
		}

		err := r.transport.Publish(ctx, pub.Channel, data)
		r.collector.MQPublish(r.transport.Name(), err)
		attrs := []attribute.KeyValue{attribute.Int("attempt", i+1)}
		if err != nil {
			attrs = append(attrs, attribute.String("error", err.Error()))
		}
		span.AddEvent("attempt", trace.WithAttributes(attrs...))
		if err == nil {
			result <- nil
			return
		}

		lastErr = err
		logger.Warnf(ctx, "pubsub: publish %s on %s attempt %d/%d failed: %v", pub.ID, pub.Channel, i+1, attempts, err)
	}

	result <- &RetriesExhaustedError{Publication: pub, Attempts: attempts, Err: lastErr}
}

// Subscribe sets the handler for channel. A channel has one handler; a
// second Subscribe replaces it without subscribing on the transport again.
//
// The Redis and RabbitMQ transports return only after the broker has
// registered the subscription, so later publications are received. A Kafka
// reader starts at the newest offset after joining its consumer group and
// misses whatever is published before the join completes.
func (r *Relay) Subscribe(ctx context.Context, channel string, h Handler) error {
	if r.closed.Load() {
		return ErrRelayClosed
	}
	if channel == "" {
		return errors.New("pubsub: channel is required")
	}
	if h == nil {
		return errors.New("pubsub: handler is nil")
	}

	r.hmu.Lock()
	defer r.hmu.Unlock()

	if _, ok := r.handlers[channel]; ok {
		r.handlers[channel] = h
		return nil
	}
	if err := r.transport.Subscribe(ctx, channel, r.deliver); err != nil {
		return fmt.Errorf("pubsub: subscribe %s: %w", channel, err)
	}
	r.handlers[channel] = h
	return nil
}

// Unsubscribe removes the handler for channel and stops receiving it
func (r *Relay) Unsubscribe(ctx context.Context, channel string) error {
	r.hmu.Lock()
	_, ok := r.handlers[channel]
	delete(r.handlers, channel)
	r.hmu.Unlock()

	if !ok {
		return nil
	}
	if err := r.transport.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("pubsub: unsubscribe %s: %w", channel, err)
	}
	return nil
}

// deliver decodes and dispatches one incoming payload. Malformed messages
// and handler failures are logged; the subscription keeps running.
func (r *Relay) deliver(ctx context.Context, channel string, data []byte) {
	msg, err := DecodeEnvelope(channel, data)
	if err != nil {
		r.collector.MQConsume(r.transport.Name(), err)
		logger.Warnf(ctx, "pubsub: dropping message: %v", err)
		return
	}

	r.hmu.RLock()
	h := r.handlers[channel]
	r.hmu.RUnlock()
	if h == nil {
		return
	}
	if tid := msg.TraceID(); tid != "" {
		ctx = ctxutil.SetTraceID(ctx, tid)
	}

	ctx = r.propagator.Extract(ctx, metadataCarrier(msg.Metadata))
	ctx, span := r.tracer.Start(ctx, "pubsub.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", r.transport.Name()),
			attribute.String("messaging.destination", channel),
			attribute.String("messaging.message_id", msg.ID),
		))
	defer span.End()

	err = r.handle(ctx, h, msg)
	r.collector.MQConsume(r.transport.Name(), err)
	if err != nil {
		failSpan(span, err)
		logger.EntryWithFields(ctx, logrus.Fields{
			"channel":    channel,
			"message_id": msg.ID,
			"type":       msg.Type,
		}).Errorf("pubsub: handler failed: %v", err)
	}
}

func (r *Relay) handle(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, msg)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// metadataCarrier carries trace context in envelope metadata
type metadataCarrier map[string]any

func (c metadataCarrier) Get(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c metadataCarrier) Set(key, value string) { c[key] = value }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Close closes the transport. Publications still in flight end on their own.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.hmu.Lock()
	r.handlers = make(map[string]Handler)
	r.hmu.Unlock()

	return r.transport.Close()
}

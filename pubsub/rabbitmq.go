package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ncobase/relay/logging/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQTransport publishes to a topic exchange with the channel name as
// routing key. Every subscription owns an exclusive auto-delete queue bound
// to that key, so each subscriber receives its own copy.
type RabbitMQTransport struct {
	conn     *amqp.Connection
	exchange string

	pubCh  *amqp.Channel
	pubMu  sync.Mutex
	subs   map[string]*rabbitSubscription
	closed bool
	mu     sync.Mutex
}

type rabbitSubscription struct {
	ch   *amqp.Channel
	done chan struct{}
}

var _ Transport = (*RabbitMQTransport)(nil)

// NewRabbitMQTransport declares the exchange and returns the transport
func NewRabbitMQTransport(conn *amqp.Connection, exchange string) (*RabbitMQTransport, error) {
	if conn == nil || conn.IsClosed() {
		return nil, errors.New("pubsub: rabbitmq connection is not available")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQTransport{
		conn:     conn,
		exchange: exchange,
		subs:     make(map[string]*rabbitSubscription),
	}, nil
}

// Name returns the transport name
func (t *RabbitMQTransport) Name() string { return "rabbitmq" }

// publishChannel returns the confirm mode channel, reopening it after a failure.
func (t *RabbitMQTransport) publishChannel() (*amqp.Channel, error) {
	if t.pubCh != nil && !t.pubCh.IsClosed() {
		return t.pubCh, nil
	}
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to put channel in confirm mode: %w", err)
	}
	t.pubCh = ch
	return ch, nil
}

// Publish sends payload and waits for the broker confirmation
func (t *RabbitMQTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrRelayClosed
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	ch, err := t.publishChannel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		t.exchange, // exchange
		channel,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirmation: %w", err)
	}
	if !ok {
		return errors.New("publish was not acknowledged by the broker")
	}
	return nil
}

// Subscribe binds an exclusive queue to channel and consumes it
func (t *RabbitMQTransport) Subscribe(ctx context.Context, channel string, deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrRelayClosed
	}
	if _, ok := t.subs[channel]; ok {
		return nil
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // name, server generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err = ch.QueueBind(q.Name, channel, t.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if err = ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	sub := &rabbitSubscription{ch: ch, done: make(chan struct{})}
	t.subs[channel] = sub

	go func() {
		defer close(sub.done)
		dctx := context.WithoutCancel(ctx)
		for d := range msgs {
			deliver(dctx, channel, d.Body)
			if err := d.Ack(false); err != nil {
				logger.Warnf(dctx, "pubsub: rabbitmq ack on %s: %v", channel, err)
			}
		}
	}()

	return nil
}

// Unsubscribe closes the subscription channel, which deletes its queue
func (t *RabbitMQTransport) Unsubscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	sub, ok := t.subs[channel]
	delete(t.subs, channel)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.stop()
}

func (s *rabbitSubscription) stop() error {
	err := s.ch.Close()
	<-s.done
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// Close closes every channel the transport opened. The connection belongs to the caller.
func (t *RabbitMQTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = make(map[string]*rabbitSubscription)
	t.mu.Unlock()

	var errs []error
	for channel, sub := range subs {
		if err := sub.stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close rabbitmq subscription %s: %w", channel, err))
		}
	}

	t.pubMu.Lock()
	if t.pubCh != nil && !t.pubCh.IsClosed() {
		if err := t.pubCh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close rabbitmq publish channel: %w", err))
		}
	}
	t.pubCh = nil
	t.pubMu.Unlock()

	return errors.Join(errs...)
}

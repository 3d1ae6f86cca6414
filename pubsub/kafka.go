package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/relay/data/config"
	"github.com/ncobase/relay/logging/logger"
	"github.com/segmentio/kafka-go"
)

// KafkaTransport maps channels onto topics. Each relay instance reads with
// its own consumer group so every instance sees every message, matching
// broadcast pub/sub semantics.
type KafkaTransport struct {
	brokers []string
	group   string
	writer  *kafka.Writer
	readers map[string]*kafkaSubscription
	closed  bool
	mu      sync.Mutex
}

type kafkaSubscription struct {
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Transport = (*KafkaTransport)(nil)

// NewKafkaTransport creates a Kafka transport from configuration
func NewKafkaTransport(conf *config.Kafka) (*KafkaTransport, error) {
	if conf == nil || len(conf.Brokers) == 0 {
		return nil, errors.New("pubsub: kafka brokers are not configured")
	}
	return &KafkaTransport{
		brokers: conf.Brokers,
		group:   fmt.Sprintf("%s-%s", conf.ConsumerGroup, uuid.NewString()),
		readers: make(map[string]*kafkaSubscription),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(conf.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           conf.WriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Async:                  false,
		},
	}, nil
}

// Name returns the transport name
func (t *KafkaTransport) Name() string { return "kafka" }

// maxTopicLength is the longest topic name a Kafka broker accepts
const maxTopicLength = 249

const hexDigits = "0123456789abcdef"

// TopicName maps a channel onto a legal Kafka topic name. Bytes outside
// [A-Za-z0-9.-] are written as '_' followed by two lowercase hex digits,
// so distinct channels always map to distinct topics.
func TopicName(channel string) (string, error) {
	if channel == "" {
		return "", fmt.Errorf("%w: empty channel", ErrInvalidChannel)
	}
	var b strings.Builder
	b.Grow(len(channel))
	for i := 0; i < len(channel); i++ {
		c := channel[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	topic := b.String()
	if topic == "." || topic == ".." {
		return "", fmt.Errorf("%w: %q is a reserved kafka topic name", ErrInvalidChannel, channel)
	}
	if len(topic) > maxTopicLength {
		return "", fmt.Errorf("%w: %q exceeds %d bytes as a kafka topic", ErrInvalidChannel, channel, maxTopicLength)
	}
	return topic, nil
}

// ChannelName reverses TopicName.
func ChannelName(topic string) (string, error) {
	out := make([]byte, 0, len(topic))
	for i := 0; i < len(topic); i++ {
		if topic[i] != '_' {
			out = append(out, topic[i])
			continue
		}
		if i+2 >= len(topic) {
			return "", fmt.Errorf("%w: truncated escape in topic %q", ErrInvalidChannel, topic)
		}
		hi, lo := strings.IndexByte(hexDigits, topic[i+1]), strings.IndexByte(hexDigits, topic[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("%w: bad escape in topic %q", ErrInvalidChannel, topic)
		}
		out = append(out, byte(hi<<4|lo))
		i += 2
	}
	return string(out), nil
}

// Publish writes payload to the channel's topic. Messages with the same
// channel share a partition key so their order is kept.
func (t *KafkaTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	writer, closed := t.writer, t.closed
	t.mu.Unlock()
	if closed || writer == nil {
		return ErrRelayClosed
	}

	topic, err := TopicName(channel)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(channel),
		Value: payload,
		Time:  time.Now(),
	})
}

// Subscribe starts a reader for the channel's topic
func (t *KafkaTransport) Subscribe(ctx context.Context, channel string, deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrRelayClosed
	}
	if _, ok := t.readers[channel]; ok {
		return nil
	}
	topic, err := TopicName(channel)
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.brokers,
		GroupID:        t.group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 5 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Errorf(context.Background(), "kafka: "+msg, args...)
		}),
	})

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &kafkaSubscription{reader: reader, cancel: cancel, done: make(chan struct{})}
	t.readers[channel] = sub

	go t.consume(readCtx, channel, sub, deliver)
	return nil
}

func (t *KafkaTransport) consume(ctx context.Context, channel string, sub *kafkaSubscription, deliver DeliverFunc) {
	defer close(sub.done)

	for {
		m, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Errorf(ctx, "pubsub: kafka fetch on %s: %v", channel, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		deliver(ctx, channel, m.Value)

		if err := sub.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warnf(ctx, "pubsub: kafka commit on %s: %v", channel, err)
		}
	}
}

// Unsubscribe stops the channel's reader
func (t *KafkaTransport) Unsubscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	sub, ok := t.readers[channel]
	delete(t.readers, channel)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.stop()
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Close stops every reader and the writer
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	readers := t.readers
	t.readers = make(map[string]*kafkaSubscription)
	writer := t.writer
	t.writer = nil
	t.mu.Unlock()

	var errs []error
	for channel, sub := range readers {
		if err := sub.stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka reader %s: %w", channel, err))
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	return errors.Join(errs...)
}

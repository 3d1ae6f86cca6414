package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ncobase/relay/data/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Connections holds the process wide backend connections. RC serves normal
// commands; Sub is a separate client reserved for subscriber mode, which
// cannot issue normal commands while subscribed.
type Connections struct {
	RC     *redis.Client
	Sub    *redis.Client
	KFK    *kafka.Conn
	RMQ    *amqp.Connection
	closed bool
	mu     sync.Mutex
}

// New opens every connection the configuration asks for. It fails fast: the
// first connection error closes what was already opened and is returned.
func New(ctx context.Context, conf *config.Config) (*Connections, error) {
	if conf == nil {
		return nil, errors.New("data configuration is nil")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	c := &Connections{}
	var err error

	if c.RC, err = newRedisClient(ctx, conf.Redis, "relay-cmd"); err != nil {
		return nil, err
	}

	if c.Sub, err = newRedisClient(ctx, conf.Redis, "relay-sub"); err != nil {
		c.Close()
		return nil, err
	}

	if conf.Messaging != nil {
		switch conf.Messaging.Transport {
		case config.TransportKafka:
			if c.KFK, err = newKafkaConnection(ctx, conf.Kafka); err != nil {
				c.Close()
				return nil, err
			}
		case config.TransportRabbitMQ:
			if c.RMQ, err = newRabbitMQConnection(ctx, conf.RabbitMQ); err != nil {
				c.Close()
				return nil, err
			}
		}
	}

	return c, nil
}

// NewWithClients wraps already constructed Redis clients.
func NewWithClients(rc, sub *redis.Client) *Connections {
	return &Connections{RC: rc, Sub: sub}
}

// Close closes all data connections
func (c *Connections) Close() (errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if c.Sub != nil {
		if err := c.Sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis subscriber close error: %w", err))
		}
		c.Sub = nil
	}

	if c.RC != nil {
		if err := c.RC.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
		c.RC = nil
	}

	if c.KFK != nil {
		if err := c.KFK.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close error: %w", err))
		}
		c.KFK = nil
	}

	if c.RMQ != nil {
		if !c.RMQ.IsClosed() {
			if err := c.RMQ.Close(); err != nil {
				errs = append(errs, fmt.Errorf("rabbitmq close error: %w", err))
			}
		}
		c.RMQ = nil
	}

	c.closed = true

	return errs
}

// Ping checks both Redis connections
func (c *Connections) Ping(ctx context.Context) error {
	c.mu.Lock()
	rc, sub := c.RC, c.Sub
	c.mu.Unlock()

	if rc == nil {
		return newConnectionError("redis", "ping", errors.New("not connected"))
	}
	if err := rc.Ping(ctx).Err(); err != nil {
		return newConnectionError("redis", "ping", err)
	}
	if sub != nil {
		if err := sub.Ping(ctx).Err(); err != nil {
			return newConnectionError("redis", "ping subscriber", err)
		}
	}
	return nil
}

// PingKafka checks the Kafka controller is reachable.
func (c *Connections) PingKafka() error {
	if c.KFK == nil {
		return nil
	}
	if _, err := c.KFK.Controller(); err != nil {
		return newConnectionError("kafka", "controller", err)
	}
	return nil
}

// PingRabbitMQ reports whether the AMQP connection is still open.
func (c *Connections) PingRabbitMQ() error {
	if c.RMQ == nil {
		return nil
	}
	if c.RMQ.IsClosed() {
		return newConnectionError("rabbitmq", "ping", amqp.ErrClosed)
	}
	return nil
}

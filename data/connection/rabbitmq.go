package connection

import (
	"context"

	"github.com/ncobase/relay/data/config"
	"github.com/ncobase/relay/logging/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// newRabbitMQConnection opens an AMQP connection.
func newRabbitMQConnection(ctx context.Context, conf *config.RabbitMQ) (*amqp.Connection, error) {
	amqpCfg := amqp.Config{
		Vhost:     conf.Vhost,
		Heartbeat: conf.HeartbeatInterval,
		Dial:      amqp.DefaultDial(conf.ConnectionTimeout),
	}

	conn, err := amqp.DialConfig(conf.URL, amqpCfg)
	if err != nil {
		logger.Errorf(ctx, "Failed to connect to RabbitMQ: %v", err)
		return nil, newConnectionError("rabbitmq", "dial", err)
	}

	logger.Infof(ctx, "Connected to RabbitMQ")
	return conn, nil
}

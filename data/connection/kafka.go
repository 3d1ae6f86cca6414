package connection

import (
	"context"

	"github.com/ncobase/relay/data/config"
	"github.com/ncobase/relay/logging/logger"
	"github.com/segmentio/kafka-go"
)

// newKafkaConnection dials the first broker to verify the cluster is reachable.
func newKafkaConnection(ctx context.Context, conf *config.Kafka) (*kafka.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
	defer cancel()

	dialer := &kafka.Dialer{Timeout: conf.ConnectTimeout, ClientID: conf.ClientID}
	conn, err := dialer.DialContext(dialCtx, "tcp", conf.Brokers[0])
	if err != nil {
		logger.Errorf(ctx, "Failed to connect to Kafka: %v", err)
		return nil, newConnectionError("kafka", "dial", err)
	}

	logger.Infof(ctx, "Connected to Kafka at %s", conf.Brokers[0])
	return conn, nil
}

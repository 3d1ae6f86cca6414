package config

import (
	"errors"
	"time"

	"github.com/ncobase/relay/ecode"
	"github.com/spf13/viper"
)

// Transport names accepted by data.messaging.transport.
const (
	TransportRedis    = "redis"
	TransportKafka    = "kafka"
	TransportRabbitMQ = "rabbitmq"
)

// Messaging config for the pub/sub relay
type Messaging struct {
	Transport      string        `json:"transport" yaml:"transport"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	RetryAttempts  int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay"`
	Breaker        bool          `json:"breaker" yaml:"breaker"`
}

// getMessagingConfig reads messaging config
func getMessagingConfig(v *viper.Viper) *Messaging {
	return &Messaging{
		Transport:      GetString(v, "data.messaging.transport", TransportRedis),
		PublishTimeout: GetDuration(v, "data.messaging.publish_timeout", 5*time.Second),
		RetryAttempts:  GetInt(v, "data.messaging.retry_attempts", 3),
		RetryDelay:     GetDuration(v, "data.messaging.retry_delay", time.Second),
		Breaker:        GetBool(v, "data.messaging.breaker", false),
	}
}

// Validate validates messaging settings
func (m *Messaging) Validate() error {
	switch m.Transport {
	case TransportRedis, TransportKafka, TransportRabbitMQ:
	default:
		return errors.New(ecode.FieldIsInvalidf("data.messaging.transport", m.Transport))
	}
	if m.PublishTimeout <= 0 {
		return errors.New(ecode.FieldIsInvalidf("data.messaging.publish_timeout", m.PublishTimeout))
	}
	if m.RetryAttempts < 0 {
		return errors.New(ecode.FieldIsInvalidf("data.messaging.retry_attempts", m.RetryAttempts))
	}
	if m.RetryDelay < 0 {
		return errors.New(ecode.FieldIsInvalidf("data.messaging.retry_delay", m.RetryDelay))
	}
	return nil
}

package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config data config struct
type Config struct {
	*Redis     `yaml:"redis" json:"redis"`
	*Kafka     `yaml:"kafka" json:"kafka"`
	*RabbitMQ  `yaml:"rabbitmq" json:"rabbitmq"`
	*Messaging `yaml:"messaging" json:"messaging"`
	*Metrics   `yaml:"metrics" json:"metrics"`
}

// GetConfig returns data config
func GetConfig(v *viper.Viper) *Config {
	return &Config{
		Redis:     getRedisConfigs(v),
		Kafka:     getKafkaConfigs(v),
		RabbitMQ:  getRabbitMQConfigs(v),
		Messaging: getMessagingConfig(v),
		Metrics:   getMetricsConfig(v),
	}
}

// Validate checks the data layer settings that must hold before any connection is made.
func (c *Config) Validate() error {
	if c == nil || c.Redis == nil {
		return errors.New("data: redis configuration is required")
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if c.Messaging != nil {
		if err := c.Messaging.Validate(); err != nil {
			return err
		}
		switch c.Messaging.Transport {
		case TransportKafka:
			if c.Kafka == nil || len(c.Kafka.Brokers) == 0 {
				return errors.New("data: kafka transport selected but data.kafka.brokers is empty")
			}
		case TransportRabbitMQ:
			if c.RabbitMQ == nil || c.RabbitMQ.URL == "" {
				return errors.New("data: rabbitmq transport selected but data.rabbitmq.url is empty")
			}
		}
	}
	if c.Metrics != nil {
		return c.Metrics.Validate()
	}
	return nil
}

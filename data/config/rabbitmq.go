package config

import (
	"time"

	"github.com/spf13/viper"
)

// RabbitMQ rabbitmq config struct
type RabbitMQ struct {
	URL               string        `json:"url" yaml:"url"`
	Exchange          string        `json:"exchange" yaml:"exchange"`
	Vhost             string        `json:"vhost" yaml:"vhost"`
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// getRabbitMQConfigs reads RabbitMQ configurations
func getRabbitMQConfigs(v *viper.Viper) *RabbitMQ {
	return &RabbitMQ{
		URL:               v.GetString("data.rabbitmq.url"),
		Exchange:          GetString(v, "data.rabbitmq.exchange", "relay.events"),
		Vhost:             v.GetString("data.rabbitmq.vhost"),
		ConnectionTimeout: GetDuration(v, "data.rabbitmq.connection_timeout", 5*time.Second),
		HeartbeatInterval: GetDuration(v, "data.rabbitmq.heartbeat_interval", 10*time.Second),
	}
}

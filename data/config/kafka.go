package config

import (
	"time"

	"github.com/spf13/viper"
)

// Kafka kafka config struct
type Kafka struct {
	Brokers        []string      `json:"brokers" yaml:"brokers"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	ConsumerGroup  string        `json:"consumer_group" yaml:"consumer_group"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// getKafkaConfigs reads Kafka configurations
func getKafkaConfigs(v *viper.Viper) *Kafka {
	return &Kafka{
		Brokers:        v.GetStringSlice("data.kafka.brokers"),
		ClientID:       GetString(v, "data.kafka.client_id", "relay"),
		ConsumerGroup:  GetString(v, "data.kafka.consumer_group", "relay"),
		ReadTimeout:    GetDuration(v, "data.kafka.read_timeout", 10*time.Second),
		WriteTimeout:   GetDuration(v, "data.kafka.write_timeout", 10*time.Second),
		ConnectTimeout: GetDuration(v, "data.kafka.connect_timeout", 5*time.Second),
	}
}

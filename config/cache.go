package config

import (
	"time"

	dc "github.com/ncobase/relay/data/config"
	"github.com/spf13/viper"
)

// Cache config struct
type Cache struct {
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" validate:"gt=0"`
	Namespace  string        `json:"namespace" yaml:"namespace"`
}

// getCacheConfig reads cache config. default_ttl accepts "1h" or 3600.
func getCacheConfig(v *viper.Viper) *Cache {
	return &Cache{
		DefaultTTL: dc.GetSeconds(v, "cache.default_ttl", time.Hour),
		Namespace:  v.GetString("cache.namespace"),
	}
}

// Validate validates cache settings
func (c *Cache) Validate() error {
	return validateStruct("cache", c)
}

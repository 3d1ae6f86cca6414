package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	dc "github.com/ncobase/relay/data/config"
	lc "github.com/ncobase/relay/logging/logger/config"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_DATA_REDIS_ADDR.
const EnvPrefix = "RELAY"

// Config represents the configuration implementation.
type Config struct {
	AppName  string
	RunMode  string
	Logger   *lc.Config
	Observes *Observes
	Data     *dc.Config
	Cache    *Cache
	Monitor  *Monitor
	Viper    *viper.Viper
}

// New returns a viper instance with environment overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads the configuration from configPath. With an empty path the
// usual locations are searched for config.yaml; finding none is not an error,
// the environment alone may configure the process.
func LoadConfig(configPath string) (*Config, error) {
	v := New()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/etc/relay")
		v.AddConfigPath("$HOME/.relay")
		v.AddConfigPath(".")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(ex))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return FromViper(v), nil
}

// FromViper builds the configuration from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppName:  dc.GetString(v, "app_name", "relay"),
		RunMode:  dc.GetString(v, "run_mode", "release"),
		Logger:   lc.GetConfig(v),
		Observes: getObservesConfig(v),
		Data:     dc.GetConfig(v),
		Cache:    getCacheConfig(v),
		Monitor:  getMonitorConfig(v),
		Viper:    v,
	}
}

// Validate fails fast on settings that would only break at first use.
func (c *Config) Validate() error {
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Monitor.Validate()
}

// Watcher reloads the configuration when its file changes.
type Watcher struct {
	v  *viper.Viper
	mu sync.Mutex
}

// Watch calls callback with the reloaded configuration after every change
// of the file cfg was read from. Invalid reloads are passed to onError and
// the callback is skipped.
func Watch(cfg *Config, callback func(*Config), onError func(error)) *Watcher {
	w := &Watcher{v: cfg.Viper}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.mu.Lock()
		defer w.mu.Unlock()

		next := FromViper(w.v)
		if err := next.Validate(); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(next)
	})
	w.v.WatchConfig()
	return w
}

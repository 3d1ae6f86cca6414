package config

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Lookup converts the value at key with conv. It returns def when the key is
// unset, holds an empty string or does not convert.
func Lookup[T any](v *viper.Viper, key string, def T, conv func(any) (T, error)) T {
	if !v.IsSet(key) {
		return def
	}
	raw := v.Get(key)
	if s, ok := raw.(string); ok && s == "" {
		return def
	}
	out, err := conv(raw)
	if err != nil {
		return def
	}
	return out
}

// GetString reads a string setting
func GetString(v *viper.Viper, key, def string) string {
	return Lookup(v, key, def, cast.ToStringE)
}

// GetInt reads an int setting
func GetInt(v *viper.Viper, key string, def int) int {
	return Lookup(v, key, def, cast.ToIntE)
}

// GetFloat64 reads a float setting
func GetFloat64(v *viper.Viper, key string, def float64) float64 {
	return Lookup(v, key, def, cast.ToFloat64E)
}

// GetBool reads a bool setting
func GetBool(v *viper.Viper, key string, def bool) bool {
	return Lookup(v, key, def, cast.ToBoolE)
}

// GetDuration reads a duration setting such as "500ms" or "1h"
func GetDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	return Lookup(v, key, def, cast.ToDurationE)
}

// GetSeconds reads a duration that may also be written as a plain number
// of seconds.
func GetSeconds(v *viper.Viper, key string, def time.Duration) time.Duration {
	return Lookup(v, key, def, func(raw any) (time.Duration, error) {
		if n, err := cast.ToInt64E(raw); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return cast.ToDurationE(raw)
	})
}

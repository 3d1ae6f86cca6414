// Package config loads application configuration with Viper.
//
// Values come from a YAML, JSON or TOML file and may be overridden by
// environment variables prefixed with RELAY, with dots replaced by
// underscores:
//
//	export RELAY_DATA_REDIS_ADDR=redis:6379
//	export RELAY_CACHE_DEFAULT_TTL=600
//
// Example YAML:
//
//	app_name: relay
//	run_mode: release
//	logger:
//	  level: 4
//	  format: json
//	observes:
//	  tracer:
//	    endpoint: otel-collector:4317
//	    sampling_rate: 0.1
//	data:
//	  redis:
//	    addr: localhost:6379
//	  messaging:
//	    transport: redis
//	    publish_timeout: 5s
//	    retry_attempts: 3
//	    retry_delay: 1s
//	  metrics:
//	    retention: 168h
//	cache:
//	  default_ttl: 1h
//	monitor:
//	  enabled: true
//	  interval: 5m
//	  max_snapshots: 12
//	  memory_limit: 1073741824
//	  redis:
//	    enabled: true
//	    interval: 1m
//	    thresholds:
//	      fragmentation:
//	        warning: 1.5
//	        critical: 3
//
// Watch reloads the file on change and hands the validated result to a callback.
package config

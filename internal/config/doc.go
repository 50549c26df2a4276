// Package config provides configuration management for domainop.
//
// Configuration is read from config.yaml in a single directory. The default
// directory is ~/.config/domainop; commands accept --config-path to point
// elsewhere. A missing file is not an error: the defaults from
// GetDefaultConfig apply. Values present in the file override the defaults
// field by field, and command line flags override both.
//
// # File Format
//
//	engine:
//	  workers: 8
//	  fiberTimeout: 2m
//	  shutdownTimeout: 30s
//	  maxInFlightCalls: 16
//	  callTimeout: 30s
//	retry:
//	  strategy: exponential   # exponential, fixed or none
//	  initialInterval: 1s
//	  maxInterval: 5m
//	  multiplier: 2
//	  jitter: 0.1
//	  maxAttempts: 5
//	reconciler:
//	  mode: kubernetes        # kubernetes or filesystem
//	  path: /etc/domainop     # manifests live in {path}/domains
//	  namespace: apps
//	  debounceInterval: 500ms
//	  resyncInterval: 10m
//	metrics:
//	  bindAddress: ":8080"
//	  probeBindAddress: ":8081"
//	logging:
//	  level: info
//	  format: text
//	telemetry:
//	  enabled: true           # export fiber spans over OTLP HTTP
//	  endpoint: localhost:4318
//	  insecure: true
//	  sampling: 1.0
//
// Durations use Go syntax (30s, 5m).
//
// # Validation
//
// LoadConfig validates the merged configuration and reports every problem at
// once as ValidationErrors. ConfigurationError and its collection describe
// per-file failures found by the validate command.
package config

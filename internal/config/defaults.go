package config

import (
	"runtime"
	"time"
)

const (
	// DefaultNamespace is where filesystem mode places Domains.
	DefaultNamespace = "default"

	// DefaultMetricsBindAddress matches the controller-runtime convention.
	DefaultMetricsBindAddress = ":8080"

	// DefaultProbeBindAddress serves /healthz and /readyz.
	DefaultProbeBindAddress = ":8081"

	// DefaultTelemetryEndpoint is the local OTLP HTTP collector.
	DefaultTelemetryEndpoint = "localhost:4318"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() DomainopConfig {
	return DomainopConfig{
		Engine: EngineConfig{
			Workers:          runtime.NumCPU(),
			ShutdownTimeout:  30 * time.Second,
			MaxInFlightCalls: 16,
			CallTimeout:      30 * time.Second,
		},
		Retry: RetryConfig{
			Strategy:        RetryExponential,
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2,
			Jitter:          0.1,
			MaxAttempts:     5,
		},
		Reconciler: ReconcilerConfig{
			Mode:             WatchModeKubernetes,
			DebounceInterval: 500 * time.Millisecond,
			ResyncInterval:   10 * time.Minute,
		},
		Metrics: MetricsConfig{
			BindAddress:      DefaultMetricsBindAddress,
			ProbeBindAddress: DefaultProbeBindAddress,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "domainop",
			Endpoint:    DefaultTelemetryEndpoint,
			Sampling:    1,
		},
	}
}

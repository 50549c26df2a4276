package config

import "time"

// DomainopConfig is the top-level configuration structure for domainop.
type DomainopConfig struct {
	Engine     EngineConfig     `yaml:"engine"`
	Retry      RetryConfig      `yaml:"retry"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// EngineConfig sizes the worker pool and bounds fiber execution.
type EngineConfig struct {
	Workers          int           `yaml:"workers,omitempty"`          // Worker goroutines (default: number of CPUs)
	FiberTimeout     time.Duration `yaml:"fiberTimeout,omitempty"`     // Per-attempt watchdog, 0 disables it
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout,omitempty"`  // How long Stop waits for fibers (default: 30s)
	MaxInFlightCalls int           `yaml:"maxInFlightCalls,omitempty"` // Concurrent API calls across all domains (default: 16)
	CallTimeout      time.Duration `yaml:"callTimeout,omitempty"`      // Bound for a single API call (default: 30s)
}

// RetryStrategy names a retry policy.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryFixed       RetryStrategy = "fixed"
	RetryNone        RetryStrategy = "none"
)

// RetryConfig configures how retryable failures restart a chain.
type RetryConfig struct {
	Strategy        RetryStrategy `yaml:"strategy,omitempty"`
	InitialInterval time.Duration `yaml:"initialInterval,omitempty"` // First delay, or the constant delay for fixed
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
	Multiplier      float64       `yaml:"multiplier,omitempty"`
	Jitter          float64       `yaml:"jitter,omitempty"`      // Randomization factor in [0, 1)
	MaxAttempts     int           `yaml:"maxAttempts,omitempty"` // Total attempts including the first
}

// WatchMode selects where Domains come from.
type WatchMode string

const (
	WatchModeKubernetes WatchMode = "kubernetes"
	WatchModeFilesystem WatchMode = "filesystem"
)

// ReconcilerConfig configures change detection.
type ReconcilerConfig struct {
	Mode             WatchMode     `yaml:"mode,omitempty"`
	Path             string        `yaml:"path,omitempty"`      // Manifest directory in filesystem mode
	Namespace        string        `yaml:"namespace,omitempty"` // Empty watches all namespaces in kubernetes mode
	DebounceInterval time.Duration `yaml:"debounceInterval,omitempty"`
	ResyncInterval   time.Duration `yaml:"resyncInterval,omitempty"` // 0 disables periodic resync
}

// MetricsConfig configures the controller-runtime HTTP endpoints.
type MetricsConfig struct {
	BindAddress      string `yaml:"bindAddress,omitempty"`      // "0" disables the metrics server
	ProbeBindAddress string `yaml:"probeBindAddress,omitempty"` // Health and readiness probes
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// TelemetryConfig configures OpenTelemetry tracing of fibers.
type TelemetryConfig struct {
	// Enabled exports fiber spans to an OTLP collector. When false spans
	// go to a no-op provider.
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"serviceName,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"` // OTLP HTTP collector as host:port
	Insecure    bool    `yaml:"insecure,omitempty"` // Plain HTTP, for development only
	Sampling    float64 `yaml:"sampling,omitempty"` // Ratio of traces kept, in [0, 1]
}

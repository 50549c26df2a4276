package app

import (
	"domainop/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug bool

	// Custom configuration path (optional)
	// When empty, ~/.config/domainop is used
	ConfigPath string

	// LeaderElect enables controller-runtime leader election
	LeaderElect bool

	// Version is reported as the service version of exported traces
	Version string

	// Overrides are command line values that win over config.yaml
	Overrides Overrides

	// Loaded configuration
	DomainopConfig *config.DomainopConfig
}

// Overrides holds flag values. Zero values leave the file value in place.
type Overrides struct {
	Mode               string
	Path               string
	Namespace          string
	MetricsBindAddress string
	Workers            int
	LogFormat          string
}

func (o Overrides) apply(c *config.DomainopConfig) {
	if o.Mode != "" {
		c.Reconciler.Mode = config.WatchMode(o.Mode)
	}
	if o.Path != "" {
		c.Reconciler.Path = o.Path
	}
	if o.Namespace != "" {
		c.Reconciler.Namespace = o.Namespace
	}
	if o.MetricsBindAddress != "" {
		c.Metrics.BindAddress = o.MetricsBindAddress
	}
	if o.Workers > 0 {
		c.Engine.Workers = o.Workers
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string, overrides Overrides) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Overrides:  overrides,
	}
}

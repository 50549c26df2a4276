package app

import (
	"context"
	"fmt"
	"os"

	"domainop/internal/config"
	"domainop/pkg/logging"
)

// Application represents the main application structure that bootstraps and runs domainop.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: Load configuration, initialize logging, set up services
//  2. Execution phase: Run the controller-runtime manager until ctx is cancelled
//
// Example usage:
//
//	cfg := app.NewConfig(false, "", app.Overrides{Mode: "filesystem", Path: "/etc/domainop"})
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, initializes logging and creates
// all services. It does not start anything.
func NewApplication(cfg *Config) (*Application, error) {
	if err := loadConfiguration(cfg); err != nil {
		return nil, err
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// loadConfiguration reads config.yaml, applies the flag overrides and
// switches logging to the configured level and format.
func loadConfiguration(cfg *Config) error {
	// Configure logging based on debug flag until the file is read
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	logging.InitForCLI(appLogLevel, os.Stderr)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	dc, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load domainop configuration from path: %s", configPath)
		return fmt.Errorf("failed to load domainop configuration from path %s: %w", configPath, err)
	}

	cfg.Overrides.apply(&dc)
	if err := dc.Validate(); err != nil {
		return config.FormatValidationError("configuration", configPath, err)
	}
	cfg.DomainopConfig = &dc

	level, _ := logging.ParseLevel(dc.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(logging.Options{
		Level:  level,
		Format: logging.Format(dc.Logging.Format),
		Output: os.Stderr,
	})
	return nil
}

// Run starts the services and blocks until ctx is cancelled and shutdown
// has finished.
func (a *Application) Run(ctx context.Context) error {
	return runOperator(ctx, a.services)
}

package app

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"domainop/internal/calls"
	"domainop/internal/config"
	"domainop/internal/makeright"
	"domainop/internal/reconciler"
	"domainop/internal/work"
)

// retryStrategy builds the engine retry policy from the retry section.
func retryStrategy(c config.RetryConfig) work.RetryStrategy {
	switch c.Strategy {
	case config.RetryNone:
		return work.NoRetry{}
	case config.RetryFixed:
		return work.FixedBackoff{
			Interval:    c.InitialInterval,
			MaxAttempts: c.MaxAttempts,
		}
	default:
		return work.ExponentialBackoff{
			InitialInterval: c.InitialInterval,
			MaxInterval:     c.MaxInterval,
			Multiplier:      c.Multiplier,
			Jitter:          c.Jitter,
			MaxAttempts:     c.MaxAttempts,
		}
	}
}

// managerConfig maps the reconciler section onto reconciler.ManagerConfig.
// Filesystem mode always has a namespace so file and event keys agree.
func managerConfig(c config.DomainopConfig) reconciler.ManagerConfig {
	mc := reconciler.ManagerConfig{
		Mode:             reconciler.WatchMode(c.Reconciler.Mode),
		FilesystemPath:   c.Reconciler.Path,
		Namespace:        c.Reconciler.Namespace,
		DebounceInterval: c.Reconciler.DebounceInterval,
		ResyncInterval:   c.Reconciler.ResyncInterval,
		ShutdownTimeout:  c.Engine.ShutdownTimeout,
	}
	if mc.Mode == reconciler.WatchModeFilesystem && mc.Namespace == "" {
		mc.Namespace = config.DefaultNamespace
	}
	return mc
}

// makerightOptions sizes the API call limiter of the step library.
func makerightOptions(c config.EngineConfig, m *calls.Metrics) makeright.Options {
	return makeright.Options{
		Limiter:     calls.NewLimiter(c.MaxInFlightCalls),
		CallTimeout: c.CallTimeout,
		Metrics:     m,
	}
}

// gateConfig builds the engine settings shared by all chains. A nil tracer
// leaves the gate on the global tracer provider.
func gateConfig(c config.DomainopConfig, sched *work.Scheduler, m *work.Metrics, tracer trace.Tracer) work.GateConfig {
	return work.GateConfig{
		Scheduler:    sched,
		Retry:        retryStrategy(c.Retry),
		FiberTimeout: c.Engine.FiberTimeout,
		Metrics:      m,
		Tracer:       tracer,
	}
}

// shutdownGrace is how long controller-runtime waits for runnables. It covers
// the reconciler's own shutdown timeout.
func shutdownGrace(c config.EngineConfig) time.Duration {
	return c.ShutdownTimeout + 5*time.Second
}

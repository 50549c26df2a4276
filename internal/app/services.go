package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"domainop/internal/calls"
	"domainop/internal/config"
	"domainop/internal/makeright"
	"domainop/internal/reconciler"
	"domainop/internal/status"
	"domainop/internal/telemetry"
	"domainop/internal/work"
	"domainop/pkg/apis/domain/v1alpha1"
	"domainop/pkg/logging"
)

const (
	// eventSource is the component name on emitted Kubernetes events.
	eventSource = "domainop"

	leaderElectionID = "domainop-leader"
)

// Services holds all initialized components used by the application.
type Services struct {
	// Scheduler is the worker pool every fiber runs on. It outlives the
	// reconciler so that shutdown can drain cancelled chains.
	Scheduler *work.Scheduler

	// Reconciler turns Domain changes into chains on the gate.
	Reconciler *reconciler.Manager

	// Manager is the controller-runtime manager providing the client, the
	// informer cache, the metrics server and health probes.
	Manager manager.Manager

	// TracerProvider exports fiber spans. It is flushed after the manager stops.
	TracerProvider trace.TracerProvider
}

// Dependencies are the cluster facing collaborators the components run against.
type Dependencies struct {
	Client     client.Client
	Informers  cache.Informers
	Recorder   status.EventRecorder
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

// InitializeServices creates the controller-runtime manager and the domain
// components, and registers the reconciler as a manager runnable.
func InitializeServices(cfg *Config) (*Services, error) {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return initializeServices(cfg, restConfig)
}

func initializeServices(cfg *Config, restConfig *rest.Config) (*Services, error) {
	dc := *cfg.DomainopConfig

	tp, err := telemetry.NewTracerProvider(context.Background(), dc.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("unable to set up tracing: %w", err)
	}

	mgr, err := ctrl.NewManager(restConfig, managerOptions(dc, cfg.LeaderElect))
	if err != nil {
		return nil, fmt.Errorf("unable to create manager: %w", err)
	}
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return nil, fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return nil, fmt.Errorf("unable to set up ready check: %w", err)
	}

	sched, rec, err := newComponents(dc, Dependencies{
		Client:     mgr.GetClient(),
		Informers:  mgr.GetCache(),
		Recorder:   mgr.GetEventRecorderFor(eventSource),
		Registerer: metrics.Registry,
		Tracer:     tp.Tracer(telemetry.TracerName),
	})
	if err != nil {
		return nil, err
	}

	if err := mgr.Add(manager.RunnableFunc(rec.Run)); err != nil {
		return nil, fmt.Errorf("unable to add reconciler: %w", err)
	}

	logging.Info("Services", "Initialized %s mode with %d workers", dc.Reconciler.Mode, dc.Engine.Workers)
	return &Services{
		Scheduler:      sched,
		Reconciler:     rec,
		Manager:        mgr,
		TracerProvider: tp,
	}, nil
}

// managerOptions builds the controller-runtime options. The cache is limited
// to the reconciled namespace when one is configured.
func managerOptions(c config.DomainopConfig, leaderElect bool) ctrl.Options {
	opts := ctrl.Options{
		Scheme: v1alpha1.Scheme,
		Metrics: metricsserver.Options{
			BindAddress: c.Metrics.BindAddress,
		},
		HealthProbeBindAddress:        c.Metrics.ProbeBindAddress,
		LeaderElection:                leaderElect,
		LeaderElectionID:              leaderElectionID,
		LeaderElectionReleaseOnCancel: true,
	}
	grace := shutdownGrace(c.Engine)
	opts.GracefulShutdownTimeout = &grace

	if ns := managerConfig(c).Namespace; ns != "" {
		opts.Cache = cache.Options{
			DefaultNamespaces: map[string]cache.Config{ns: {}},
		}
	}
	return opts
}

// newComponents wires the engine, the step library and the reconciler for
// the configured mode.
func newComponents(c config.DomainopConfig, deps Dependencies) (*work.Scheduler, *reconciler.Manager, error) {
	sched := work.NewScheduler(c.Engine.Workers)
	opts := makerightOptions(c.Engine, calls.NewMetrics(deps.Registerer))
	mc := managerConfig(c)

	var (
		source   reconciler.DomainSource
		detector reconciler.ChangeDetector
		sink     status.Sink
	)
	switch mc.Mode {
	case reconciler.WatchModeFilesystem:
		source = reconciler.NewFileSource(mc.FilesystemPath, mc.Namespace)
		detector = reconciler.NewFilesystemDetector(mc.FilesystemPath, mc.Namespace, mc.DebounceInterval)
		sink = status.NewLogSink()
	case reconciler.WatchModeKubernetes:
		source = reconciler.NewClientSource(deps.Client, mc.Namespace)
		detector = reconciler.NewKubernetesDetector(deps.Informers, mc.Namespace)
		sink = status.NewWriter(deps.Client, deps.Recorder)
	default:
		return nil, nil, fmt.Errorf("unsupported reconciler mode %q", mc.Mode)
	}

	rec, err := reconciler.NewManager(mc, reconciler.Options{
		Source:    source,
		Detector:  detector,
		Sink:      sink,
		Reconcile: makeright.ForDomain(deps.Client, opts),
		Cleanup:   makeright.ForDelete(deps.Client, opts),
		Engine:    gateConfig(c, sched, work.NewMetrics(deps.Registerer), deps.Tracer),
		Metrics:   reconciler.NewMetrics(deps.Registerer),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create reconciler: %w", err)
	}
	return sched, rec, nil
}

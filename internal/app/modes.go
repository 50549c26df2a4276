package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"domainop/internal/telemetry"
	"domainop/pkg/logging"
)

// telemetryFlushTimeout bounds the export of pending spans on shutdown.
const telemetryFlushTimeout = 5 * time.Second

// runOperator runs the controller-runtime manager, which starts the cache,
// the metrics and probe servers and the reconciler. The scheduler starts
// first and stops last so that shutdown can drain cancelled chains.
//
// When started as a systemd unit with Type=notify, readiness is reported once
// the informer caches have synced, and STOPPING=1 is sent on shutdown. Outside
// systemd the notifications are no-ops.
func runOperator(ctx context.Context, services *Services) error {
	services.Scheduler.Start(context.Background())
	defer flushTraces(services)
	defer services.Scheduler.Shutdown()

	go notifyReady(ctx, services)

	logging.Info("Operator", "Starting manager")
	err := services.Manager.Start(ctx)
	notify(daemon.SdNotifyStopping)
	if err != nil {
		logging.Error("Operator", err, "Problem running manager")
		return fmt.Errorf("manager stopped: %w", err)
	}

	logging.Info("Operator", "Shutdown complete")
	return nil
}

// flushTraces runs after the scheduler has drained, so the spans of cancelled
// fibers are exported too.
func flushTraces(services *Services) {
	if services.TracerProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
	defer cancel()
	if err := telemetry.Shutdown(ctx, services.TracerProvider); err != nil {
		logging.Warn("Operator", "Failed to flush traces: %v", err)
	}
}

func notifyReady(ctx context.Context, services *Services) {
	if !services.Manager.GetCache().WaitForCacheSync(ctx) {
		return
	}
	notify(daemon.SdNotifyReady)
}

func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Warn("Operator", "Failed to notify systemd (%s): %v", state, err)
		return
	}
	if sent {
		logging.Debug("Operator", "Notified systemd: %s", state)
	}
}

// Package logging provides the structured logging used throughout domainop.
//
// It wraps Go's slog package with a small printf-style API that tags every
// entry with the subsystem that produced it:
//
//	logging.Init(logging.Options{Level: logging.LevelInfo, Format: logging.FormatJSON})
//
//	logging.Info("Reconciler", "Reconciling %s", key)
//	logging.Error("Status", err, "Failed to update status of %s", key)
//
// Init also installs a logr bridge as the controller-runtime logger, so
// messages from the manager, informers and client-go end up in the same
// output with subsystem=ControllerRuntime. Components that need a
// logr.Logger of their own can obtain one with Logr.
//
// Calls made before Init are dropped, which keeps unit tests quiet.
package logging

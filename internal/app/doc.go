// Package app provides application bootstrap and lifecycle management for domainop.
//
// # Components
//
//   - bootstrap.go: loads config.yaml, applies command line overrides and
//     initializes logging
//   - config.go: runtime settings from the command line
//   - config_adapter.go: maps configuration sections onto the engine, the
//     step library and the reconciler
//   - services.go: creates the controller-runtime manager and wires the
//     scheduler, gate, reconciler, status sink and metrics for the
//     configured mode
//   - modes.go: runs the manager and reports readiness to systemd
//
// # Modes
//
// In kubernetes mode Domains are custom resources. The reconciler watches them
// through the manager's informer cache, and outcomes are written to the Domain
// status and recorded as events.
//
// In filesystem mode Domains are manifests in {path}/domains. Changes are
// picked up with fsnotify and outcomes are logged. ConfigMaps are still
// applied to the cluster the kubeconfig points at.
//
// # Metrics
//
// Engine, API call and reconciler metrics are registered with the
// controller-runtime registry and served on the metrics bind address next to
// the controller-runtime metrics.
package app

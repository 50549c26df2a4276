package reconciler

import (
	"context"
	"time"
)

// ChangeEvent represents a detected change of a Domain.
type ChangeEvent struct {
	// Name is the name of the Domain that changed.
	Name string

	// Namespace is the namespace of the Domain. In filesystem mode it is the
	// namespace the manifests are reconciled into.
	Namespace string

	// Operation describes what kind of change occurred.
	Operation ChangeOperation

	// Timestamp is when the change was detected.
	Timestamp time.Time

	// Source indicates where the change came from.
	Source ChangeSource

	// FilePath is the path to the file that changed (filesystem mode only).
	FilePath string
}

// Key returns the key the change is serialized on.
func (e ChangeEvent) Key() string {
	return domainKey(e.Namespace, e.Name)
}

// ChangeOperation represents the type of change detected.
type ChangeOperation string

const (
	// OperationCreate indicates a new Domain was created.
	OperationCreate ChangeOperation = "Create"

	// OperationUpdate indicates an existing Domain was modified.
	OperationUpdate ChangeOperation = "Update"

	// OperationDelete indicates a Domain was deleted.
	OperationDelete ChangeOperation = "Delete"
)

// ChangeSource indicates where a change originated.
type ChangeSource string

const (
	// SourceFilesystem indicates the change came from filesystem watching.
	SourceFilesystem ChangeSource = "Filesystem"

	// SourceKubernetes indicates the change came from Kubernetes informers.
	SourceKubernetes ChangeSource = "Kubernetes"

	// SourceManual indicates the change was triggered manually.
	SourceManual ChangeSource = "Manual"

	// SourceResync indicates the periodic resync.
	SourceResync ChangeSource = "Resync"
)

// ChangeDetector is the interface for components that detect Domain changes.
//
// Different implementations exist for filesystem watching and Kubernetes informers.
type ChangeDetector interface {
	// Start begins watching for changes.
	// The detector should send change events to the provided channel.
	Start(ctx context.Context, changes chan<- ChangeEvent) error

	// Stop gracefully stops the change detector.
	Stop() error

	// GetSource returns the source type this detector monitors.
	GetSource() ChangeSource
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	// Mode specifies whether Domains come from Kubernetes or from files.
	Mode WatchMode

	// FilesystemPath is the base path for filesystem watching.
	// Only used when Mode is WatchModeFilesystem.
	FilesystemPath string

	// Namespace is the namespace to watch in Kubernetes mode (empty for all)
	// and the namespace file based Domains are reconciled into.
	Namespace string

	// DebounceInterval is how long to wait for additional file changes.
	// Defaults to 500ms if not specified.
	DebounceInterval time.Duration

	// ResyncInterval is how often every known Domain is re-checked.
	// Zero disables the periodic resync.
	ResyncInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for running chains.
	// Defaults to 30 seconds if not specified.
	ShutdownTimeout time.Duration

	// PublishTimeout bounds a single status publication.
	// Defaults to 10 seconds if not specified.
	PublishTimeout time.Duration

	// OutcomeBuffer is how many finished chains may wait for the sink.
	// When it is full, the scheduler worker finishing a chain blocks until
	// the sink catches up, so a slow sink throttles the engine instead of
	// losing outcomes. Defaults to 256 if not specified.
	OutcomeBuffer int
}

// WatchMode specifies how to detect configuration changes.
type WatchMode string

const (
	// WatchModeFilesystem uses filesystem watching for YAML files.
	WatchModeFilesystem WatchMode = "filesystem"

	// WatchModeKubernetes uses Kubernetes informers for Domain resources.
	WatchModeKubernetes WatchMode = "kubernetes"
)

// ReconcileStatus represents the current status of reconciliation for a Domain.
type ReconcileStatus struct {
	// Name is the name of the Domain.
	Name string

	// Namespace is the namespace of the Domain.
	Namespace string

	// FiberID identifies the most recent chain started for the Domain.
	FiberID string

	// LastReconcileTime is when the Domain was last successfully reconciled.
	LastReconcileTime *time.Time

	// LastError is the most recent error, if any.
	LastError string

	// RetryCount is the number of retries of the current chain.
	RetryCount int

	// State describes the current reconciliation state.
	State ReconcileState
}

// ReconcileState represents the state of a Domain's reconciliation.
type ReconcileState string

const (
	// StatePending means the Domain is awaiting reconciliation.
	StatePending ReconcileState = "Pending"

	// StateReconciling means a chain is running for the Domain.
	StateReconciling ReconcileState = "Reconciling"

	// StateSynced means the Domain is successfully reconciled.
	StateSynced ReconcileState = "Synced"

	// StateError means the last attempt failed and a retry is scheduled.
	StateError ReconcileState = "Error"

	// StateFailed means reconciliation failed permanently.
	StateFailed ReconcileState = "Failed"
)

func domainKey(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}

package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"domainop/pkg/logging"
)

// FilesystemDetector implements ChangeDetector for Domain manifests on disk.
//
// It uses fsnotify to watch {basePath}/domains for YAML files and emits a
// change event when a file is created, modified, or deleted. Rapid
// successive writes to one file are debounced into a single event.
type FilesystemDetector struct {
	mu sync.Mutex

	// basePath is the root directory for configuration files
	basePath string

	// namespace is set on every emitted event
	namespace string

	// watcher is the fsnotify watcher instance
	watcher *fsnotify.Watcher

	// debounceInterval is how long to wait for additional changes
	debounceInterval time.Duration

	// pendingEvents tracks pending debounced events by name
	pendingEvents map[string]*debounceEntry

	// stopCh signals shutdown
	stopCh chan struct{}

	running bool
}

// debounceEntry tracks a pending event for debouncing.
type debounceEntry struct {
	event ChangeEvent
	timer *time.Timer
}

// NewFilesystemDetector creates a new filesystem change detector.
func NewFilesystemDetector(basePath, namespace string, debounceInterval time.Duration) *FilesystemDetector {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	return &FilesystemDetector{
		basePath:         basePath,
		namespace:        namespace,
		debounceInterval: debounceInterval,
		pendingEvents:    make(map[string]*debounceEntry),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching for filesystem changes.
func (d *FilesystemDetector) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	watchPath := filepath.Join(d.basePath, domainsDir)
	if err := os.MkdirAll(watchPath, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(watchPath); err != nil {
		_ = watcher.Close()
		return err
	}

	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})

	go d.processEvents(ctx, watcher, d.stopCh, changes)

	logging.Info("FilesystemDetector", "Started watching %s for domain changes", watchPath)
	return nil
}

// processEvents handles filesystem events and generates change events.
func (d *FilesystemDetector) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			d.cleanupPendingEvents()
			return

		case <-stopCh:
			d.cleanupPendingEvents()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemDetector", err, "Filesystem watcher error")
		}
	}
}

// handleFsEvent processes a single filesystem event.
func (d *FilesystemDetector) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	if !isYAMLFile(event.Name) {
		return
	}

	name := d.parseFilePath(event.Name)
	if name == "" {
		return
	}

	var operation ChangeOperation
	switch {
	case event.Op.Has(fsnotify.Create):
		operation = OperationCreate
	case event.Op.Has(fsnotify.Write):
		operation = OperationUpdate
	case event.Op.Has(fsnotify.Remove):
		operation = OperationDelete
	case event.Op.Has(fsnotify.Rename):
		// the new name arrives as a create
		operation = OperationDelete
	default:
		return
	}

	d.debounceEvent(ChangeEvent{
		Name:      name,
		Namespace: d.namespace,
		Operation: operation,
		Timestamp: time.Now(),
		Source:    SourceFilesystem,
		FilePath:  event.Name,
	}, changes)
}

// debounceEvent delays an event until no further change to the same Domain
// arrived for the debounce interval.
func (d *FilesystemDetector) debounceEvent(event ChangeEvent, changes chan<- ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := event.Name

	if entry, ok := d.pendingEvents[key]; ok {
		entry.timer.Stop()
		event.Operation = mergeOperations(entry.event.Operation, event.Operation)
	}

	entry := &debounceEntry{event: event}
	entry.timer = time.AfterFunc(d.debounceInterval, func() {
		d.mu.Lock()
		current, ok := d.pendingEvents[key]
		if ok && current == entry {
			delete(d.pendingEvents, key)
		}
		d.mu.Unlock()

		if !ok || current != entry {
			return
		}
		select {
		case changes <- entry.event:
			logging.Debug("FilesystemDetector", "Emitted change event: %s %s", entry.event.Operation, entry.event.Name)
		default:
			logging.Warn("FilesystemDetector", "Change event channel full, dropping event for %s", entry.event.Name)
		}
	})
	d.pendingEvents[key] = entry
}

// mergeOperations merges two operations into a single logical operation.
func mergeOperations(old, new ChangeOperation) ChangeOperation {
	if new == OperationDelete {
		return OperationDelete
	}
	// Create + Update = Create
	if old == OperationCreate {
		return OperationCreate
	}
	return new
}

// parseFilePath extracts the Domain name from a manifest path. It returns an
// empty name for files outside {basePath}/domains.
func (d *FilesystemDetector) parseFilePath(path string) string {
	relPath, err := filepath.Rel(d.basePath, path)
	if err != nil {
		return ""
	}

	parts := strings.Split(relPath, string(filepath.Separator))
	if len(parts) != 2 || parts[0] != domainsDir {
		return ""
	}

	return nameFromFileName(parts[1])
}

// cleanupPendingEvents cancels all pending debounce timers.
func (d *FilesystemDetector) cleanupPendingEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entry := range d.pendingEvents {
		entry.timer.Stop()
	}
	d.pendingEvents = make(map[string]*debounceEntry)
}

// Stop gracefully stops the filesystem detector.
func (d *FilesystemDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	close(d.stopCh)

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("FilesystemDetector", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}

	logging.Info("FilesystemDetector", "Stopped filesystem detector")
	return nil
}

// GetSource returns the change source type.
func (d *FilesystemDetector) GetSource() ChangeSource {
	return SourceFilesystem
}

// isYAMLFile checks if a file path is a YAML file.
func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

package reconciler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"

	"domainop/internal/makeright"
	"domainop/internal/status"
	"domainop/internal/work"
	"domainop/pkg/apis/domain/v1alpha1"
	"domainop/pkg/logging"
)

var (
	// ErrNoSource is returned by NewManager without a DomainSource.
	ErrNoSource = errors.New("domain source is required")
	// ErrNoChain is returned by NewManager without the reconcile or cleanup chain.
	ErrNoChain = errors.New("reconcile and cleanup chains are required")
	// ErrNotRunning is returned by Trigger before Start or after Stop.
	ErrNotRunning = errors.New("reconcile manager is not running")
	// ErrStopped is returned by Start after Stop. A stopped manager cannot be restarted.
	ErrStopped = errors.New("reconcile manager was stopped")
)

const (
	chainReconcile = "reconcile"
	chainCleanup   = "cleanup"
)

// Options holds the collaborators of a Manager.
type Options struct {
	// Source loads desired Domains.
	Source DomainSource

	// Detector emits change events. Without one, only Trigger and the
	// periodic resync start chains.
	Detector ChangeDetector

	// Sink publishes outcomes. Optional.
	Sink status.Sink

	// Reconcile is the chain run for created and updated Domains.
	Reconcile *work.Step

	// Cleanup is the chain run for deleted Domains.
	Cleanup *work.Step

	// Engine configures the gate. Its Listener is replaced by the manager.
	Engine work.GateConfig

	// Metrics records reconciler metrics. Optional.
	Metrics *Metrics
}

// Manager turns Domain change events into chains on a work.Gate.
//
// Each event builds a fresh packet and calls Gate.Run for the Domain's key,
// superseding whatever chain is still running for it. The periodic resync uses
// Gate.RunIfIdle so it never interrupts in-progress work. The manager is the
// gate's Listener: it tracks a ReconcileStatus per Domain and hands every
// outcome to the status sink on its own goroutine.
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig

	source   DomainSource
	detector ChangeDetector
	sink     status.Sink
	metrics  *Metrics

	reconcileChain *work.Step
	cleanupChain   *work.Step

	gate *work.Gate

	// statusTracker tracks reconciliation status for each Domain key
	statusTracker map[string]*ReconcileStatus

	// changeChan receives change events from the detector
	changeChan chan ChangeEvent

	// outcomes queues finished chains for the sink
	outcomes chan work.Outcome

	// done is closed when Stop has cancelled all chains
	done chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc

	// wg tracks the manager's goroutines
	wg sync.WaitGroup

	running bool
	stopped bool
}

// NewManager creates a new reconciliation manager.
func NewManager(config ManagerConfig, opts Options) (*Manager, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Reconcile == nil || opts.Cleanup == nil {
		return nil, ErrNoChain
	}

	if config.DebounceInterval == 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 10 * time.Second
	}
	if config.OutcomeBuffer <= 0 {
		config.OutcomeBuffer = 256
	}

	m := &Manager{
		config:         config,
		source:         opts.Source,
		detector:       opts.Detector,
		sink:           opts.Sink,
		metrics:        opts.Metrics,
		reconcileChain: opts.Reconcile,
		cleanupChain:   opts.Cleanup,
		statusTracker:  make(map[string]*ReconcileStatus),
		changeChan:     make(chan ChangeEvent, 100),
		outcomes:       make(chan work.Outcome, config.OutcomeBuffer),
		done:           make(chan struct{}),
	}

	engine := opts.Engine
	engine.Listener = m
	m.gate = work.NewGate(engine)

	return m, nil
}

// Gate returns the gate the manager runs chains on.
func (m *Manager) Gate() *work.Gate {
	return m.gate
}

// Start begins the reconciliation system.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	if m.detector != nil {
		if err := m.detector.Start(m.ctx, m.changeChan); err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			m.cancelFunc()
			return fmt.Errorf("failed to start change detector: %w", err)
		}
	}

	m.wg.Add(3)
	go m.processChangeEvents()
	go m.publishOutcomes()
	go m.resyncLoop()

	logging.Info("ReconcileManager", "Started in %s mode", m.GetWatchMode())
	return nil
}

// Run starts the manager, blocks until ctx is done and stops it. It matches
// controller-runtime's Runnable so the manager can be added to a ctrl.Manager.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Stop()
}

// processChangeEvents submits a chain for every change event.
func (m *Manager) processChangeEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case event := <-m.changeChan:
			m.handleChangeEvent(event)
		}
	}
}

// handleChangeEvent processes a single change event.
func (m *Manager) handleChangeEvent(event ChangeEvent) {
	m.metrics.changeEvent(event)
	logging.Debug("ReconcileManager", "Handling change event: %s %s from %s",
		event.Operation, event.Key(), event.Source)

	if event.Operation == OperationDelete {
		m.runCleanup(event.Namespace, event.Name, false)
		return
	}

	domain, err := m.source.Get(m.ctx, event.Namespace, event.Name)
	switch {
	case apierrors.IsNotFound(err):
		logging.Debug("ReconcileManager", "Domain %s is gone, cleaning up", event.Key())
		m.runCleanup(event.Namespace, event.Name, false)
	case err != nil:
		logging.Error("ReconcileManager", err, "Failed to load domain %s", event.Key())
		m.updateStatus(event.Namespace, event.Name, func(s *ReconcileStatus) {
			s.State = StateError
			s.LastError = status.SanitizeErrorMessage(err.Error())
		})
	default:
		m.runReconcile(domain, false)
	}
}

func (m *Manager) runReconcile(domain *v1alpha1.Domain, ifIdle bool) {
	p := work.NewPacket()
	makeright.DomainKey.Put(p, domain)
	makeright.RefKey.Put(p, types.NamespacedName{Namespace: domain.Namespace, Name: domain.Name})
	m.submit(domain.Namespace, domain.Name, chainReconcile, m.reconcileChain, p, ifIdle)
}

func (m *Manager) runCleanup(namespace, name string, ifIdle bool) {
	p := work.NewPacket()
	makeright.RefKey.Put(p, types.NamespacedName{Namespace: namespace, Name: name})
	m.submit(namespace, name, chainCleanup, m.cleanupChain, p, ifIdle)
}

func (m *Manager) submit(namespace, name, chainName string, chain *work.Step, p *work.Packet, ifIdle bool) {
	key := domainKey(namespace, name)

	run := m.gate.Run
	if ifIdle {
		run = m.gate.RunIfIdle
	}
	fiber, err := run(key, chain, p)
	if err != nil {
		if errors.Is(err, work.ErrGateClosed) {
			logging.Debug("ReconcileManager", "Gate closed, not running %s for %s", chainName, key)
			return
		}
		logging.Error("ReconcileManager", err, "Failed to run %s for %s", chainName, key)
		return
	}
	if fiber == nil {
		logging.Debug("ReconcileManager", "Chain already running for %s, skipping %s", key, chainName)
		return
	}

	m.metrics.chainStarted(chainName)
	logging.Debug("ReconcileManager", "Started %s chain %s for %s", chainName, fiber.ID(), key)

	m.mu.Lock()
	defer m.mu.Unlock()
	// a terminal fiber's outcome is recorded by FiberFinished
	if fiber.State().Terminal() {
		return
	}
	s := m.statusLocked(namespace, name)
	s.FiberID = fiber.ID()
	s.State = StateReconciling
	s.RetryCount = 0
}

// resyncLoop re-checks all Domains at start and every ResyncInterval.
func (m *Manager) resyncLoop() {
	defer m.wg.Done()

	m.resync()

	if m.config.ResyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.resync()
		}
	}
}

// resync starts a chain for every Domain, and a cleanup for every settled
// Domain that no longer exists, unless a chain is already running for it.
// Domains that failed to load are left alone.
func (m *Manager) resync() {
	domains, err := m.source.List(m.ctx)
	if err != nil {
		logging.Warn("ReconcileManager", "Resync skipped, failed to list domains: %v", err)
		return
	}
	m.metrics.resync()

	present := make(map[string]bool, len(domains))
	for _, domain := range domains {
		present[domainKey(domain.Namespace, domain.Name)] = true
		m.runReconcile(domain, true)
	}

	m.mu.RLock()
	var gone []ReconcileStatus
	for key, s := range m.statusTracker {
		settled := s.State == StateSynced || s.State == StateFailed
		if settled && !present[key] {
			gone = append(gone, *s)
		}
	}
	m.mu.RUnlock()

	for _, s := range gone {
		m.runCleanup(s.Namespace, s.Name, true)
	}
	logging.Debug("ReconcileManager", "Resync checked %d domain(s), %d gone", len(domains), len(gone))
}

// FiberFinished implements work.Listener. It runs on the scheduler worker that
// finished the fiber and blocks while the outcome buffer is full, until the
// sink catches up or the manager stops.
func (m *Manager) FiberFinished(o work.Outcome) {
	m.metrics.outcome(o.State.String())
	m.recordOutcome(o)

	if m.sink == nil {
		return
	}
	select {
	case m.outcomes <- o:
		m.metrics.queued()
	case <-m.done:
		logging.Debug("ReconcileManager", "Manager stopped, not publishing outcome of %s", o.Key)
	}
}

// FiberRetrying implements work.RetryListener.
func (m *Manager) FiberRetrying(key string, attempt int, err error, delay time.Duration) {
	namespace, name := status.SplitKey(key)
	m.updateStatus(namespace, name, func(s *ReconcileStatus) {
		s.State = StateError
		s.RetryCount = attempt
		s.LastError = status.SanitizeErrorMessage(err.Error())
	})
}

func (m *Manager) recordOutcome(o work.Outcome) {
	if o.Superseded() {
		return
	}
	// a newer chain owns the status
	if current := m.gate.Current(o.Key); current != nil && current.ID() != o.FiberID {
		return
	}

	namespace, name := status.SplitKey(o.Key)

	if o.State == work.StateCompleted {
		if rec, ok := packetRecord(o); ok && rec.Deleted {
			m.mu.Lock()
			delete(m.statusTracker, o.Key)
			m.mu.Unlock()
			logging.Info("ReconcileManager", "Cleaned up domain %s", o.Key)
			return
		}
	}

	m.updateStatus(namespace, name, func(s *ReconcileStatus) {
		s.FiberID = o.FiberID
		switch o.State {
		case work.StateCompleted:
			now := time.Now()
			s.State = StateSynced
			s.LastReconcileTime = &now
			s.LastError = ""
			s.RetryCount = 0
		case work.StateFailed:
			s.State = StateFailed
			if o.Err != nil {
				s.LastError = status.SanitizeErrorMessage(o.Err.Error())
			}
		case work.StateCancelled:
			s.State = StatePending
			if o.Cause != nil {
				s.LastError = o.Cause.Error()
			}
		}
	})
}

func packetRecord(o work.Outcome) (*status.Record, bool) {
	if o.Packet == nil {
		return nil, false
	}
	return status.UpdatesKey.Get(o.Packet)
}

// publishOutcomes hands outcomes to the sink in the order they finished.
func (m *Manager) publishOutcomes() {
	defer m.wg.Done()

	for {
		select {
		case o := <-m.outcomes:
			m.metrics.dequeued()
			m.publish(o)
		case <-m.done:
			for {
				select {
				case o := <-m.outcomes:
					m.metrics.dequeued()
					m.publish(o)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) publish(o work.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.PublishTimeout)
	defer cancel()

	err := m.sink.Publish(ctx, o)
	m.metrics.published(err)
	if err != nil {
		logging.Error("ReconcileManager", err, "Failed to publish status of %s", o.Key)
	}
}

// updateStatus applies fn to the status of a Domain, creating it if needed.
func (m *Manager) updateStatus(namespace, name string, fn func(*ReconcileStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.statusLocked(namespace, name))
}

func (m *Manager) statusLocked(namespace, name string) *ReconcileStatus {
	key := domainKey(namespace, name)
	s, ok := m.statusTracker[key]
	if !ok {
		s = &ReconcileStatus{
			Name:      name,
			Namespace: namespace,
			State:     StatePending,
		}
		m.statusTracker[key] = s
	}
	return s
}

// Stop cancels all running chains and waits until they are finished and
// their outcomes are published, bounded by ShutdownTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.stopped = true
	m.mu.Unlock()

	logging.Info("ReconcileManager", "Stopping reconciliation manager...")

	m.cancelFunc()

	if m.detector != nil {
		if err := m.detector.Stop(); err != nil {
			logging.Error("ReconcileManager", err, "Error stopping change detector")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
	defer cancel()
	err := m.gate.CancelAll(ctx)

	close(m.done)
	m.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to stop reconciliation manager: %w", err)
	}
	logging.Info("ReconcileManager", "Reconciliation manager stopped")
	return nil
}

// GetStatus returns the reconciliation status for a Domain key.
func (m *Manager) GetStatus(key string) (ReconcileStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.statusTracker[key]
	if !ok {
		return ReconcileStatus{}, false
	}
	return *s, true
}

// GetAllStatuses returns all reconciliation statuses ordered by key.
func (m *Manager) GetAllStatuses() []ReconcileStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ReconcileStatus, 0, len(m.statusTracker))
	for _, s := range m.statusTracker {
		statuses = append(statuses, *s)
	}
	slices.SortFunc(statuses, func(a, b ReconcileStatus) int {
		return cmp.Or(cmp.Compare(a.Namespace, b.Namespace), cmp.Compare(a.Name, b.Name))
	})
	return statuses
}

// Trigger reconciles a Domain now, superseding a running chain for it.
func (m *Manager) Trigger(namespace, name string) error {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	m.handleChangeEvent(ChangeEvent{
		Name:      name,
		Namespace: namespace,
		Operation: OperationUpdate,
		Timestamp: time.Now(),
		Source:    SourceManual,
	})
	return nil
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetWatchMode returns the current watch mode.
func (m *Manager) GetWatchMode() WatchMode {
	if m.detector == nil {
		return m.config.Mode
	}

	switch m.detector.GetSource() {
	case SourceKubernetes:
		return WatchModeKubernetes
	case SourceFilesystem:
		return WatchModeFilesystem
	default:
		return m.config.Mode
	}
}

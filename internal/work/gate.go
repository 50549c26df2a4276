package work

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"domainop/pkg/logging"
)

// Outcome describes a root fiber that reached a terminal state.
type Outcome struct {
	Key     string
	FiberID string
	State   State
	// Err is the terminal failure for StateFailed.
	Err error
	// Cause is why a cancelled fiber was cancelled.
	Cause    error
	Attempts int
	// Packet is the packet of the last attempt. Nothing else references it anymore.
	Packet   *Packet
	Duration time.Duration
}

// Superseded reports whether the fiber was cancelled by a newer run for its key.
func (o Outcome) Superseded() bool {
	return o.State == StateCancelled && errors.Is(o.Cause, ErrSuperseded)
}

// Listener receives the outcome of every root fiber exactly once, after the
// fiber is terminal and removed from the gate.
type Listener interface {
	FiberFinished(o Outcome)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(o Outcome)

// FiberFinished implements Listener.
func (fn ListenerFunc) FiberFinished(o Outcome) {
	fn(o)
}

// RetryListener is optionally implemented by a Listener to observe scheduled retries.
type RetryListener interface {
	FiberRetrying(key string, attempt int, err error, delay time.Duration)
}

// GateConfig holds the collaborators of a Gate.
type GateConfig struct {
	// Scheduler runs the fibers. If nil, the gate starts its own with one
	// worker per CPU.
	Scheduler *Scheduler

	// Retry decides on retryable failures. Defaults to NoRetry.
	Retry RetryStrategy

	// FiberTimeout bounds each attempt of a root fiber. Zero disables the watchdog.
	FiberTimeout time.Duration

	// Listener receives root fiber outcomes.
	Listener Listener

	// Metrics records engine metrics when set.
	Metrics *Metrics

	// Tracer creates fiber spans. Defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Gate serializes fibers per key. At most one fiber that is not cancelled and
// not terminal is registered for a key at any time.
type Gate struct {
	config  GateConfig
	sched   *Scheduler
	retry   RetryStrategy
	metrics *Metrics
	tracer  trace.Tracer

	mu sync.Mutex

	// fibers maps each key to its current fiber
	fibers map[string]*Fiber

	// live holds every root fiber that is not terminal yet, including
	// superseded fibers that are still winding down
	live map[*Fiber]struct{}

	// successors maps a superseded fiber to the fiber that waits for it
	successors map[*Fiber]*Fiber

	closed bool
}

// NewGate creates a gate.
func NewGate(config GateConfig) *Gate {
	if config.Scheduler == nil {
		config.Scheduler = NewScheduler(runtime.NumCPU())
		config.Scheduler.Start(context.Background())
	}
	if config.Retry == nil {
		config.Retry = NoRetry{}
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer("domainop/internal/work")
	}

	return &Gate{
		config:     config,
		sched:      config.Scheduler,
		retry:      config.Retry,
		metrics:    config.Metrics,
		tracer:     config.Tracer,
		fibers:     make(map[string]*Fiber),
		live:       make(map[*Fiber]struct{}),
		successors: make(map[*Fiber]*Fiber),
	}
}

// Run starts chain for key with packet p, cancelling the fiber currently
// registered for key. The new fiber does not run before the old one is
// terminal. Run does not wait for the chain; its result is reported to the
// Listener.
func (g *Gate) Run(key string, chain *Step, p *Packet) (*Fiber, error) {
	return g.run(key, chain, p, true)
}

// RunIfIdle is Run without supersession: it returns a nil fiber if a fiber is
// already registered for key.
func (g *Gate) RunIfIdle(key string, chain *Step, p *Packet) (*Fiber, error) {
	return g.run(key, chain, p, false)
}

func (g *Gate) run(key string, chain *Step, p *Packet, supersede bool) (*Fiber, error) {
	if chain == nil {
		return nil, ErrNilChain
	}
	if p == nil {
		p = NewPacket()
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGateClosed
	}
	old := g.fibers[key]
	if old != nil && !supersede {
		g.mu.Unlock()
		return nil, nil
	}

	f := g.newFiber(key, chain, p, nil, context.Background())
	g.fibers[key] = f
	g.live[f] = struct{}{}
	if old != nil {
		// marked before the new fiber becomes visible to anyone
		old.requestCancel(ErrSuperseded)
		g.successors[old] = f
	}
	g.metrics.setActive(len(g.fibers))
	g.mu.Unlock()

	if old != nil {
		g.metrics.superseded()
		logging.Debug("Gate", "Fiber %s for %s superseded by %s", old.id, key, f.id)
		old.propagateAbort()
		return f, nil
	}

	g.begin(f)
	return f, nil
}

// Current returns the fiber registered for key, or nil.
func (g *Gate) Current(key string) *Fiber {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fibers[key]
}

// Len returns the number of keys with a registered fiber.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fibers)
}

// Keys returns the keys with a registered fiber, sorted.
func (g *Gate) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.fibers))
	for k := range g.fibers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CancelAll closes the gate, cancels every live fiber and waits until all of
// them are terminal or ctx is done.
func (g *Gate) CancelAll(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	fibers := make([]*Fiber, 0, len(g.live))
	for f := range g.live {
		fibers = append(fibers, f)
	}
	g.mu.Unlock()

	logging.Info("Gate", "Cancelling %d fibers", len(fibers))
	for _, f := range fibers {
		f.Cancel()
	}

	for i, f := range fibers {
		select {
		case <-f.Done():
		case <-ctx.Done():
			remaining := 0
			for _, rest := range fibers[i:] {
				if !rest.State().Terminal() {
					remaining++
				}
			}
			return fmt.Errorf("%w: %d fiber(s) still active", ErrShutdownTimeout, remaining)
		}
	}
	return nil
}

func (g *Gate) newFiber(key string, chain *Step, p *Packet, parent *Fiber, parentCtx context.Context) *Fiber {
	f := &Fiber{
		id:      uuid.NewString(),
		key:     key,
		gate:    g,
		parent:  parent,
		head:    chain,
		step:    chain,
		packet:  p,
		state:   StateCreated,
		retry:   RetryState{Attempt: 1},
		created: time.Now(),
		done:    make(chan struct{}),
	}
	if parent == nil {
		AttemptKey.Put(p, 1)
		f.initial = p.Copy()
	}

	f.baseCtx, f.span = g.tracer.Start(parentCtx, "fiber",
		trace.WithAttributes(
			attribute.String("domainop.fiber.key", key),
			attribute.String("domainop.fiber.id", f.id),
			attribute.Bool("domainop.fiber.child", parent != nil),
		),
	)
	f.ctx, f.cancelCtx = context.WithCancelCause(f.baseCtx)
	return f
}

// begin dispatches a fiber for the first time.
func (g *Gate) begin(f *Fiber) {
	g.metrics.fiberStarted(f)

	f.mu.Lock()
	f.armWatchdogLocked()
	f.mu.Unlock()

	if f.abortRequested() {
		f.settleAbort()
		return
	}
	g.dispatch(f)
}

func (g *Gate) dispatch(f *Fiber) {
	if g.sched.submit(f) {
		return
	}
	logging.Warn("Gate", "Scheduler stopped, cancelling fiber %s for %s", f.id, f.key)
	f.requestCancel(ErrSchedulerStopped)
	f.settleAbort()
}

// resubmit is called when a retry delay expires. The retry only proceeds while
// the fiber is still the registered fiber for its key.
func (g *Gate) resubmit(f *Fiber) {
	g.mu.Lock()
	current := !g.closed && g.fibers[f.key] == f
	g.mu.Unlock()

	if !current {
		logging.Debug("Gate", "Dropping retry of fiber %s for %s", f.id, f.key)
		return
	}
	if f.restart() {
		g.dispatch(f)
	}
}

func (g *Gate) retryScheduled(f *Fiber, attempt int, err error, delay time.Duration) {
	g.metrics.retryScheduled()
	logging.Info("Gate", "Retrying %s after %v (attempt %d failed: %v)", f.key, delay, attempt, err)
	if rl, ok := g.config.Listener.(RetryListener); ok {
		rl.FiberRetrying(f.key, attempt, err, delay)
	}
}

// finished is called exactly once per fiber by finish.
func (g *Gate) finished(f *Fiber) {
	state := f.State()
	g.metrics.fiberFinished(f, state)

	if f.parent != nil {
		f.parent.childDone(f)
		return
	}
	if !f.released.CompareAndSwap(false, true) {
		logging.Error("Gate", ErrEngineDefect, "Fiber %s for %s released twice", f.id, f.key)
		return
	}

	g.mu.Lock()
	if g.fibers[f.key] == f {
		delete(g.fibers, f.key)
	}
	delete(g.live, f)
	successor := g.successors[f]
	delete(g.successors, f)
	g.metrics.setActive(len(g.fibers))
	g.mu.Unlock()

	g.notify(f, state)

	if successor != nil {
		g.begin(successor)
	}
}

func (g *Gate) notify(f *Fiber, state State) {
	f.mu.Lock()
	o := Outcome{
		Key:      f.key,
		FiberID:  f.id,
		State:    state,
		Err:      f.err,
		Cause:    f.cause,
		Attempts: f.retry.Attempt,
		Packet:   f.packet,
		Duration: f.finished.Sub(f.created),
	}
	f.mu.Unlock()

	switch {
	case state == StateFailed:
		logging.Warn("Gate", "Chain for %s failed after %d attempt(s): %v", o.Key, o.Attempts, o.Err)
	case o.Superseded():
		logging.Debug("Gate", "Fiber %s for %s cancelled by a newer run", o.FiberID, o.Key)
	default:
		logging.Debug("Gate", "Fiber %s for %s finished: %s in %v", o.FiberID, o.Key, state, o.Duration)
	}

	if g.config.Listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Gate", fmt.Errorf("listener panicked: %v", r), "Outcome for %s dropped", o.Key)
		}
	}()
	g.config.Listener.FiberFinished(o)
}

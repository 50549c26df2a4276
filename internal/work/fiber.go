package work

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"domainop/pkg/logging"
)

// State is the lifecycle state of a fiber.
type State int32

const (
	// StateCreated means the fiber is registered but has not run yet.
	StateCreated State = iota
	// StateRunning means a worker is executing the fiber's steps.
	StateRunning
	// StateSuspended means the fiber waits for a call, its children or a retry delay.
	StateSuspended
	// StateCompleted means the chain ran to its end.
	StateCompleted
	// StateCancelled means the fiber was cancelled before finishing.
	StateCancelled
	// StateFailed means the chain ended with a fatal failure or exhausted its retries.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// waitKind says what a suspended fiber is waiting for.
type waitKind int

const (
	waitNone waitKind = iota
	waitCall
	waitChildren
	waitRetry
)

type resumption struct {
	apply func(*Packet)
	err   error
}

// Fiber drives one chain to completion. Fibers are created by the Gate, either
// as the root fiber of a key or as children of a fork.
type Fiber struct {
	id     string
	key    string
	name   string
	gate   *Gate
	parent *Fiber
	index  int

	// head and initial are used to restart the chain on retry
	head    *Step
	initial *Packet

	baseCtx context.Context
	span    trace.Span
	created time.Time

	// step, packet and joinResults belong to the worker currently running the
	// fiber; they change under mu only while the fiber is not running
	step        *Step
	packet      *Packet
	joinResults []BranchResult

	mu        sync.Mutex
	state     State
	waiting   waitKind
	ctx       context.Context
	cancelCtx context.CancelCauseFunc
	cause     error
	token     uint64
	pending   *resumption
	hooks     []func()
	children  []*Fiber
	retry     RetryState
	timer     *time.Timer
	watchdog  *time.Timer
	err       error
	finished  time.Time

	// results is written by children, each at its own index, before they
	// decrement outstanding
	results     []BranchResult
	outstanding atomic.Int32
	released    atomic.Bool
	done        chan struct{}
}

// ID returns the unique fiber identifier.
func (f *Fiber) ID() string {
	return f.id
}

// Key returns the gate key the fiber runs for.
func (f *Fiber) Key() string {
	return f.key
}

// State returns the current lifecycle state.
func (f *Fiber) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the terminal failure, if any.
func (f *Fiber) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Cause returns why the fiber was cancelled, or nil.
func (f *Fiber) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause
}

// Attempt returns the current attempt number, starting at 1.
func (f *Fiber) Attempt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retry.Attempt
}

// Done is closed once the fiber is terminal and its outcome was delivered.
func (f *Fiber) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the fiber is terminal or ctx is done.
func (f *Fiber) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the fiber and all of its children. It does not wait.
func (f *Fiber) Cancel() {
	f.cancel(context.Canceled)
}

func (f *Fiber) cancel(cause error) {
	if f.requestCancel(cause) {
		f.propagateAbort()
	}
}

// requestCancel records cause and cancels the attempt context. A cancellation
// replaces a pending timeout but never another cancellation.
func (f *Fiber) requestCancel(cause error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Terminal() {
		return false
	}
	if f.cause != nil && !errors.Is(f.cause, ErrFiberTimeout) {
		return false
	}
	f.cause = cause
	f.cancelCtx(cause)
	return true
}

// timeout is fired by the watchdog for the given attempt.
func (f *Fiber) timeout(attempt int) {
	f.mu.Lock()
	if f.state.Terminal() || f.cause != nil || f.waiting == waitRetry || f.retry.Attempt != attempt {
		f.mu.Unlock()
		return
	}
	f.cause = ErrFiberTimeout
	f.cancelCtx(ErrFiberTimeout)
	f.mu.Unlock()

	logging.Warn("Fiber", "Fiber %s for %s exceeded %v on attempt %d", f.id, f.key, f.gate.config.FiberTimeout, attempt)
	f.propagateAbort()
}

// propagateAbort forwards an abort to children and pending calls. A fiber that
// waits on a call or a retry delay settles here; a running fiber settles at its
// next dispatch and a forking fiber once its children are done.
func (f *Fiber) propagateAbort() {
	f.mu.Lock()
	cause := f.cause
	children := f.children
	hooks := f.hooks
	f.hooks = nil
	settle := false
	switch f.waiting {
	case waitCall:
		f.waiting = waitNone
		f.token++
		settle = true
	case waitRetry:
		if f.timer != nil {
			f.timer.Stop()
			f.timer = nil
		}
		f.waiting = waitNone
		settle = true
	}
	f.mu.Unlock()

	f.event("abort", attribute.String("cause", fmt.Sprint(cause)))
	for _, c := range children {
		c.cancel(cause)
	}
	for _, h := range hooks {
		runHook(h)
	}
	if settle {
		f.settleAbort()
	}
}

func (f *Fiber) abortRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause != nil
}

// settleAbort ends an aborted attempt. A timed out root attempt counts as a
// retryable failure; anything else ends the fiber as cancelled.
func (f *Fiber) settleAbort() {
	f.mu.Lock()
	timedOut := f.parent == nil && errors.Is(f.cause, ErrFiberTimeout)
	if timedOut {
		f.cause = nil
	}
	attempt := f.retry.Attempt
	f.mu.Unlock()

	if timedOut {
		f.retryOrFail(Retryable(fmt.Errorf("attempt %d: %w", attempt, ErrFiberTimeout)))
		return
	}
	f.finish(StateCancelled, nil)
}

// run executes steps until the fiber yields or terminates. It is only called by
// scheduler workers.
func (f *Fiber) run() {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	if f.state == StateRunning {
		f.mu.Unlock()
		f.defect("fiber dispatched while already running")
		return
	}
	f.state = StateRunning
	res := f.pending
	f.pending = nil
	f.mu.Unlock()

	var (
		step    *Step
		next    NextAction
		resumed bool
	)
	if res != nil {
		if f.abortRequested() {
			f.settleAbort()
			return
		}
		if res.err != nil {
			next, resumed = Fail(res.err), true
		} else if err := f.apply(res.apply); err != nil {
			next, resumed = Fail(err), true
		}
	}

	for {
		if !resumed {
			if f.abortRequested() {
				f.settleAbort()
				return
			}
			step = f.step
			if step == nil {
				f.finish(StateCompleted, nil)
				return
			}
			next = f.invoke(step)
		}
		resumed = false

		if !f.handle(step, next) {
			return
		}
	}
}

// handle applies the outcome of step and reports whether the worker should keep
// running the fiber.
func (f *Fiber) handle(step *Step, next NextAction) bool {
	var following *Step
	if step != nil {
		following = step.next
	}
	if next.jump {
		following = next.next
	}

	switch next.kind {
	case actionContinue:
		f.step = following
		return true
	case actionTerminate:
		if next.err != nil {
			f.finish(StateFailed, next.err)
		} else {
			f.finish(StateCompleted, nil)
		}
		return false
	case actionRetry:
		f.retryOrFail(next.err)
		return false
	case actionSuspend:
		f.suspend(following, next.start)
		return false
	case actionFork:
		return f.fork(following, next.branches)
	default:
		f.defect(fmt.Sprintf("unknown action %v", next.kind))
		return false
	}
}

func (f *Fiber) invoke(step *Step) (next NextAction) {
	f.mu.Lock()
	ctx := f.ctx
	f.mu.Unlock()

	if f.joinResults != nil {
		ctx = context.WithValue(ctx, joinResultsKey{}, f.joinResults)
		f.joinResults = nil
	}
	if step.action == nil {
		return Continue()
	}

	start := time.Now()
	defer func() {
		f.gate.metrics.observeStep(step.name, time.Since(start))
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %s: %v", ErrStepPanicked, step.name, r)
			logging.Error("Fiber", err, "Step failed in fiber %s for %s\n%s", f.id, f.key, debug.Stack())
			next = Fail(Fatal(err))
		}
	}()
	return step.action(ctx, f.packet)
}

func (f *Fiber) apply(fn func(*Packet)) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = Fatal(fmt.Errorf("%w: completion handler: %v", ErrStepPanicked, r))
		}
	}()
	fn(f.packet)
	return nil
}

func (f *Fiber) suspend(following *Step, start func(*Completion)) {
	f.mu.Lock()
	if f.cause != nil {
		f.mu.Unlock()
		f.settleAbort()
		return
	}
	f.step = following
	f.state = StateSuspended
	f.waiting = waitCall
	f.token++
	c := &Completion{fiber: f, token: f.token, ctx: f.ctx}
	f.mu.Unlock()

	f.event("suspend")
	if start == nil {
		c.Succeed(nil)
		return
	}

	// the fiber may already be running on another worker once start returns
	defer func() {
		if r := recover(); r != nil {
			c.Fail(Fatal(fmt.Errorf("%w: suspend: %v", ErrStepPanicked, r)))
		}
	}()
	start(c)
}

// resume is called by a Completion. Outcomes for a call that is no longer
// awaited, because the fiber was cancelled or timed out, are dropped.
func (f *Fiber) resume(token uint64, r resumption) {
	f.mu.Lock()
	if f.state != StateSuspended || f.waiting != waitCall || f.token != token {
		state := f.state
		f.mu.Unlock()
		logging.Debug("Fiber", "Discarding late completion for fiber %s (%s)", f.id, state)
		return
	}
	f.waiting = waitNone
	f.hooks = nil
	f.pending = &r
	f.mu.Unlock()

	f.event("resume")
	f.gate.dispatch(f)
}

func (f *Fiber) addCancelHook(token uint64, fn func()) {
	f.mu.Lock()
	if f.cause != nil {
		f.mu.Unlock()
		runHook(fn)
		return
	}
	if f.token != token || f.waiting != waitCall {
		f.mu.Unlock()
		return
	}
	f.hooks = append(f.hooks, fn)
	f.mu.Unlock()
}

func (f *Fiber) fork(following *Step, branches []Branch) bool {
	f.step = following
	if len(branches) == 0 {
		f.joinResults = []BranchResult{}
		return true
	}

	f.mu.Lock()
	if f.cause != nil {
		f.mu.Unlock()
		f.settleAbort()
		return false
	}
	f.state = StateSuspended
	f.waiting = waitChildren
	f.results = make([]BranchResult, len(branches))
	children := make([]*Fiber, len(branches))
	for i, b := range branches {
		p := b.Packet
		if p == nil {
			p = f.packet.Copy()
		}
		child := f.gate.newFiber(f.key, b.Chain, p, f, f.ctx)
		child.index = i
		child.name = b.Name
		children[i] = child
	}
	f.children = children
	f.outstanding.Store(int32(len(children)))
	f.mu.Unlock()

	f.event("fork", attribute.Int("branches", len(children)))
	for _, c := range children {
		f.gate.begin(c)
	}
	return false
}

// childDone is called once by every child when it becomes terminal. The child
// that brings the countdown to zero resumes the parent.
func (f *Fiber) childDone(c *Fiber) {
	f.results[c.index] = BranchResult{
		Name:   c.name,
		State:  c.State(),
		Err:    c.Err(),
		Packet: c.packet,
	}
	remaining := f.outstanding.Add(-1)
	if remaining < 0 {
		f.defect("fork countdown underflow")
		return
	}
	if remaining > 0 {
		return
	}

	f.mu.Lock()
	if f.state != StateSuspended || f.waiting != waitChildren {
		state := f.state
		f.mu.Unlock()
		f.defect(fmt.Sprintf("fork joined while fiber is %s", state))
		return
	}
	f.waiting = waitNone
	f.children = nil
	f.joinResults = f.results
	f.results = nil
	aborted := f.cause != nil
	f.mu.Unlock()

	if aborted {
		f.settleAbort()
		return
	}
	f.gate.dispatch(f)
}

// retryOrFail hands a retryable failure to the retry strategy. Children do not
// retry on their own; their failure is reported to the join step.
func (f *Fiber) retryOrFail(err error) {
	if f.parent != nil {
		f.finish(StateFailed, err)
		return
	}

	f.mu.Lock()
	if f.cause != nil {
		f.mu.Unlock()
		f.settleAbort()
		return
	}
	f.retry.LastFailure = err
	delay, ok := f.gate.retry.NextDelay(&f.retry, err)
	attempt := f.retry.Attempt
	if !ok {
		f.mu.Unlock()
		f.finish(StateFailed, Fatal(fmt.Errorf("%w after %d attempt(s): %w", ErrRetriesExhausted, attempt, err)))
		return
	}
	if f.watchdog != nil {
		f.watchdog.Stop()
		f.watchdog = nil
	}
	f.cancelCtx(err)
	f.state = StateSuspended
	f.waiting = waitRetry
	f.retry.NextRetry = time.Now().Add(delay)
	f.timer = time.AfterFunc(delay, func() { f.gate.resubmit(f) })
	f.mu.Unlock()

	f.event("retry", attribute.Int("attempt", attempt), attribute.String("delay", delay.String()))
	f.gate.retryScheduled(f, attempt, err, delay)
}

// restart prepares the next attempt from the head of the chain with a fresh
// copy of the packet as it was submitted.
func (f *Fiber) restart() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateSuspended || f.waiting != waitRetry {
		return false
	}
	f.waiting = waitNone
	f.timer = nil
	f.retry.Attempt++
	f.step = f.head
	f.packet = f.initial.Copy()
	AttemptKey.Put(f.packet, f.retry.Attempt)
	f.ctx, f.cancelCtx = context.WithCancelCause(f.baseCtx)
	f.armWatchdogLocked()
	return true
}

func (f *Fiber) armWatchdogLocked() {
	d := f.gate.config.FiberTimeout
	if d <= 0 || f.parent != nil {
		return
	}
	if f.watchdog != nil {
		f.watchdog.Stop()
	}
	attempt := f.retry.Attempt
	f.watchdog = time.AfterFunc(d, func() { f.timeout(attempt) })
}

// finish moves the fiber to a terminal state. Only the first call has an effect.
func (f *Fiber) finish(state State, err error) {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.waiting = waitNone
	f.err = err
	f.finished = time.Now()
	if err != nil {
		FailureKey.Put(f.packet, err)
	}
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.watchdog != nil {
		f.watchdog.Stop()
		f.watchdog = nil
	}
	f.hooks = nil
	f.cancelCtx(context.Canceled)
	f.mu.Unlock()

	f.endSpan(state, err)
	f.gate.finished(f)
	close(f.done)
}

// defect fails the fiber after an engine invariant was violated.
func (f *Fiber) defect(msg string) {
	err := fmt.Errorf("%w: %s", ErrEngineDefect, msg)
	logging.Error("Fiber", err, "Aborting fiber %s for %s", f.id, f.key)
	f.finish(StateFailed, Fatal(err))
}

func (f *Fiber) event(name string, attrs ...attribute.KeyValue) {
	f.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (f *Fiber) endSpan(state State, err error) {
	f.span.SetAttributes(attribute.String("domainop.fiber.state", state.String()))
	if err != nil {
		f.span.RecordError(err)
		f.span.SetStatus(codes.Error, err.Error())
	} else if state == StateCompleted {
		f.span.SetStatus(codes.Ok, "")
	}
	f.span.End()
}

func runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Fiber", "Cancel hook panicked: %v", r)
		}
	}()
	fn()
}

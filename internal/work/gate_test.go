package work

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// outcomeRecorder collects fiber outcomes per key.
type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	retries  []int
}

func (r *outcomeRecorder) FiberFinished(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) FiberRetrying(key string, attempt int, err error, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, attempt)
}

func (r *outcomeRecorder) forFiber(id string) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Outcome
	for _, o := range r.outcomes {
		if o.FiberID == id {
			out = append(out, o)
		}
	}
	return out
}

func newTestGate(t *testing.T, config GateConfig) (*Gate, *outcomeRecorder) {
	t.Helper()

	sched := NewScheduler(4)
	sched.Start(context.Background())

	rec := &outcomeRecorder{}
	config.Scheduler = sched
	if config.Listener == nil {
		config.Listener = rec
	}
	g := NewGate(config)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = g.CancelAll(ctx)
		sched.Shutdown()
	})
	return g, rec
}

func waitFiber(t *testing.T, f *Fiber) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, f.Wait(ctx), "fiber %s did not finish", f.ID())
}

// asyncCall simulates an external call that completes on another goroutine.
func asyncCall(delay time.Duration, result error, apply func(p *Packet)) Action {
	return func(context.Context, *Packet) NextAction {
		return Suspend(func(c *Completion) {
			go func() {
				time.Sleep(delay)
				if result != nil {
					c.Fail(result)
					return
				}
				c.Succeed(apply)
			}()
		})
	}
}

// sideEffects records step side effects in order.
type sideEffects struct {
	mu  sync.Mutex
	log []string
}

func (s *sideEffects) record(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

func (s *sideEffects) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func TestGate_SuspendAndResume(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{})

	chain := Chain(
		Link{Name: "stepA", Action: asyncCall(5*time.Millisecond, nil, func(p *Packet) {
			p.Put("a", "done")
		})},
		Link{Name: "stepB", Action: func(_ context.Context, p *Packet) NextAction {
			a, _ := p.Get("a")
			p.Put("b", fmt.Sprintf("after %v", a))
			return Continue()
		}},
	)

	f, err := g.Run("ns/a", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, StateCompleted, f.State())
	outcomes := rec.forFiber(f.ID())
	require.Len(t, outcomes, 1)
	b, ok := outcomes[0].Packet.Get("b")
	require.True(t, ok)
	assert.Equal(t, "after done", b)
	assert.Equal(t, 0, g.Len())
}

func TestGate_SupersessionOrdering(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{})
	effects := &sideEffects{}
	started := make(chan struct{})

	chain1 := Chain(
		Link{Name: "slow", Action: func(context.Context, *Packet) NextAction {
			close(started)
			// a step body already in progress is not interrupted
			time.Sleep(50 * time.Millisecond)
			effects.record("chain1:slow")
			return Continue()
		}},
		Link{Name: "after", Action: func(context.Context, *Packet) NextAction {
			effects.record("chain1:after")
			return Continue()
		}},
	)
	chain2 := Chain(
		Link{Name: "first", Action: func(context.Context, *Packet) NextAction {
			effects.record("chain2:first")
			return Continue()
		}},
		Link{Name: "second", Action: asyncCall(time.Millisecond, nil, nil)},
		Link{Name: "third", Action: func(context.Context, *Packet) NextAction {
			effects.record("chain2:third")
			return Continue()
		}},
	)

	f1, err := g.Run("ns/a", chain1, NewPacket())
	require.NoError(t, err)
	<-started
	f2, err := g.Run("ns/a", chain2, NewPacket())
	require.NoError(t, err)

	waitFiber(t, f1)
	waitFiber(t, f2)

	assert.Equal(t, StateCancelled, f1.State())
	assert.ErrorIs(t, f1.Cause(), ErrSuperseded)
	assert.Equal(t, StateCompleted, f2.State())
	assert.Equal(t, []string{"chain1:slow", "chain2:first", "chain2:third"}, effects.entries())

	o1 := rec.forFiber(f1.ID())
	require.Len(t, o1, 1)
	assert.True(t, o1[0].Superseded())
	assert.NoError(t, o1[0].Err)
}

func TestGate_SupersedeSuspendedFiber(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})
	var aborted atomic.Bool
	suspended := make(chan struct{})

	chain1 := Chain(Link{Name: "wait", Action: func(context.Context, *Packet) NextAction {
		return Suspend(func(c *Completion) {
			c.OnCancel(func() { aborted.Store(true) })
			close(suspended)
		})
	}})

	f1, err := g.Run("ns/a", chain1, NewPacket())
	require.NoError(t, err)
	<-suspended
	f2, err := g.Run("ns/a", Chain(Link{Name: "noop", Action: noop}), NewPacket())
	require.NoError(t, err)

	waitFiber(t, f2)
	assert.Equal(t, StateCancelled, f1.State())
	assert.True(t, aborted.Load())
	assert.Equal(t, StateCompleted, f2.State())
}

func TestGate_AtMostOneActiveFiberPerKey(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})

	var active, maxActive atomic.Int32
	body := func(context.Context, *Packet) NextAction {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
		active.Add(-1)
		return Continue()
	}
	chain := Chain(
		Link{Name: "one", Action: body},
		Link{Name: "wait", Action: Delay(100 * time.Microsecond)},
		Link{Name: "two", Action: body},
	)

	stop := make(chan struct{})
	violations := make(chan string, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			g.mu.Lock()
			n := 0
			for f := range g.live {
				f.mu.Lock()
				if f.cause == nil && !f.state.Terminal() {
					n++
				}
				f.mu.Unlock()
			}
			g.mu.Unlock()
			if n > 1 {
				select {
				case violations <- fmt.Sprintf("%d uncancelled fibers registered", n):
				default:
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := g.Run("ns/stress", chain, NewPacket())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return g.Len() == 0 }, testTimeout, 5*time.Millisecond)
	close(stop)

	select {
	case v := <-violations:
		t.Fatal(v)
	default:
	}
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestGate_ForkJoinContinuesExactlyOnce(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})

	for trial := 0; trial < 50; trial++ {
		n := trial % 9
		var joins atomic.Int32
		var seen []BranchResult

		fork := func(_ context.Context, p *Packet) NextAction {
			branches := make([]Branch, n)
			for i := range branches {
				delay := time.Duration(rand.IntN(2000)) * time.Microsecond
				branches[i] = Branch{
					Name: fmt.Sprintf("child-%d", i),
					Chain: Chain(Link{Name: "work", Action: asyncCall(delay, nil, func(p *Packet) {
						p.Put("done", true)
					})}),
				}
			}
			return ForkJoin(branches...)
		}
		join := func(ctx context.Context, p *Packet) NextAction {
			joins.Add(1)
			seen = JoinResults(ctx)
			return Continue()
		}

		f, err := g.Run(fmt.Sprintf("ns/fork-%d", trial), Chain(
			Link{Name: "fork", Action: fork},
			Link{Name: "join", Action: join},
		), NewPacket())
		require.NoError(t, err)
		waitFiber(t, f)

		assert.Equal(t, StateCompleted, f.State())
		assert.Equal(t, int32(1), joins.Load(), "trial %d", trial)
		require.NotNil(t, seen)
		require.Len(t, seen, n)
		for i, r := range seen {
			assert.Equal(t, fmt.Sprintf("child-%d", i), r.Name)
			assert.Equal(t, StateCompleted, r.State)
			done, _ := r.Packet.Get("done")
			assert.Equal(t, true, done)
		}
	}
}

func TestGate_ForkChildrenGetPacketCopies(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{})
	names := NewKey[[]string]("names")

	chain := Chain(
		Link{Name: "fork", Action: func(_ context.Context, p *Packet) NextAction {
			names.Put(p, []string{"parent"})
			return ForkJoin(
				Branch{Name: "a", Chain: Chain(Link{Name: "mutate", Action: func(_ context.Context, p *Packet) NextAction {
					names.MustGet(p)[0] = "child"
					p.Put("child-only", true)
					return Continue()
				}})},
			)
		}},
		Link{Name: "join", Action: noop},
	)

	f, err := g.Run("ns/copy", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	o := rec.forFiber(f.ID())[0]
	assert.Equal(t, []string{"parent"}, names.MustGet(o.Packet))
	_, ok := o.Packet.Get("child-only")
	assert.False(t, ok)
}

func TestGate_ForkWithFailingChild(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{Retry: FixedBackoff{Interval: time.Millisecond, MaxAttempts: 3}})
	var joins atomic.Int32
	failuresKey := NewKey[[]string]("failures")

	child := func(name string, result error) Branch {
		return Branch{Name: name, Chain: Chain(Link{Name: "call", Action: asyncCall(time.Millisecond, result, nil)})}
	}
	chain := Chain(
		Link{Name: "fork", Action: func(context.Context, *Packet) NextAction {
			return ForkJoin(
				child("c1", nil),
				child("c2", Fatal(errors.New("quota exceeded"))),
				child("c3", nil),
			)
		}},
		Link{Name: "join", Action: func(ctx context.Context, p *Packet) NextAction {
			joins.Add(1)
			results := JoinResults(ctx)
			assert.Len(t, results, 3)
			var failures []string
			for _, r := range FailedBranches(results) {
				failures = append(failures, r.Name+": "+r.Err.Error())
			}
			failuresKey.Put(p, failures)
			if len(failures) > 0 {
				return Fail(Fatal(fmt.Errorf("%d cluster(s) failed", len(failures))))
			}
			return Continue()
		}},
	)

	f, err := g.Run("ns/fork-fail", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, int32(1), joins.Load())
	assert.Equal(t, StateFailed, f.State())
	outcomes := rec.forFiber(f.ID())
	require.Len(t, outcomes, 1)
	assert.Equal(t, []string{"c2: quota exceeded"}, failuresKey.MustGet(outcomes[0].Packet))
	failure, ok := FailureKey.Get(outcomes[0].Packet)
	require.True(t, ok)
	assert.EqualError(t, failure, "1 cluster(s) failed")
	assert.Equal(t, 1, outcomes[0].Attempts)
}

func TestGate_CancelPropagatesToChildren(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{})
	var aborted, suspended atomic.Int32
	var joined atomic.Bool

	hang := Chain(Link{Name: "hang", Action: func(context.Context, *Packet) NextAction {
		return Suspend(func(c *Completion) {
			c.OnCancel(func() { aborted.Add(1) })
			suspended.Add(1)
		})
	}})
	chain := Chain(
		Link{Name: "fork", Action: func(context.Context, *Packet) NextAction {
			return ForkJoin(
				Branch{Name: "a", Chain: hang},
				Branch{Name: "b", Chain: hang},
				Branch{Name: "c", Chain: hang},
			)
		}},
		Link{Name: "join", Action: func(context.Context, *Packet) NextAction {
			joined.Store(true)
			return Continue()
		}},
	)

	f, err := g.Run("ns/cancel", chain, NewPacket())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return suspended.Load() == 3 }, testTimeout, time.Millisecond)

	f.Cancel()
	waitFiber(t, f)

	assert.Equal(t, StateCancelled, f.State())
	assert.Equal(t, int32(3), aborted.Load())
	assert.False(t, joined.Load())
	outcomes := rec.forFiber(f.ID())
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	_, failed := FailureKey.Get(outcomes[0].Packet)
	assert.False(t, failed)
}

func TestGate_RetryBound(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{Retry: FixedBackoff{Interval: time.Millisecond, MaxAttempts: 3}})
	var calls atomic.Int32
	var attempts []int
	var mu sync.Mutex

	chain := Chain(Link{Name: "flaky", Action: func(_ context.Context, p *Packet) NextAction {
		calls.Add(1)
		mu.Lock()
		attempts = append(attempts, AttemptKey.MustGet(p))
		mu.Unlock()
		p.Put("partial", true)
		return Retry(errors.New("conflict"))
	}})

	f, err := g.Run("ns/retry", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, StateFailed, f.State())
	assert.ErrorIs(t, f.Err(), ErrRetriesExhausted)
	assert.True(t, IsFatal(f.Err()))
	assert.Equal(t, 3, f.Attempt())
	assert.Equal(t, []int{1, 2, 3}, attempts)

	rec.mu.Lock()
	assert.Equal(t, []int{1, 2}, rec.retries)
	rec.mu.Unlock()

	// a new run is a new logical execution
	f2, err := g.Run("ns/retry", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f2)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, attempts)
	mu.Unlock()
	assert.Len(t, rec.forFiber(f2.ID()), 1)
}

func TestGate_RetryRestartsFromHeadWithFreshPacket(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{Retry: FixedBackoff{Interval: time.Millisecond, MaxAttempts: 2}})
	effects := &sideEffects{}

	chain := Chain(
		Link{Name: "first", Action: func(_ context.Context, p *Packet) NextAction {
			_, dirty := p.Get("dirty")
			effects.record(fmt.Sprintf("first dirty=%v", dirty))
			p.Put("dirty", true)
			return Continue()
		}},
		Link{Name: "second", Action: func(_ context.Context, p *Packet) NextAction {
			effects.record("second")
			if AttemptKey.MustGet(p) == 1 {
				return Fail(Retryable(errors.New("timeout")))
			}
			return Continue()
		}},
	)

	f, err := g.Run("ns/restart", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, StateCompleted, f.State())
	assert.Equal(t, []string{"first dirty=false", "second", "first dirty=false", "second"}, effects.entries())
}

func TestGate_SupersessionWinsOverScheduledRetry(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{Retry: FixedBackoff{Interval: 100 * time.Millisecond, MaxAttempts: 5}})
	var oldCalls atomic.Int32

	old := Chain(Link{Name: "flaky", Action: func(context.Context, *Packet) NextAction {
		oldCalls.Add(1)
		return Retry(errors.New("conflict"))
	}})

	f1, err := g.Run("ns/race", old, NewPacket())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f1.mu.Lock()
		defer f1.mu.Unlock()
		return f1.waiting == waitRetry
	}, testTimeout, time.Millisecond)

	f2, err := g.Run("ns/race", Chain(Link{Name: "noop", Action: noop}), NewPacket())
	require.NoError(t, err)
	waitFiber(t, f1)
	waitFiber(t, f2)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateCancelled, f1.State())
	assert.Equal(t, int32(1), oldCalls.Load())
	assert.Equal(t, StateCompleted, f2.State())
}

func TestGate_FatalFailureIsNotRetried(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{Retry: FixedBackoff{Interval: time.Millisecond, MaxAttempts: 5}})
	var calls atomic.Int32

	chain := Chain(
		Link{Name: "call", Action: func(context.Context, *Packet) NextAction {
			calls.Add(1)
			return Suspend(func(c *Completion) {
				go c.Fail(errors.New("forbidden"))
			})
		}},
		Link{Name: "never", Action: func(context.Context, *Packet) NextAction {
			t.Error("step after fatal failure ran")
			return Continue()
		}},
	)

	f, err := g.Run("ns/fatal", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateFailed, f.State())
	assert.EqualError(t, f.Err(), "forbidden")
	outcomes := rec.forFiber(f.ID())
	require.Len(t, outcomes, 1)
	failure, ok := FailureKey.Get(outcomes[0].Packet)
	require.True(t, ok)
	assert.EqualError(t, failure, "forbidden")
}

func TestGate_WatchdogTimeoutIsRetried(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{
		FiberTimeout: 20 * time.Millisecond,
		Retry:        FixedBackoff{Interval: time.Millisecond, MaxAttempts: 2},
	})
	var aborted atomic.Int32

	chain := Chain(Link{Name: "hang", Action: func(context.Context, *Packet) NextAction {
		return Suspend(func(c *Completion) {
			c.OnCancel(func() { aborted.Add(1) })
		})
	}})

	f, err := g.Run("ns/timeout", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, StateFailed, f.State())
	assert.ErrorIs(t, f.Err(), ErrFiberTimeout)
	assert.ErrorIs(t, f.Err(), ErrRetriesExhausted)
	assert.Equal(t, 2, f.Attempt())
	assert.Equal(t, int32(2), aborted.Load())
}

func TestGate_LateCompletionIsDiscarded(t *testing.T) {
	g, rec := newTestGate(t, GateConfig{})
	completions := make(chan *Completion, 1)
	var applied atomic.Bool

	chain := Chain(
		Link{Name: "call", Action: func(context.Context, *Packet) NextAction {
			return Suspend(func(c *Completion) { completions <- c })
		}},
		Link{Name: "next", Action: func(context.Context, *Packet) NextAction {
			t.Error("fiber resumed after cancellation")
			return Continue()
		}},
	)

	f, err := g.Run("ns/late", chain, NewPacket())
	require.NoError(t, err)
	c := <-completions

	f.Cancel()
	waitFiber(t, f)
	assert.ErrorIs(t, c.Context().Err(), context.Canceled)

	c.Succeed(func(*Packet) { applied.Store(true) })
	c.Succeed(nil)
	time.Sleep(10 * time.Millisecond)

	assert.False(t, applied.Load())
	assert.Equal(t, StateCancelled, f.State())
	assert.Len(t, rec.forFiber(f.ID()), 1)
}

func TestGate_StepPanicFailsChain(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{Retry: FixedBackoff{Interval: time.Millisecond, MaxAttempts: 3}})

	f, err := g.Run("ns/panic", Chain(Link{Name: "explode", Action: func(context.Context, *Packet) NextAction {
		panic("nil map")
	}}), NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, StateFailed, f.State())
	assert.ErrorIs(t, f.Err(), ErrStepPanicked)
	assert.Equal(t, 1, f.Attempt())
}

func TestGate_TerminateAndGoto(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})
	effects := &sideEffects{}
	rec := func(name string) Action {
		return func(context.Context, *Packet) NextAction {
			effects.record(name)
			return Continue()
		}
	}

	detour := Chain(Link{Name: "detour", Action: rec("detour")})
	chain := Chain(
		Link{Name: "start", Action: func(context.Context, *Packet) NextAction {
			effects.record("start")
			return Goto(detour)
		}},
		Link{Name: "skipped", Action: rec("skipped")},
	)
	f, err := g.Run("ns/goto", chain, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	stop := Chain(
		Link{Name: "stop", Action: func(context.Context, *Packet) NextAction { return Terminate() }},
		Link{Name: "skipped", Action: rec("skipped")},
	)
	f2, err := g.Run("ns/goto", stop, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f2)

	assert.Equal(t, []string{"start", "detour"}, effects.entries())
	assert.Equal(t, StateCompleted, f.State())
	assert.Equal(t, StateCompleted, f2.State())
}

func TestGate_RunIfIdle(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})
	release := make(chan struct{})

	busy := Chain(Link{Name: "busy", Action: func(context.Context, *Packet) NextAction {
		return Suspend(func(c *Completion) {
			go func() {
				<-release
				c.Succeed(nil)
			}()
		})
	}})

	f1, err := g.RunIfIdle("ns/idle", busy, NewPacket())
	require.NoError(t, err)
	require.NotNil(t, f1)

	f2, err := g.RunIfIdle("ns/idle", busy, NewPacket())
	require.NoError(t, err)
	assert.Nil(t, f2)
	assert.Same(t, f1, g.Current("ns/idle"))

	close(release)
	waitFiber(t, f1)
	assert.Equal(t, StateCompleted, f1.State())

	f3, err := g.RunIfIdle("ns/idle", Chain(Link{Name: "noop", Action: noop}), NewPacket())
	require.NoError(t, err)
	require.NotNil(t, f3)
	waitFiber(t, f3)
}

func TestGate_CancelAll(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})

	hang := Chain(Link{Name: "hang", Action: func(context.Context, *Packet) NextAction {
		return Suspend(func(*Completion) {})
	}})
	var fibers []*Fiber
	for i := 0; i < 5; i++ {
		f, err := g.Run(fmt.Sprintf("ns/%d", i), hang, NewPacket())
		require.NoError(t, err)
		fibers = append(fibers, f)
	}
	assert.Equal(t, []string{"ns/0", "ns/1", "ns/2", "ns/3", "ns/4"}, g.Keys())
	require.Eventually(t, func() bool {
		for _, f := range fibers {
			if f.State() != StateSuspended {
				return false
			}
		}
		return true
	}, testTimeout, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, g.CancelAll(ctx))

	for _, f := range fibers {
		assert.Equal(t, StateCancelled, f.State())
	}
	assert.Equal(t, 0, g.Len())

	_, err := g.Run("ns/late", hang, NewPacket())
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestGate_CancelAllIsBounded(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})
	started := make(chan struct{})

	f, err := g.Run("ns/stubborn", Chain(Link{Name: "sleep", Action: func(context.Context, *Packet) NextAction {
		close(started)
		time.Sleep(200 * time.Millisecond)
		return Continue()
	}}), NewPacket())
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = g.CancelAll(ctx)
	assert.ErrorIs(t, err, ErrShutdownTimeout)

	waitFiber(t, f)
	assert.Equal(t, StateCancelled, f.State())
}

func TestGate_RejectsNilChain(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})
	_, err := g.Run("ns/a", nil, nil)
	assert.ErrorIs(t, err, ErrNilChain)
}

func TestGate_SchedulerStopped(t *testing.T) {
	sched := NewScheduler(1)
	sched.Start(context.Background())
	sched.Shutdown()

	rec := &outcomeRecorder{}
	g := NewGate(GateConfig{Scheduler: sched, Listener: rec})

	f, err := g.Run("ns/a", Chain(Link{Name: "noop", Action: noop}), nil)
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, StateCancelled, f.State())
	assert.ErrorIs(t, f.Cause(), ErrSchedulerStopped)
}

func TestGate_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	g, _ := newTestGate(t, GateConfig{Metrics: m, Retry: FixedBackoff{Interval: time.Millisecond, MaxAttempts: 2}})

	flaky := Chain(Link{Name: "flaky", Action: func(_ context.Context, p *Packet) NextAction {
		if AttemptKey.MustGet(p) == 1 {
			return Retry(errors.New("conflict"))
		}
		return ForkJoin(Branch{Name: "child", Chain: Chain(Link{Name: "noop", Action: noop})})
	}})

	f, err := g.Run("ns/metrics", flaky, NewPacket())
	require.NoError(t, err)
	waitFiber(t, f)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fibersStarted.WithLabelValues("root")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fibersStarted.WithLabelValues("child")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fibersFinished.WithLabelValues("root", "Completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fibersActive))

	count, err := testutil.GatherAndCount(reg, "domainop_engine_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGate_ActiveGaugeTracksRegisteredFibers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	g, _ := newTestGate(t, GateConfig{Metrics: m})

	release := make(chan struct{})
	blocked := Chain(Link{Name: "wait", Action: func(context.Context, *Packet) NextAction {
		return Suspend(func(c *Completion) {
			go func() {
				<-release
				c.Succeed(nil)
			}()
		})
	}})
	for _, key := range []string{"ns/a", "ns/b", "ns/c"} {
		_, err := g.Run(key, blocked, NewPacket())
		require.NoError(t, err)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fibersActive))
	close(release)

	short := Chain(Link{Name: "noop", Action: noop})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := g.Run(fmt.Sprintf("ns/key-%d", j%4), short, NewPacket())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return g.Len() == 0 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fibersActive))
}

func TestState_String(t *testing.T) {
	states := []State{StateCreated, StateRunning, StateSuspended, StateCompleted, StateCancelled, StateFailed}
	var names []string
	for _, s := range states {
		names = append(names, s.String())
	}
	assert.Equal(t, "Created,Running,Suspended,Completed,Cancelled,Failed", strings.Join(names, ","))
	assert.False(t, StateSuspended.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

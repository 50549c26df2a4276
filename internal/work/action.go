package work

import (
	"context"
	"errors"
	"time"
)

type actionKind int

const (
	actionContinue actionKind = iota
	actionSuspend
	actionFork
	actionRetry
	actionTerminate
)

func (k actionKind) String() string {
	switch k {
	case actionContinue:
		return "continue"
	case actionSuspend:
		return "suspend"
	case actionFork:
		return "fork"
	case actionRetry:
		return "retry"
	case actionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// NextAction is the outcome of a step. Use the constructors below; the zero
// value is Continue.
type NextAction struct {
	kind     actionKind
	next     *Step
	jump     bool
	start    func(*Completion)
	branches []Branch
	err      error
}

// Continue proceeds with the next step of the chain.
func Continue() NextAction {
	return NextAction{kind: actionContinue}
}

// Goto continues with step instead of the next step of the chain. A nil step
// ends the chain successfully.
func Goto(step *Step) NextAction {
	return NextAction{kind: actionContinue, next: step, jump: true}
}

// Suspend yields the worker until the Completion passed to start is completed.
// The fiber resumes at the step after the suspending one.
//
// start runs on the worker goroutine and must not block; it typically launches
// a goroutine that completes the call later.
func Suspend(start func(c *Completion)) NextAction {
	return NextAction{kind: actionSuspend, start: start}
}

// Branch is one child chain of a fork. A nil Packet gives the child a copy of
// the parent packet.
type Branch struct {
	Name   string
	Chain  *Step
	Packet *Packet
}

// BranchResult is the outcome of a forked child as seen by the join step.
type BranchResult struct {
	Name   string
	State  State
	Err    error
	Packet *Packet
}

// ForkJoin runs branches concurrently and continues with the next step once all
// of them are terminal. With no branches the chain continues immediately.
func ForkJoin(branches ...Branch) NextAction {
	return NextAction{kind: actionFork, branches: branches}
}

// ForkJoinThen is ForkJoin with an explicit continuation.
func ForkJoinThen(continuation *Step, branches ...Branch) NextAction {
	return NextAction{kind: actionFork, branches: branches, next: continuation, jump: true}
}

// Retry reports a transient failure. The retry strategy decides whether the
// chain is restarted from its head.
func Retry(err error) NextAction {
	if err == nil {
		err = errors.New("retry requested")
	}
	return NextAction{kind: actionRetry, err: err}
}

// RetryAfter is Retry with a minimum delay before the next attempt.
func RetryAfter(err error, d time.Duration) NextAction {
	if err == nil {
		err = errors.New("retry requested")
	}
	return NextAction{kind: actionRetry, err: RetryableAfter(err, d)}
}

// Terminate ends the chain successfully, skipping remaining steps.
func Terminate() NextAction {
	return NextAction{kind: actionTerminate}
}

// Fail ends the chain with err. Errors marked Retryable are handed to the retry
// strategy; everything else is fatal.
func Fail(err error) NextAction {
	if err == nil {
		err = errors.New("step failed")
	}
	if IsRetryable(err) {
		return NextAction{kind: actionRetry, err: err}
	}
	return NextAction{kind: actionTerminate, err: err}
}

// Delay suspends the fiber for d. Cancellation stops the timer.
func Delay(d time.Duration) Action {
	return func(_ context.Context, _ *Packet) NextAction {
		return Suspend(func(c *Completion) {
			t := time.AfterFunc(d, func() { c.Succeed(nil) })
			c.OnCancel(func() { t.Stop() })
		})
	}
}

type joinResultsKey struct{}

// JoinResults returns the child outcomes of the fork that completed just before
// the current step. Results are in branch order. The join step merges whatever
// it needs into its own packet.
func JoinResults(ctx context.Context) []BranchResult {
	results, _ := ctx.Value(joinResultsKey{}).([]BranchResult)
	return results
}

// FailedBranches filters results to the branches that did not complete.
func FailedBranches(results []BranchResult) []BranchResult {
	var failed []BranchResult
	for _, r := range results {
		if r.State != StateCompleted {
			failed = append(failed, r)
		}
	}
	return failed
}

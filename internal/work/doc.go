// Package work implements the asynchronous step execution engine that every
// reconciliation is built on.
//
// # Overview
//
// A reconciliation is expressed as a chain of Steps. Each Step performs one unit
// of work against a Packet (the per-execution key/value context) and returns a
// NextAction telling the engine what to do next:
//
//   - Continue: run the next step immediately
//   - Suspend: wait for an asynchronous call to complete through a Completion
//   - ForkJoin: run child chains concurrently and resume once all of them finish
//   - Retry: hand a retryable failure to the RetryStrategy
//   - Terminate / Fail: end the chain
//
// A Fiber drives one chain to completion. Fibers do not own goroutines; they are
// units of work submitted to the Scheduler's worker pool and re-submitted every
// time they resume.
//
// # Gate
//
// The Gate serializes work per resource key. Run cancels whatever fiber is
// registered for the key and registers the new one. The new fiber is not
// dispatched until the superseded fiber has reached a terminal state, so no step
// of the old chain runs after the first step of the new chain.
//
// Example usage:
//
//	sched := work.NewScheduler(4)
//	sched.Start(ctx)
//	gate := work.NewGate(work.GateConfig{Scheduler: sched, Retry: work.ExponentialBackoff{MaxAttempts: 5}})
//	gate.Run("ns/a", chain, work.NewPacket())
//	...
//	_ = gate.CancelAll(shutdownCtx)
//	sched.Shutdown()
//
// # Errors
//
// Steps classify their own failures with Retryable and Fatal. The engine never
// inspects error contents beyond those markers.
package work

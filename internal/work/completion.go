package work

import (
	"context"
	"errors"
	"sync/atomic"

	"domainop/pkg/logging"
)

// Completion resumes a fiber suspended on an asynchronous call. Only the first
// Succeed or Fail has an effect. If the fiber was cancelled in the meantime the
// outcome is discarded.
type Completion struct {
	fiber *Fiber
	token uint64
	ctx   context.Context
	done  atomic.Bool
}

// Context returns the context of the suspended attempt. It is cancelled when
// the fiber is cancelled or times out.
func (c *Completion) Context() context.Context {
	return c.ctx
}

// Succeed resumes the fiber. apply runs on the fiber before its next step and
// is the place to write the call result into the packet.
func (c *Completion) Succeed(apply func(p *Packet)) {
	c.complete(resumption{apply: apply})
}

// Fail resumes the fiber with err. Errors marked Retryable are retried,
// everything else fails the chain.
func (c *Completion) Fail(err error) {
	if err == nil {
		err = errors.New("call failed without an error")
	}
	c.complete(resumption{err: err})
}

// OnCancel registers fn to abort the in-flight call when the fiber is cancelled
// before the call completes. fn runs immediately if the fiber is already
// cancelled.
func (c *Completion) OnCancel(fn func()) {
	c.fiber.addCancelHook(c.token, fn)
}

func (c *Completion) complete(r resumption) {
	if !c.done.CompareAndSwap(false, true) {
		logging.Debug("Completion", "Ignoring repeated completion for fiber %s", c.fiber.id)
		return
	}
	c.fiber.resume(c.token, r)
}

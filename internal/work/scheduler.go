package work

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"domainop/pkg/logging"
)

// runQueue is the FIFO of runnable fibers shared by the workers.
type runQueue struct {
	mu sync.Mutex

	// queue holds fibers in submission order
	queue []*Fiber

	// cond is used for blocking get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// add enqueues f. It returns false once the queue is shutting down.
func (q *runQueue) add(f *Fiber) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return false
	}
	q.queue = append(q.queue, f)
	q.cond.Signal()
	return true
}

// get blocks until a fiber is available. It returns false after shutdown once
// the queue is drained.
func (q *runQueue) get() (*Fiber, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		q.cond.Wait()
	}
	if len(q.queue) == 0 {
		return nil, false
	}

	f := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	return f, true
}

func (q *runQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *runQueue) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// Scheduler is the worker pool fibers run on. A fiber is executed by whichever
// worker dequeues it and may move between workers across suspensions.
type Scheduler struct {
	mu      sync.Mutex
	workers int
	queue   *runQueue
	group   *errgroup.Group
	started bool
}

// NewScheduler creates a scheduler with the given number of workers. Values
// below one are raised to one.
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		workers: workers,
		queue:   newRunQueue(),
	}
}

// Start launches the workers. Cancelling ctx has the same effect as Shutdown
// without waiting.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.group = &errgroup.Group{}
	for i := 0; i < s.workers; i++ {
		id := i
		s.group.Go(func() error {
			return s.worker(id)
		})
	}
	context.AfterFunc(ctx, s.queue.shutdown)

	logging.Debug("Scheduler", "Started %d workers", s.workers)
}

// Shutdown stops accepting fibers, lets the workers drain what is queued and
// waits for them to exit.
func (s *Scheduler) Shutdown() {
	s.queue.shutdown()

	s.mu.Lock()
	group := s.group
	s.mu.Unlock()

	if group != nil {
		if err := group.Wait(); err != nil {
			logging.Error("Scheduler", err, "Worker exited with error")
		}
	}
	logging.Debug("Scheduler", "All workers stopped")
}

// Pending returns the number of fibers waiting for a worker.
func (s *Scheduler) Pending() int {
	return s.queue.len()
}

func (s *Scheduler) submit(f *Fiber) bool {
	return s.queue.add(f)
}

func (s *Scheduler) worker(id int) error {
	for {
		f, ok := s.queue.get()
		if !ok {
			return nil
		}
		s.execute(id, f)
	}
}

func (s *Scheduler) execute(id int, f *Fiber) {
	defer func() {
		if r := recover(); r != nil {
			f.defect(fmt.Sprintf("worker %d recovered panic outside a step: %v", id, r))
		}
	}()
	f.run()
}

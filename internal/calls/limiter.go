package calls

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of external calls in flight across all fibers.
type Limiter struct {
	sem  *semaphore.Weighted
	size int64
}

// NewLimiter creates a limiter admitting n concurrent calls. Values below one
// are raised to one.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(n)),
		size: int64(n),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for call slot: %w", err)
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	return int(l.size)
}

package work

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 5 * time.Minute
	defaultMultiplier      = 2.0
	defaultMaxAttempts     = 5
)

// RetryState tracks retries for one logical run of a chain. Attempt starts at 1
// and only grows; a new Run for the same key starts a new state.
type RetryState struct {
	Attempt     int
	LastFailure error
	NextRetry   time.Time

	backOff backoff.BackOff
}

// RetryStrategy decides whether a failed attempt is retried and after which delay.
type RetryStrategy interface {
	// NextDelay returns the delay before restarting the chain, or false when the
	// failure is terminal.
	NextDelay(state *RetryState, err error) (time.Duration, bool)
}

// ExponentialBackoff retries with exponentially growing, optionally jittered delays.
// Zero fields take defaults: 1s initial interval, 5m cap, multiplier 2 and 5 attempts.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1). Zero gives exact delays.
	Jitter      float64
	MaxAttempts int
}

// NextDelay implements RetryStrategy.
func (s ExponentialBackoff) NextDelay(state *RetryState, err error) (time.Duration, bool) {
	if state.Attempt >= orDefault(s.MaxAttempts, defaultMaxAttempts) {
		return 0, false
	}
	if state.backOff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = orDefault(s.InitialInterval, defaultInitialInterval)
		b.MaxInterval = orDefault(s.MaxInterval, defaultMaxInterval)
		b.Multiplier = orDefault(s.Multiplier, defaultMultiplier)
		b.RandomizationFactor = s.Jitter
		b.Reset()
		state.backOff = b
	}
	return nextDelay(state.backOff, err)
}

// Validate checks the strategy parameters.
func (s ExponentialBackoff) Validate() error {
	if s.InitialInterval < 0 || s.MaxInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if s.MaxInterval > 0 && s.InitialInterval > s.MaxInterval {
		return fmt.Errorf("initial interval %v exceeds max interval %v", s.InitialInterval, s.MaxInterval)
	}
	if s.Multiplier != 0 && s.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", s.Multiplier)
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %v", s.Jitter)
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}
	return nil
}

// FixedBackoff retries with a constant delay.
type FixedBackoff struct {
	Interval    time.Duration
	MaxAttempts int
}

// NextDelay implements RetryStrategy.
func (s FixedBackoff) NextDelay(state *RetryState, err error) (time.Duration, bool) {
	if state.Attempt >= orDefault(s.MaxAttempts, defaultMaxAttempts) {
		return 0, false
	}
	if state.backOff == nil {
		state.backOff = backoff.NewConstantBackOff(orDefault(s.Interval, defaultInitialInterval))
	}
	return nextDelay(state.backOff, err)
}

// NoRetry makes every failure terminal.
type NoRetry struct{}

// NextDelay implements RetryStrategy.
func (NoRetry) NextDelay(*RetryState, error) (time.Duration, bool) {
	return 0, false
}

func nextDelay(b backoff.BackOff, err error) (time.Duration, bool) {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	if hint := retryHint(err); hint > d {
		d = hint
	}
	return d, true
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

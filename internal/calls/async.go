package calls

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"domainop/internal/work"
	"domainop/pkg/logging"
)

// Call is a blocking request. It must honor ctx.
type Call[T any] func(ctx context.Context) (T, error)

// Prepare builds the call from the packet. It runs on the fiber's worker, so
// it is the only place the request may read the packet. A nil Call skips the
// request and continues the chain.
type Prepare[T any] func(p *work.Packet) (Call[T], error)

// OnResult writes a successful result into the packet before the next step.
type OnResult[T any] func(p *work.Packet, result T)

type options struct {
	classify Classifier
	limiter  *Limiter
	timeout  time.Duration
	metrics  *Metrics
}

// Option configures Async.
type Option func(*options)

// WithClassifier replaces Classify for this call.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		o.classify = c
	}
}

// WithLimiter makes the call wait for a slot in l before it is issued.
func WithLimiter(l *Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithTimeout bounds a single request. Expiry is a retryable failure.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMetrics records the call in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Async returns an action that issues the prepared call and suspends the fiber
// until it returns.
func Async[T any](name string, prepare Prepare[T], onResult OnResult[T], opts ...Option) work.Action {
	o := options{classify: Classify}
	for _, opt := range opts {
		opt(&o)
	}

	return func(_ context.Context, p *work.Packet) work.NextAction {
		call, err := prepare(p)
		if err != nil {
			return work.Fail(o.classify(err))
		}
		if call == nil {
			return work.Continue()
		}

		return work.Suspend(func(c *work.Completion) {
			ctx, cancel := context.WithCancel(c.Context())
			c.OnCancel(cancel)

			go func() {
				defer cancel()
				result, err := run(ctx, name, call, &o)
				if err != nil {
					c.Fail(err)
					return
				}
				c.Succeed(func(p *work.Packet) {
					if onResult != nil {
						onResult(p, result)
					}
				})
			}()
		})
	}
}

func run[T any](ctx context.Context, name string, call Call[T], o *options) (T, error) {
	var zero T

	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx); err != nil {
			return zero, o.classify(err)
		}
		defer o.limiter.Release()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := call(ctx)
	elapsed := time.Since(start)
	if err != nil {
		classified := o.classify(err)
		o.metrics.observe(name, resultLabel(classified), elapsed)
		logging.Debug("Calls", "Call %s failed after %v: %v", name, elapsed, err)
		return zero, classified
	}
	o.metrics.observe(name, "success", elapsed)
	return result, nil
}

func resultLabel(err error) string {
	if work.IsRetryable(err) {
		return "retryable"
	}
	return "fatal"
}

// Metrics records external call latency by call name and result.
type Metrics struct {
	duration *prometheus.HistogramVec
}

// NewMetrics creates the call collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "domainop",
				Subsystem: "calls",
				Name:      "duration_seconds",
				Help:      "Duration of external calls issued by steps, by call and result",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"call", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.duration)
	}
	return m
}

func (m *Metrics) observe(name, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(name, result).Observe(d.Seconds())
}

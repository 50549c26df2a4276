package work

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "domainop"

// Metrics holds the engine's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	fibersStarted  *prometheus.CounterVec
	fibersFinished *prometheus.CounterVec
	fibersActive   prometheus.Gauge
	retries        prometheus.Counter
	supersessions  prometheus.Counter
	stepDuration   *prometheus.HistogramVec
}

// NewMetrics creates the engine collectors and registers them with reg. Pass
// controller-runtime's metrics.Registry to expose them on the manager endpoint,
// or a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fibersStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "fibers_started_total",
				Help:      "Number of fibers dispatched, by kind (root or child)",
			},
			[]string{"kind"},
		),
		fibersFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "fibers_finished_total",
				Help:      "Number of fibers that reached a terminal state, by kind and state",
			},
			[]string{"kind", "state"},
		),
		fibersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "fibers_active",
				Help:      "Number of root fibers registered in the gate",
			},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "retries_total",
				Help:      "Number of scheduled chain retries",
			},
		),
		supersessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "supersessions_total",
				Help:      "Number of fibers cancelled because a newer run arrived for their key",
			},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "step_duration_seconds",
				Help:      "Time spent inside step actions, excluding suspension",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"step"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.fibersStarted,
			m.fibersFinished,
			m.fibersActive,
			m.retries,
			m.supersessions,
			m.stepDuration,
		)
	}
	return m
}

func fiberKind(f *Fiber) string {
	if f.parent != nil {
		return "child"
	}
	return "root"
}

func (m *Metrics) fiberStarted(f *Fiber) {
	if m == nil {
		return
	}
	m.fibersStarted.WithLabelValues(fiberKind(f)).Inc()
}

func (m *Metrics) fiberFinished(f *Fiber, state State) {
	if m == nil {
		return
	}
	m.fibersFinished.WithLabelValues(fiberKind(f), state.String()).Inc()
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.fibersActive.Set(float64(n))
}

func (m *Metrics) retryScheduled() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) superseded() {
	if m == nil {
		return
	}
	m.supersessions.Inc()
}

func (m *Metrics) observeStep(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(name).Observe(d.Seconds())
}

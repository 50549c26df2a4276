package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks change detection and status publication. A nil *Metrics
// records nothing.
type Metrics struct {
	changeEvents  *prometheus.CounterVec
	chainsStarted *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	backlog       prometheus.Gauge
	resyncs       prometheus.Counter
}

// NewMetrics creates the reconciler collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		changeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "domainop",
				Subsystem: "reconciler",
				Name:      "change_events_total",
				Help:      "Number of domain change events handled, by source and operation",
			},
			[]string{"source", "operation"},
		),
		chainsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "domainop",
				Subsystem: "reconciler",
				Name:      "chains_started_total",
				Help:      "Number of chains submitted to the gate, by chain",
			},
			[]string{"chain"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "domainop",
				Subsystem: "reconciler",
				Name:      "outcomes_total",
				Help:      "Number of finished chains, by terminal state",
			},
			[]string{"state"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "domainop",
				Subsystem: "reconciler",
				Name:      "status_publish_total",
				Help:      "Number of status publications, by result",
			},
			[]string{"result"},
		),
		backlog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "domainop",
				Subsystem: "reconciler",
				Name:      "status_publish_backlog",
				Help:      "Number of finished chains waiting for the status sink",
			},
		),
		resyncs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "domainop",
				Subsystem: "reconciler",
				Name:      "resyncs_total",
				Help:      "Number of periodic resync passes",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.changeEvents, m.chainsStarted, m.outcomes, m.publishes, m.backlog, m.resyncs)
	}
	return m
}

func (m *Metrics) changeEvent(e ChangeEvent) {
	if m == nil {
		return
	}
	m.changeEvents.WithLabelValues(string(e.Source), string(e.Operation)).Inc()
}

func (m *Metrics) chainStarted(chain string) {
	if m == nil {
		return
	}
	m.chainsStarted.WithLabelValues(chain).Inc()
}

func (m *Metrics) outcome(state string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) published(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) queued() {
	if m == nil {
		return
	}
	m.backlog.Inc()
}

func (m *Metrics) dequeued() {
	if m == nil {
		return
	}
	m.backlog.Dec()
}

func (m *Metrics) resync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

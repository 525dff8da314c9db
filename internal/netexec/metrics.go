package netexec

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts executor activity. A nil *Metrics records nothing.
type Metrics struct {
	attempts    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framez",
			Subsystem: "netexec",
			Name:      "attempts_total",
			Help:      "Remote call attempts, retries included.",
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framez",
			Subsystem: "netexec",
			Name:      "retries_total",
			Help:      "Remote call attempts that were retried after a transient failure.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framez",
			Subsystem: "netexec",
			Name:      "failures_total",
			Help:      "Remote calls that failed for good, by error kind.",
		}, []string{"op", "kind"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framez",
			Subsystem: "netexec",
			Name:      "cache_hits_total",
			Help:      "Reads answered from the result cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framez",
			Subsystem: "netexec",
			Name:      "cache_misses_total",
			Help:      "Reads that had to go to the remote service.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.retries, m.failures, m.cacheHits, m.cacheMisses)
	}
	return m
}

func (m *Metrics) attempt(op string) {
	if m != nil {
		m.attempts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) retry(op string) {
	if m != nil {
		m.retries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) failure(op string, kind Kind) {
	if m != nil {
		m.failures.WithLabelValues(op, kind.String()).Inc()
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// Package metrics wraps the prometheus client so the pool and operation
// packages can record occupancy and retry counts without taking a hard
// dependency on a global registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects pool occupancy, borrow-wait latency and retry
// counts. A nil *Registry is safe to call methods on — every method
// no-ops — so callers that don't care about metrics can pass nil
// straight through.
type Registry struct {
	idle       *prometheus.GaugeVec
	active     *prometheus.GaugeVec
	borrowWait prometheus.Histogram
	retries    prometheus.Counter
}

// New registers the pool/operation metrics on reg and returns a Registry.
// Pass a fresh *prometheus.Registry, or prometheus.DefaultRegisterer
// wrapped accordingly by the caller.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotrodpool_idle_connections",
			Help: "Number of idle transports held per endpoint.",
		}, []string{"endpoint"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hotrodpool_active_connections",
			Help: "Number of leased transports per endpoint.",
		}, []string{"endpoint"}),
		borrowWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hotrodpool_borrow_wait_seconds",
			Help:    "Time spent inside BorrowObject, including any wait for capacity.",
			Buckets: prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotrodpool_operation_retries_total",
			Help: "Total number of operation attempts that failed with a recoverable transport error or an open circuit breaker.",
		}),
	}
	reg.MustRegister(r.idle, r.active, r.borrowWait, r.retries)
	return r
}

func (r *Registry) SetIdle(endpoint string, n int) {
	if r == nil {
		return
	}
	r.idle.WithLabelValues(endpoint).Set(float64(n))
}

func (r *Registry) SetActive(endpoint string, n int) {
	if r == nil {
		return
	}
	r.active.WithLabelValues(endpoint).Set(float64(n))
}

func (r *Registry) ObserveBorrowWaitSeconds(seconds float64) {
	if r == nil {
		return
	}
	r.borrowWait.Observe(seconds)
}

func (r *Registry) IncRetries() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

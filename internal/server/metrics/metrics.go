// Package metrics defines the Prometheus collectors of the auth service and
// the HTTP endpoint that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values for auth operations.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	Operations   *prometheus.CounterVec
	HashDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_auth_operations_total",
				Help: "Total number of auth operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		HashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authkeeper_password_hash_seconds",
				Help:    "Password hashing and verification duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(m.Operations, m.HashDuration)
	return m
}

func (m *Metrics) RecordOperation(operation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveHash(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.WithLabelValues(operation).Observe(d.Seconds())
}

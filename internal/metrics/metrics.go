// Package metrics exposes Prometheus instruments for the scheduling core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "turnoplus"

type Scheduling struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewScheduling creates the instruments and registers them on reg.
func NewScheduling(reg prometheus.Registerer) (*Scheduling, error) {
	m := &Scheduling{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduling",
				Name:      "operations_total",
				Help:      "Scheduling operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduling",
				Name:      "tx_retries_total",
				Help:      "Transactions retried after a transient storage failure.",
			},
			[]string{"operation"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduling",
				Name:      "operation_duration_seconds",
				Help:      "Scheduling operation latency including retries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	for _, c := range []prometheus.Collector{m.operations, m.retries, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Scheduling) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Scheduling) IncRetry(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

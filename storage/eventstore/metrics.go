package eventstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rulecore/metric"
)

// storeMetrics holds Prometheus metrics for event store operations
type storeMetrics struct {
	writes       *prometheus.CounterVec // by event type
	reads        prometheus.Counter
	deleted      prometheus.Counter
	errors       *prometheus.CounterVec // by operation
	writeLatency prometheus.Histogram
}

// newStoreMetrics creates and registers store metrics. A nil registry
// disables metrics.
func newStoreMetrics(registry *metric.MetricsRegistry, backend string) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"backend": backend}

	m := &storeMetrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rulecore",
			Subsystem:   "eventstore",
			Name:        "writes_total",
			Help:        "Events written to the store",
			ConstLabels: labels,
		}, []string{"event_type"}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rulecore",
			Subsystem:   "eventstore",
			Name:        "reads_total",
			Help:        "Find calls served by the store",
			ConstLabels: labels,
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rulecore",
			Subsystem:   "eventstore",
			Name:        "deleted_total",
			Help:        "Events removed by retention cleanup",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rulecore",
			Subsystem:   "eventstore",
			Name:        "errors_total",
			Help:        "Failed store operations",
			ConstLabels: labels,
		}, []string{"operation"}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "rulecore",
			Subsystem:   "eventstore",
			Name:        "write_duration_seconds",
			Help:        "Event write duration in seconds",
			ConstLabels: labels,
			Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
	}

	service := "eventstore_" + backend
	if err := registry.RegisterCounterVec(service, "writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "deleted", m.deleted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(service, "write_latency", m.writeLatency); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) recordWrite(eventType string, start time.Time) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(eventType).Inc()
	m.writeLatency.Observe(time.Since(start).Seconds())
}

func (m *storeMetrics) recordRead() {
	if m == nil {
		return
	}
	m.reads.Inc()
}

func (m *storeMetrics) recordDeleted(n int) {
	if m == nil {
		return
	}
	m.deleted.Add(float64(n))
}

func (m *storeMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation).Inc()
}

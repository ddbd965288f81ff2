package batch

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "labelbatch"

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is valid
// and records nothing, so tests and embedders can omit it.
type Metrics struct {
	items     *prometheus.CounterVec
	duration  prometheus.Histogram
	inflight  prometheus.Gauge
	batches   *prometheus.CounterVec
	fallbacks prometheus.Counter
}

// NewMetrics creates the instruments and registers them on reg. Registering
// twice on the same registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_total",
			Help:      "Work items finished, by status and error kind.",
		}, []string{"status", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent executing a single work item.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_items",
			Help:      "Work items currently executing.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Batches finished, by result.",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "serial_fallbacks_total",
			Help:      "Batches that fell back to serial execution because the worker pool could not be built.",
		}),
	}

	var err error

	m.items, err = register(reg, m.items)
	if err != nil {
		return nil, err
	}

	m.duration, err = register(reg, m.duration)
	if err != nil {
		return nil, err
	}

	m.inflight, err = register(reg, m.inflight)
	if err != nil {
		return nil, err
	}

	m.batches, err = register(reg, m.batches)
	if err != nil {
		return nil, err
	}

	m.fallbacks, err = register(reg, m.fallbacks)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// register adds c to reg, returning the already-registered collector when an
// identical one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}

		return c, fmt.Errorf("batch: registering metrics: %w", err)
	}

	return c, nil
}

func (m *Metrics) itemStarted() {
	if m == nil {
		return
	}

	m.inflight.Inc()
}

func (m *Metrics) itemFinished(o *Outcome) {
	if m == nil {
		return
	}

	m.inflight.Dec()
	m.items.WithLabelValues(string(o.Status), string(o.Kind)).Inc()
	m.duration.Observe(o.Duration.Seconds())
}

// itemAbandoned accounts for an item whose outcome is synthesized without
// the worker finishing (timeout past the drain bound, or never dispatched).
func (m *Metrics) itemAbandoned(o *Outcome, wasInflight bool) {
	if m == nil {
		return
	}

	if wasInflight {
		m.inflight.Dec()
	}

	m.items.WithLabelValues(string(o.Status), string(o.Kind)).Inc()
}

func (m *Metrics) batchFinished(r *Report) {
	if m == nil {
		return
	}

	m.batches.WithLabelValues(batchResult(r)).Inc()
}

func (m *Metrics) serialFallback() {
	if m == nil {
		return
	}

	m.fallbacks.Inc()
}

// batchResult names how a batch ended, for metrics and history.
func batchResult(r *Report) string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.TimedOut:
		return "timed_out"
	case r.Cancelled:
		return "cancelled"
	case r.FailureCount > 0:
		return "completed_with_failures"
	default:
		return "completed"
	}
}

// Result names how the batch ended.
func (r *Report) Result() string {
	return batchResult(r)
}

package batch

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.itemStarted()
	m.itemFinished(&Outcome{Status: StatusSucceeded, Duration: 10 * time.Millisecond})
	m.itemStarted()
	m.itemAbandoned(&Outcome{Status: StatusFailed, Kind: KindTimedOut}, true)
	m.batchFinished(&Report{TimedOut: true})
	m.serialFallback()

	assert.InDelta(t, 1, metricValue(t, m.items.WithLabelValues("succeeded", "")), 0)
	assert.InDelta(t, 1, metricValue(t, m.items.WithLabelValues("failed", "timed_out")), 0)
	assert.InDelta(t, 0, metricValue(t, m.inflight), 0)
	assert.InDelta(t, 1, metricValue(t, m.batches.WithLabelValues("timed_out")), 0)
	assert.InDelta(t, 1, metricValue(t, m.fallbacks), 0)
}

func TestMetrics_RegisterTwiceReuses(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	first, err := NewMetrics(reg)
	require.NoError(t, err)

	second, err := NewMetrics(reg)
	require.NoError(t, err)

	second.serialFallback()
	assert.InDelta(t, 1, metricValue(t, first.fallbacks), 0)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics

	assert.NotPanics(t, func() {
		m.itemStarted()
		m.itemFinished(&Outcome{})
		m.itemAbandoned(&Outcome{}, true)
		m.batchFinished(&Report{})
		m.serialFallback()
	})
}

func TestReport_Result(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "aborted", (&Report{Aborted: true, Cancelled: true}).Result())
	assert.Equal(t, "timed_out", (&Report{TimedOut: true, FailureCount: 1}).Result())
	assert.Equal(t, "cancelled", (&Report{Cancelled: true}).Result())
	assert.Equal(t, "completed_with_failures", (&Report{FailureCount: 2}).Result())
	assert.Equal(t, "completed", (&Report{}).Result())
}

// metricValue reads the current value of a single counter or gauge.
func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()

	var pb dto.Metric
	require.NoError(t, m.Write(&pb))

	if pb.Counter != nil {
		return pb.GetCounter().GetValue()
	}

	return pb.GetGauge().GetValue()
}

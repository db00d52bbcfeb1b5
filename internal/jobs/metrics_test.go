package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("consistency_sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("consistency_sweep").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("consistency_sweep", "success")))
	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("consistency_sweep", "failure")))
	require.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("consistency_sweep")))
}

func TestAddFindingsIgnoresEmpty(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AddFindings("order_without_invoice", 0)
	m.AddFindings("order_without_invoice", 2)
	m.AddRepairs("applied", 1)

	require.Equal(t, 2.0, counterValue(t, m.findings.WithLabelValues("order_without_invoice")))
	require.Equal(t, 1.0, counterValue(t, m.repairs.WithLabelValues("applied")))

	var nilMetrics *Metrics
	nilMetrics.AddFindings("x", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

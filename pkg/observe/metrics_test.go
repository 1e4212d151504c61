package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	require.NotNil(t, m)
	assert.NotNil(t, m.TurnDuration)
	assert.NotNil(t, m.TurnsCommitted)
	assert.NotNil(t, m.InterruptsFired)
	assert.NotNil(t, m.ActiveSessions)
	assert.NotNil(t, m.HTTPRequestDuration)
}

func TestRecordTurnEmitsCounterAndHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "opening", "pro", 2.5)
	m.RecordTurn(ctx, "opening", "con", 3.5)

	rm := collect(t, reader)

	counter := findMetric(rm, "parley.turns.committed")
	require.NotNil(t, counter)
	sum, ok := counter.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	hist := findMetric(rm, "parley.turn.duration")
	require.NotNil(t, hist)
	hd, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hd.DataPoints, 1) // both records share the "opening" phase attribute
	assert.Equal(t, uint64(2), hd.DataPoints[0].Count)
}

func TestUpDownCounterTracksActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	gauge := findMetric(rm, "parley.active_sessions")
	require.NotNil(t, gauge)
	sum, ok := gauge.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

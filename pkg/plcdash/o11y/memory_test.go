package o11y

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMetrics()

	t.Run("counters accumulate and are shared by name", func(t *testing.T) {
		m.Counter("events_total").Add(ctx, 2)
		m.Counter("events_total").Add(ctx, 3, Label{Key: "event", Value: "x"})

		assert.Equal(t, int64(5), m.CounterValue("events_total"))
		assert.Equal(t, int64(0), m.CounterValue("unknown_total"))
	})

	t.Run("concurrent adds", func(t *testing.T) {
		counter := m.Counter("concurrent_total")
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				counter.Add(ctx, 1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(50), m.CounterValue("concurrent_total"))
	})

	t.Run("histograms record values", func(t *testing.T) {
		m.Histogram("latency").Record(ctx, 0.5)
		m.Histogram("latency").Record(ctx, 1.5)

		assert.Equal(t, []float64{0.5, 1.5}, m.HistogramValues("latency"))
		assert.Nil(t, m.HistogramValues("missing"))
	})

	t.Run("gauges keep the last value", func(t *testing.T) {
		m.Gauge("connected").Set(ctx, 1)
		m.Gauge("connected").Set(ctx, 0)

		assert.Equal(t, 0.0, m.GaugeValue("connected"))
	})

	t.Run("snapshot lists counters", func(t *testing.T) {
		snap := m.Snapshot()
		assert.Equal(t, int64(5), snap["events_total"])
		assert.Contains(t, snap, "concurrent_total")
	})
}

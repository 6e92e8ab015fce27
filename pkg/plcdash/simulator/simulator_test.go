package simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"go.uber.org/zap/zaptest"
)

// zeroSource makes every draw the lowest possible value.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

type fakeDashboard struct {
	srv *httptest.Server

	mu            sync.Mutex
	status        int
	readings      []Reading
	registrations []Registration
	contentTypes  []string
}

func newFakeDashboard(t *testing.T) *fakeDashboard {
	t.Helper()

	d := &fakeDashboard{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		var reading Reading
		if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		d.contentTypes = append(d.contentTypes, r.Header.Get("Content-Type"))
		if d.status != http.StatusOK {
			http.Error(w, "database unavailable", d.status)
			return
		}
		d.readings = append(d.readings, reading)
	})
	mux.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		var registration Registration
		if err := json.NewDecoder(r.Body).Decode(&registration); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		d.registrations = append(d.registrations, registration)
	})

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDashboard) setStatus(status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

func (d *fakeDashboard) Readings() []Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Reading(nil), d.readings...)
}

func TestGenerator(t *testing.T) {
	t.Run("values stay within their ranges", func(t *testing.T) {
		g := NewGenerator("DEMO_001", rand.NewSource(42))

		previous := 0
		for i := 0; i < 1000; i++ {
			r := g.Next()
			assert.Equal(t, "DEMO_001", r.EquipmentID)
			assert.InDelta(t, 12.5, r.Current, 2.0+1e-9)
			assert.InDelta(t, 25.0, r.Temperature, 5.0+1e-9)
			assert.InDelta(t, 0.8, r.Pressure, 0.2+1e-9)
			assert.InDelta(t, 15.0, r.CycleTime, 3.0+1e-9)
			if r.ErrorCode != 0 {
				assert.Contains(t, ErrorCodes, r.ErrorCode)
			}
			assert.GreaterOrEqual(t, r.ProductionCount, previous)
			previous = r.ProductionCount
		}
		assert.Equal(t, previous, g.ProductionCount())
	})

	t.Run("rounding", func(t *testing.T) {
		g := NewGenerator("DEMO_001", rand.NewSource(7))
		for i := 0; i < 100; i++ {
			r := g.Next()
			assert.InDelta(t, round(r.Current, 2), r.Current, 1e-12)
			assert.InDelta(t, round(r.Temperature, 1), r.Temperature, 1e-12)
			assert.InDelta(t, round(r.Pressure, 3), r.Pressure, 1e-12)
			assert.InDelta(t, round(r.CycleTime, 1), r.CycleTime, 1e-12)
		}
	})

	t.Run("low draws raise an error and count production", func(t *testing.T) {
		g := NewGenerator("DEMO_002", zeroSource{})
		g.now = func() time.Time { return time.Date(2025, 5, 15, 10, 4, 5, 123456000, time.FixedZone("JST", 9*3600)) }

		r := g.Next()
		assert.Equal(t, Reading{
			EquipmentID:     "DEMO_002",
			Timestamp:       "2025-05-15T01:04:05.123456Z",
			ProductionCount: 1,
			Current:         10.5,
			Temperature:     20.0,
			Pressure:        0.6,
			CycleTime:       12.0,
			ErrorCode:       101,
		}, r)

		assert.Equal(t, 2, g.Next().ProductionCount)
	})

	t.Run("same seed same readings", func(t *testing.T) {
		fixed := func() time.Time { return time.Unix(0, 0) }
		a := NewGenerator("A", rand.NewSource(1))
		b := NewGenerator("A", rand.NewSource(1))
		a.now, b.now = fixed, fixed

		for i := 0; i < 10; i++ {
			assert.Equal(t, a.Next(), b.Next())
		}
	})
}

func TestSenderBuilder(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := NewSender().Build()
		require.NoError(t, err)
		assert.Equal(t, DefaultEquipmentID, s.EquipmentID())
		assert.Equal(t, "http://localhost:5000", s.baseURL)
		assert.Equal(t, 2*time.Second, s.Interval())
	})

	t.Run("from a simulator block", func(t *testing.T) {
		s, err := NewSender().WithDefinition(&config.SimulatorDefinition{
			EquipmentID: "LINE_A",
			ServerURL:   "http://plc.local:5000/",
			Schedule:    "*/5 * * * * *",
		}).Build()
		require.NoError(t, err)
		assert.Equal(t, "LINE_A", s.EquipmentID())
		assert.Equal(t, "http://plc.local:5000", s.baseURL)
		assert.Zero(t, s.Interval())
	})

	t.Run("invalid settings", func(t *testing.T) {
		_, err := NewSender().WithServerURL("ftp://plc").Build()
		assert.Error(t, err)

		_, err = NewSender().WithSchedule("whenever").Build()
		assert.Error(t, err)
	})
}

func TestSendOnce(t *testing.T) {
	dashboard := newFakeDashboard(t)
	metrics := o11y.NewMemoryMetrics()

	s, err := NewSender().
		WithServerURL(dashboard.srv.URL).
		WithEquipmentID("DEMO_001").
		WithRandSource(rand.NewSource(3)).
		WithLogger(zaptest.NewLogger(t)).
		WithMetrics(metrics).
		Build()
	require.NoError(t, err)

	reading, err := s.SendOnce(context.Background())
	require.NoError(t, err)

	readings := dashboard.Readings()
	require.Len(t, readings, 1)
	assert.Equal(t, reading, readings[0])
	dashboard.mu.Lock()
	assert.Equal(t, []string{"application/json"}, dashboard.contentTypes)
	dashboard.mu.Unlock()
	assert.Equal(t, 1, s.Sent())
	assert.Equal(t, int64(1), metrics.CounterValue("simulator_readings_sent_total"))
	assert.Len(t, metrics.HistogramValues("simulator_send_seconds"), 1)

	dashboard.setStatus(http.StatusInternalServerError)
	_, err = s.SendOnce(context.Background())
	require.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorContains(t, err, "500")
	assert.ErrorContains(t, err, "database unavailable")
	assert.Equal(t, 1, s.Sent())
	assert.Equal(t, int64(1), metrics.CounterValue("simulator_send_failures_total"))
}

func TestRegister(t *testing.T) {
	dashboard := newFakeDashboard(t)

	s, err := NewSender().WithServerURL(dashboard.srv.URL).WithEquipmentID("DEMO_009").Build()
	require.NoError(t, err)
	require.NoError(t, s.Register(context.Background()))

	dashboard.mu.Lock()
	defer dashboard.mu.Unlock()
	require.Len(t, dashboard.registrations, 1)

	registration := dashboard.registrations[0]
	assert.Equal(t, "DEMO_009", registration.EquipmentID)
	assert.Equal(t, "DEMO-PLC", registration.Series)
	assert.Equal(t, 502, registration.Port)
	assert.Equal(t, 2, registration.Interval)
}

func TestScheduledSending(t *testing.T) {
	dashboard := newFakeDashboard(t)

	s, err := NewSender().
		WithServerURL(dashboard.srv.URL).
		WithSchedule("@every 1s").
		WithMaxSends(2).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop after its send limit")
	}
	s.Stop()
	s.Stop()

	assert.Len(t, dashboard.Readings(), 2)
	assert.Equal(t, 2, s.Sent())
}

func TestStopWithoutStart(t *testing.T) {
	s, err := NewSender().Build()
	require.NoError(t, err)

	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestCancelStopsSender(t *testing.T) {
	dashboard := newFakeDashboard(t)

	s, err := NewSender().WithServerURL(dashboard.srv.URL).WithSchedule("@every 1h").Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("sender did not stop on cancel")
	}
	s.Stop()
	assert.Empty(t, dashboard.Readings())
}

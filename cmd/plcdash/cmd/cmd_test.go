package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"github.com/tsarna/plcdash/pkg/plcdash/transform"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		debug   bool
		want    zapcore.Level
	}{
		{"info", false, false, zapcore.InfoLevel},
		{"info", true, false, zapcore.DebugLevel},
		{"warn", true, false, zapcore.WarnLevel},
		{"error", false, true, zapcore.DebugLevel},
		{"WARNING", false, false, zapcore.WarnLevel},
		{"loud", false, false, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		logger, err := newLogger(tt.level, tt.verbose, tt.debug)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(tt.want), tt.level)
		assert.False(t, logger.Core().Enabled(tt.want-1), tt.level)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PLCDASH_LOG_LEVEL", "debug")
	t.Setenv("PLCDASH_CONTEXT", "server")

	e := loadEnv()
	assert.Equal(t, "debug", e.LogLevel)
	assert.Equal(t, "server", e.Context)
}

func TestEventArgs(t *testing.T) {
	assert.Nil(t, eventArgs(""))
	assert.Equal(t, []any{"DEMO_001"}, eventArgs(`"DEMO_001"`))
	assert.Equal(t, []any{map[string]any{"equipment_id": "DEMO_001"}}, eventArgs(`{"equipment_id":"DEMO_001"}`))
	assert.Equal(t, []any{"not json"}, eventArgs("not json"))
}

func TestEventPrinter(t *testing.T) {
	runEvents = []string{"plc_data"}
	runFilter = "select(.error_code != 0) | {equipment_id, error_code}"
	runChanges = false
	t.Cleanup(func() { runEvents, runFilter = nil, "" })

	transforms, err := eventTransforms(zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	printer := &eventPrinter{out: &out, logger: zap.NewNop(), transforms: transforms}
	ctx := context.Background()

	printer.handle(ctx, "connect", nil)
	printer.handle(ctx, "status", []any{"ok"})
	printer.handle(ctx, "plc_data", []any{map[string]any{"equipment_id": "A", "error_code": 0.0}})
	printer.handle(ctx, "plc_data", []any{map[string]any{"equipment_id": "B", "error_code": 101.0}})

	assert.Equal(t, "plc_data\t{\"equipment_id\":\"B\",\"error_code\":101}\n", out.String())
}

func TestEventTransformsRejectsBadFilter(t *testing.T) {
	runFilter = ".["
	t.Cleanup(func() { runFilter = "" })

	_, err := eventTransforms(zap.NewNop())
	assert.Error(t, err)
}

func TestFormatEvent(t *testing.T) {
	line, err := formatEvent(&transform.Event{Name: "plc_data", Payload: []any{1.0, "x"}})
	require.NoError(t, err)
	assert.Equal(t, "plc_data\t[1,\"x\"]", line)

	_, err = formatEvent(&transform.Event{Name: "bad", Payload: make(chan int)})
	assert.Error(t, err)
}

func TestPrintStats(t *testing.T) {
	stats := o11y.NewMemoryMetrics()
	stats.Counter("socketio_events_received_total").Add(context.Background(), 3)
	stats.Counter("socketio_connects_total").Add(context.Background(), 1)

	var out bytes.Buffer
	printStats(&out, stats)
	assert.Equal(t, "socketio_connects_total\t1\nsocketio_events_received_total\t3\n", out.String())
}

func TestSelectSimulators(t *testing.T) {
	defs := []*config.SimulatorDefinition{{EquipmentID: "A"}, {EquipmentID: "B"}, {EquipmentID: "C"}}

	assert.Len(t, selectSimulators(defs, nil), 3)

	selected := selectSimulators(defs, []string{"C", "A", "Z"})
	require.Len(t, selected, 2)
	assert.Equal(t, "A", selected[0].EquipmentID)
	assert.Equal(t, "C", selected[1].EquipmentID)
}

package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestJqTransform(t *testing.T) {
	run := func(t *testing.T, query string, ev *Event) (*Event, bool) {
		t.Helper()
		transform, err := JqTransform(query, nil)
		require.NoError(t, err)
		return transform(ev)
	}

	t.Run("field extraction", func(t *testing.T) {
		result, cont := run(t, ".equipment_id", &Event{Name: "plc_data", Payload: reading("DEMO_001")})
		assert.True(t, cont)
		require.NotNil(t, result)
		assert.Equal(t, "plc_data", result.Name)
		assert.Equal(t, "DEMO_001", result.Payload)
	})

	t.Run("missing field is null", func(t *testing.T) {
		result, _ := run(t, ".nope", &Event{Name: "plc_data", Payload: reading("DEMO_001")})
		require.NotNil(t, result)
		assert.Nil(t, result.Payload)
	})

	t.Run("select drops non-matching events", func(t *testing.T) {
		result, cont := run(t, "select(.error_code != 0)", &Event{Name: "plc_data", Payload: map[string]any{"error_code": 0}})
		assert.Nil(t, result)
		assert.False(t, cont)
	})

	t.Run("event name variable", func(t *testing.T) {
		result, _ := run(t, "{event: $event, id: .equipment_id}", &Event{Name: "plc_data", Payload: reading("DEMO_002")})
		require.NotNil(t, result)
		assert.Equal(t, map[string]any{"event": "plc_data", "id": "DEMO_002"}, result.Payload)
	})

	t.Run("several results become an array", func(t *testing.T) {
		result, _ := run(t, ".[]", &Event{Name: "codes", Payload: []any{101, 202}})
		require.NotNil(t, result)
		assert.Equal(t, []any{101, 202}, result.Payload)
	})

	t.Run("JSON text payloads are parsed", func(t *testing.T) {
		result, _ := run(t, ".current", &Event{Name: "plc_data", Payload: `{"current": 12.5}`})
		require.NotNil(t, result)
		assert.Equal(t, 12.5, result.Payload)

		result, _ = run(t, ".current", &Event{Name: "plc_data", Payload: []byte(`{"current": 11.5}`)})
		require.NotNil(t, result)
		assert.Equal(t, 11.5, result.Payload)

		result, _ = run(t, ".current", &Event{Name: "plc_data", Payload: json.RawMessage(`{"current": 10.5}`)})
		require.NotNil(t, result)
		assert.Equal(t, 10.5, result.Payload)
	})

	t.Run("plain string payload", func(t *testing.T) {
		result, _ := run(t, "ascii_upcase", &Event{Name: "status", Payload: "running"})
		require.NotNil(t, result)
		assert.Equal(t, "RUNNING", result.Payload)
	})

	t.Run("cty payload", func(t *testing.T) {
		result, _ := run(t, ".line", &Event{Name: "status", Payload: cty.ObjectVal(map[string]cty.Value{
			"line": cty.StringVal("A"),
		})})
		require.NotNil(t, result)
		assert.Equal(t, "A", result.Payload)
	})

	t.Run("struct payload", func(t *testing.T) {
		type plcReading struct {
			EquipmentID string  `json:"equipment_id"`
			Temperature float64 `json:"temperature"`
		}

		result, _ := run(t, ".temperature", &Event{Name: "plc_data", Payload: &plcReading{EquipmentID: "A", Temperature: 25.5}})
		require.NotNil(t, result)
		assert.Equal(t, 25.5, result.Payload)

		result, _ = run(t, "map(.equipment_id)", &Event{Name: "plc_data", Payload: []plcReading{{EquipmentID: "A"}, {EquipmentID: "B"}}})
		require.NotNil(t, result)
		assert.Equal(t, []any{"A", "B"}, result.Payload)
	})

	t.Run("keeps context", func(t *testing.T) {
		type ctxKey struct{}
		ctx := context.WithValue(context.Background(), ctxKey{}, "x")
		result, _ := run(t, ".", &Event{Ctx: ctx, Name: "plc_data", Payload: 1})
		require.NotNil(t, result)
		assert.Equal(t, ctx, result.Ctx)
	})

	t.Run("invalid query", func(t *testing.T) {
		_, err := JqTransform(".[", nil)
		assert.Error(t, err)

		_, err = JqTransform("$undefined", nil)
		assert.Error(t, err)
	})

	t.Run("runtime error passes through and logs", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		transform, err := JqTransform(".current + \"x\"", zap.New(core))
		require.NoError(t, err)

		ev := &Event{Name: "plc_data", Payload: reading("DEMO_001")}
		result, cont := transform(ev)
		assert.Same(t, ev, result)
		assert.True(t, cont)
		assert.Equal(t, 1, logs.FilterMessage("jq transform: execution error").Len())
	})
}

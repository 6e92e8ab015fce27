package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/itchyny/gojq"
	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

// JqTransform compiles a jq query and returns a transform that replaces each
// event's payload with the query's output. The query can read the event
// name as $event:
//
//	JqTransform(`select(.error_code != 0) | {equipment_id, error_code, event: $event}`, logger)
//
// A query producing several results yields them as an array. A query
// producing no result drops the event, which makes select() a filter.
// When the payload cannot be converted or the query fails at run time the
// error is logged and the event passes through unchanged.
//
// Payloads may be anything encoding/json produces, JSON text as a string
// or []byte, a cty.Value, or structs (converted through JSON).
func JqTransform(jqQuery string, logger *zap.Logger) (EventTransformFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq query '%s': %w", jqQuery, err)
	}

	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$event"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq query '%s': %w", jqQuery, err)
	}

	return func(ev *Event) (*Event, bool) {
		input, err := jqInput(ev.Payload)
		if err != nil {
			logger.Error("jq transform: unable to convert payload",
				zap.String("jq_query", jqQuery),
				zap.String("event", ev.Name),
				zap.String("payload_type", fmt.Sprintf("%T", ev.Payload)),
				zap.Error(err))
			return ev, true
		}

		ctx := ev.Ctx
		if ctx == nil {
			ctx = context.Background()
		}

		var results []any
		iter := code.RunWithContext(ctx, input, ev.Name)
		for {
			result, ok := iter.Next()
			if !ok {
				break
			}
			if execErr, isErr := result.(error); isErr {
				logger.Error("jq transform: execution error",
					zap.String("jq_query", jqQuery),
					zap.String("event", ev.Name),
					zap.Error(execErr))
				return ev, true
			}
			results = append(results, result)
		}

		var payload any
		switch len(results) {
		case 0:
			return nil, false
		case 1:
			payload = results[0]
		default:
			payload = results
		}

		return &Event{Ctx: ev.Ctx, Name: ev.Name, Payload: payload}, true
	}, nil
}

func jqInput(payload any) (any, error) {
	switch p := payload.(type) {
	case string:
		var v any
		if err := json.Unmarshal([]byte(p), &v); err != nil {
			return p, nil
		}
		return v, nil
	case []byte:
		var v any
		if err := json.Unmarshal(p, &v); err != nil {
			return string(p), nil
		}
		return v, nil
	case json.RawMessage:
		var v any
		err := json.Unmarshal(p, &v)
		return v, err
	case cty.Value:
		return go2cty2go.CtyToAny(p)
	}

	if isStruct(payload) || containsStructs(payload) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		var v any
		err = json.Unmarshal(data, &v)
		return v, err
	}

	return payload, nil
}

func isStruct(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	return t.Kind() == reflect.Struct || (t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct)
}

func containsStructs(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}
	elem := t.Elem()
	return elem.Kind() == reflect.Struct || (elem.Kind() == reflect.Ptr && elem.Elem().Kind() == reflect.Struct)
}

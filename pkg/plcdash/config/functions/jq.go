package functions

import (
	"fmt"
	"math/big"

	"github.com/itchyny/gojq"
	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// JqFunc runs a jq query over a value: jq(".readings[0].current", value).
// A query producing a single result returns it; several results are
// returned as a tuple; no result returns null.
var JqFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "query", Type: cty.String},
		{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true},
	},
	Type: function.StaticReturnType(cty.DynamicPseudoType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		query, err := gojq.Parse(args[0].AsString())
		if err != nil {
			return cty.DynamicVal, fmt.Errorf("invalid jq query: %w", err)
		}

		var input any
		if !args[1].IsNull() {
			input, err = go2cty2go.CtyToAny(args[1])
			if err != nil {
				return cty.DynamicVal, fmt.Errorf("unable to convert value: %w", err)
			}
		}

		var results []any
		iter := query.Run(normalizeJqInput(input))
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return cty.DynamicVal, fmt.Errorf("jq: %w", err)
			}
			results = append(results, v)
		}

		switch len(results) {
		case 0:
			return cty.NullVal(cty.DynamicPseudoType), nil
		case 1:
			return go2cty2go.AnyToCty(results[0])
		default:
			return go2cty2go.AnyToCty(results)
		}
	},
})

// gojq only accepts the types encoding/json produces.
func normalizeJqInput(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeJqInput(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeJqInput(e)
		}
		return out
	case int64:
		return int(t)
	case int32:
		return int(t)
	case float32:
		return float64(t)
	case *big.Float:
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}

package functions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// TypeOfFunc names the type of a value, e.g. typeof(env.PLC_PORT) is
// "string". A null value reports "null" rather than its declared type.
var TypeOfFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		if args[0].IsNull() {
			return cty.StringVal("null"), nil
		}
		return cty.StringVal(args[0].Type().FriendlyName()), nil
	},
})

// ErrorFunc stops configuration loading with message, typically from a
// conditional:
//
//	server_url = env.PLC_HOST != "" ? "http://${env.PLC_HOST}:5000" : error("PLC_HOST is not set")
var ErrorFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "message", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.DynamicPseudoType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.DynamicVal, errors.New(args[0].AsString())
	},
})

// DurationFunc converts an ISO-8601 ("PT1M30S") or Go ("90s") duration
// string to a number of seconds, the unit dial_timeout and friends take.
var DurationFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "duration", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		d, err := ParseDurationString(args[0].AsString())
		if err != nil {
			return cty.UnknownVal(cty.Number), function.NewArgError(0, err)
		}
		return cty.NumberFloatVal(d.Seconds()), nil
	},
})

// ParseDurationString parses a non-negative duration written either in
// ISO-8601 form (anything starting with "P") or for time.ParseDuration.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	var d time.Duration
	if strings.HasPrefix(s, "P") {
		iso, err := duration.Parse(s)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		d = iso.ToTimeDuration()
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("invalid duration %q: expected an ISO-8601 duration (PT5M) or a Go duration (5m)", s)
		}
	}

	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return d, nil
}

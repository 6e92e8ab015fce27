package config

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/plcdash/pkg/plcdash/config/functions"
	"github.com/zclconf/go-cty/cty"
)

// IsExpressionProvided reports whether an optional attribute was actually
// written. gohcl fills missing optional hcl.Expression fields with empty
// expressions whose range has zero length.
func IsExpressionProvided(expr hcl.Expression) bool {
	return expr != nil && expr.Range().End.Byte > expr.Range().Start.Byte
}

var errNegativeDuration = errors.New("duration must be positive")

// ParseDuration converts a value to a duration. Numbers are seconds,
// strings starting with "P" are ISO 8601 durations, and any other string
// is parsed with time.ParseDuration.
func ParseDuration(val cty.Value) (time.Duration, error) {
	if val.IsNull() || !val.IsKnown() {
		return 0, errors.New("duration must not be null")
	}

	var d time.Duration

	switch val.Type() {
	case cty.Number:
		seconds, _ := val.AsBigFloat().Float64()
		d = time.Duration(seconds * float64(time.Second))

	case cty.String:
		parsed, err := functions.ParseDurationString(val.AsString())
		if err != nil {
			return 0, err
		}
		d = parsed

	default:
		return 0, fmt.Errorf("duration must be a number of seconds or a string, got %s", val.Type().FriendlyName())
	}

	if d < 0 {
		return 0, errNegativeDuration
	}
	return d, nil
}

// ParseDuration evaluates expr in the configuration context and converts
// the result with ParseDuration.
func (c *Config) ParseDuration(expr hcl.Expression) (time.Duration, hcl.Diagnostics) {
	val, diags := expr.Value(c.evalCtx)
	if diags.HasErrors() {
		return 0, diags
	}

	if val.Type() == cty.Number {
		if _, accuracy := val.AsBigFloat().Float64(); accuracy != big.Exact {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Duration precision loss",
				Detail:   "The number of seconds can't be represented exactly",
				Subject:  expr.Range().Ptr(),
			})
		}
	}

	d, err := ParseDuration(val)
	if err != nil {
		return 0, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration",
			Detail:   err.Error(),
			Subject:  expr.Range().Ptr(),
		})
	}
	return d, diags
}

// IsConstantExpression returns the value of expr if it can be evaluated
// without any variables or functions.
func IsConstantExpression(expr hcl.Expression) (cty.Value, bool) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, false
	}
	return val, true
}

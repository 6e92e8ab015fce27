package functions

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/userfunc"
	"github.com/zclconf/go-cty/cty/function"
)

// ExtractUserFunctions decodes the function blocks of every body and
// returns the functions plus the bodies with those blocks removed.
// getEvalCtx is called each time a user function runs.
func ExtractUserFunctions(bodies []hcl.Body, getEvalCtx func() *hcl.EvalContext) (map[string]function.Function, []hcl.Body, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	remaining := make([]hcl.Body, 0, len(bodies))
	all := make(map[string]function.Function)

	for _, body := range bodies {
		funcs, rest, funcDiags := userfunc.DecodeUserFunctions(body, "function", getEvalCtx)
		diags = diags.Extend(funcDiags)
		if funcDiags.HasErrors() {
			continue
		}

		remaining = append(remaining, rest)

		for name, fn := range funcs {
			if _, exists := all[name]; exists {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate function",
					Detail:   fmt.Sprintf("Function %s is already defined", name),
				})
				continue
			}
			all[name] = fn
		}
	}

	if diags.HasErrors() {
		return nil, nil, diags
	}
	return all, remaining, diags
}

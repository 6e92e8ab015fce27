package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"go.uber.org/zap"
)

// AssertDefinition checks a condition while the configuration is built.
// Mostly useful for tests and for guarding environment assumptions.
type AssertDefinition struct {
	Name      string `hcl:"name,label"`
	Condition bool   `hcl:"condition"`
	Message   string `hcl:"message,optional"`
}

type AssertBlockHandler struct {
	BlockHandlerBase
}

func NewAssertBlockHandler() *AssertBlockHandler {
	return &AssertBlockHandler{}
}

func (h *AssertBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	assertion := AssertDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &assertion)
	if diags.HasErrors() {
		return diags
	}
	assertion.Name = block.Labels[0]

	if assertion.Condition {
		return diags
	}

	detail := fmt.Sprintf("Assertion %s failed", assertion.Name)
	if assertion.Message != "" {
		detail += ": " + assertion.Message
	}
	config.Logger.Error("Assertion failed", zap.String("assert", assertion.Name), zap.Stringer("location", block.DefRange))

	return diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Assertion failed",
		Detail:   detail,
		Subject:  &block.DefRange,
	})
}

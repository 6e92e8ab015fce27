package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/plcdash/pkg/plcdash/config/functions"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
}

// Config is the result of evaluating every configuration source.
type Config struct {
	Logger    *zap.Logger
	Functions map[string]function.Function
	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext

	App        AppSettings
	Socket     SocketSettings
	Simulators []*SimulatorDefinition
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	cb.logger = logger
	return cb
}

func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// Build parses and evaluates the sources. Configuration with no app block
// yields the default settings.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	logger := cb.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	config := &Config{
		Logger:    logger,
		Constants: make(map[string]cty.Value),
		App:       DefaultAppSettings(),
		Socket:    DefaultSocketSettings(),
	}

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	userFuncs, remaining, addDiags := config.ExtractUserFunctions(bodies)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Functions, addDiags = config.GetFunctions(userFuncs)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	blocks, addDiags := cb.getBlocks(remaining)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Constants["env"] = GetEnvObject()

	config.evalCtx = &hcl.EvalContext{
		Functions: config.Functions,
		Variables: config.Constants,
	}

	blockHandlers := GetBlockHandlers()
	handlerNames := sortedHandlerNames(blockHandlers)

	for _, block := range blocks {
		if handler, ok := blockHandlers[block.Type]; ok {
			diags = diags.Extend(handler.Preprocess(block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, name := range handlerNames {
		diags = diags.Extend(blockHandlers[name].FinishPreprocessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, block := range blocks {
		if handler, ok := blockHandlers[block.Type]; ok {
			diags = diags.Extend(handler.Process(config, block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, name := range handlerNames {
		diags = diags.Extend(blockHandlers[name].FinishProcessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config.Logger.Info("Config built successfully",
		zap.Strings("plugins", config.App.Plugins),
		zap.Int("simulators", len(config.Simulators)),
	)

	return config, diags
}

// ExtractUserFunctions pulls function blocks out of the bodies. User
// functions see the final evaluation context, constants included.
func (c *Config) ExtractUserFunctions(bodies []hcl.Body) (map[string]function.Function, []hcl.Body, hcl.Diagnostics) {
	return functions.ExtractUserFunctions(bodies, func() *hcl.EvalContext {
		return c.evalCtx
	})
}

// GetFunctions returns the built-in functions plus userFuncs, which may not
// shadow a built-in.
func (c *Config) GetFunctions(userFuncs map[string]function.Function) (map[string]function.Function, hcl.Diagnostics) {
	funcs := functions.GetStandardLibraryFunctions()
	diags := hcl.Diagnostics{}

	for name, fn := range functions.GetLogFunctions(c.Logger) {
		funcs[name] = fn
	}

	funcs["jq"] = functions.JqFunc
	funcs["typeof"] = functions.TypeOfFunc
	funcs["error"] = functions.ErrorFunc
	funcs["duration"] = functions.DurationFunc
	funcs["diff"] = functions.DiffFunc
	funcs["patch"] = functions.PatchFunc

	for name, fn := range userFuncs {
		if _, exists := funcs[name]; exists {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate function",
				Detail:   fmt.Sprintf("Function %s is reserved and can't be overridden", name),
			})
			continue
		}
		funcs[name] = fn
	}

	return funcs, diags
}

// EvalContext returns the context configuration expressions are evaluated in.
func (c *Config) EvalContext() *hcl.EvalContext {
	return c.evalCtx
}

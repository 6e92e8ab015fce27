package cmd

import (
	"fmt"

	"github.com/tsarna/plcdash/pkg/plcdash/app"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"github.com/tsarna/plcdash/pkg/plcdash/otel"
	"github.com/tsarna/plcdash/pkg/plcdash/plugins"
	"go.uber.org/zap"
)

// builtinCatalog is the catalog configured plugin references resolve against.
var builtinCatalog = plugins.Builtin

func loadConfig(logger *zap.Logger, paths []string) (*config.Config, error) {
	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(stringSliceToAnySlice(paths)...).
		Build()

	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return nil, diags
	}

	return cfg, nil
}

// newApp resolves the configured plugins against the built-in catalog and
// builds an app for the execution context. A client-only app (ssr = false)
// cannot be started in the server context. metrics may be nil, in which
// case the OpenTelemetry global providers are used.
func newApp(cfg *config.Config, ec app.ExecutionContext, logger *zap.Logger, metrics o11y.MetricsProvider) (*app.App, error) {
	if !cfg.App.RunsIn(ec) {
		return nil, fmt.Errorf("cannot start in the %s context: %w", ec, config.ErrSSRDisabled)
	}

	resolved, diags := cfg.ResolvePlugins(builtinCatalog(cfg))
	if diags.HasErrors() {
		return nil, diags
	}

	provider := otel.NewProvider("plcdash", version)
	if metrics == nil {
		metrics = provider
	}

	a, err := app.NewApp().
		WithExecutionContext(ec).
		WithLogger(logger).
		WithMetrics(metrics).
		WithTracing(provider).
		WithPlugins(resolved...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build app: %w", err)
	}

	return a, nil
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}

// Package app is the plcdash application runtime: it runs an ordered list of
// startup plugins once, in an explicit execution context, and keeps what
// they provide in a registry owned by the App.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"go.uber.org/zap"
)

var ErrAlreadyStarted = errors.New("app is already started")

// AppBuilder provides a fluent interface for building an App.
type AppBuilder struct {
	execCtx    ExecutionContext
	logger     *zap.Logger
	metrics    o11y.MetricsProvider
	tracing    o11y.TracingProvider
	plugins    []Plugin
	catalog    *Catalog
	pluginRefs []string
}

// NewApp creates a new App builder. The default execution context is Client.
func NewApp() *AppBuilder {
	return &AppBuilder{
		execCtx: Client,
		logger:  zap.NewNop(),
	}
}

func (b *AppBuilder) WithExecutionContext(ec ExecutionContext) *AppBuilder {
	b.execCtx = ec
	return b
}

func (b *AppBuilder) WithLogger(logger *zap.Logger) *AppBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *AppBuilder) WithMetrics(provider o11y.MetricsProvider) *AppBuilder {
	b.metrics = provider
	return b
}

func (b *AppBuilder) WithTracing(provider o11y.TracingProvider) *AppBuilder {
	b.tracing = provider
	return b
}

// WithPlugins appends already constructed plugins.
func (b *AppBuilder) WithPlugins(plugins ...Plugin) *AppBuilder {
	b.plugins = append(b.plugins, plugins...)
	return b
}

// WithCatalog sets the catalog plugin references are resolved against.
func (b *AppBuilder) WithCatalog(catalog *Catalog) *AppBuilder {
	b.catalog = catalog
	return b
}

// WithPluginRefs appends plugin references, as written in configuration.
// They are resolved by Build, after any plugins given to WithPlugins.
func (b *AppBuilder) WithPluginRefs(refs ...string) *AppBuilder {
	b.pluginRefs = append(b.pluginRefs, refs...)
	return b
}

// Build resolves plugin references and creates the App. Every App gets a
// new session id and an empty registry.
func (b *AppBuilder) Build() (*App, error) {
	plugins := append([]Plugin(nil), b.plugins...)

	if len(b.pluginRefs) > 0 {
		if b.catalog == nil {
			return nil, fmt.Errorf("plugin references given without a catalog")
		}
		resolved, err := b.catalog.ResolveAll(b.pluginRefs)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, resolved...)
	}

	names := make(map[string]struct{}, len(plugins))
	for _, p := range plugins {
		if p == nil {
			return nil, fmt.Errorf("nil plugin")
		}
		if _, dup := names[p.Name()]; dup {
			return nil, fmt.Errorf("plugin %s: %w", p.Name(), ErrDuplicatePlugin)
		}
		names[p.Name()] = struct{}{}
	}

	sessionID := uuid.NewString()

	a := &App{
		sessionID: sessionID,
		execCtx:   b.execCtx,
		logger:    b.logger.With(zap.String("session", sessionID), zap.Stringer("context", b.execCtx)),
		metrics:   b.metrics,
		tracing:   b.tracing,
		plugins:   plugins,
		registry:  NewRegistry(),
	}

	if b.metrics != nil {
		a.pluginCounter = b.metrics.Counter("app_plugins_started_total")
		a.setupHistogram = b.metrics.Histogram("app_plugin_setup_seconds")
	}

	return a, nil
}

// App is one application session.
type App struct {
	sessionID string
	execCtx   ExecutionContext
	logger    *zap.Logger
	metrics   o11y.MetricsProvider
	tracing   o11y.TracingProvider
	plugins   []Plugin
	registry  *Registry

	started int32
	closed  int32

	pluginCounter  o11y.Counter
	setupHistogram o11y.Histogram
}

func (a *App) SessionID() string                 { return a.sessionID }
func (a *App) ExecutionContext() ExecutionContext { return a.execCtx }
func (a *App) Logger() *zap.Logger                { return a.logger }
func (a *App) Metrics() o11y.MetricsProvider      { return a.metrics }
func (a *App) Tracing() o11y.TracingProvider      { return a.tracing }
func (a *App) Registry() *Registry                { return a.registry }

// Plugins returns the configured plugins, in run order.
func (a *App) Plugins() []Plugin {
	return append([]Plugin(nil), a.plugins...)
}

// Start runs each plugin whose mode allows the execution context, in
// order, and publishes what it provides. The first failure stops the run.
// Start may only be called once per App.
func (a *App) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&a.started, 0, 1) {
		return ErrAlreadyStarted
	}

	for _, plugin := range a.plugins {
		if !plugin.Mode().Allows(a.execCtx) {
			a.logger.Debug("Skipping plugin", zap.String("plugin", plugin.Name()), zap.Stringer("mode", plugin.Mode()))
			continue
		}

		if err := a.runPlugin(ctx, plugin); err != nil {
			return err
		}
	}

	a.logger.Info("App started", zap.Strings("provides", a.registry.Names()))
	return nil
}

func (a *App) runPlugin(ctx context.Context, plugin Plugin) (err error) {
	name := plugin.Name()
	label := o11y.Label{Key: "plugin", Value: name}

	ctx, span := o11y.StartSpan(ctx, a.tracing, "plugin.setup", label)
	defer func() { o11y.EndSpan(span, err) }()

	start := time.Now()
	provides, err := plugin.Setup(ctx, a)
	o11y.ObserveSince(ctx, a.setupHistogram, start, label)

	if err == nil {
		keys := make([]string, 0, len(provides))
		for key := range provides {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if err = a.registry.Provide(key, provides[key]); err != nil {
				break
			}
		}
	}

	if err != nil {
		a.logger.Error("Plugin setup failed", zap.String("plugin", name), zap.Error(err))
		return fmt.Errorf("plugin %s: %w", name, err)
	}

	o11y.Inc(ctx, a.pluginCounter, label)
	a.logger.Debug("Plugin started", zap.String("plugin", name), zap.Int("provides", len(provides)))

	return nil
}

type disconnecter interface {
	Disconnect() error
}

// Close disconnects every registry value that can be disconnected, newest
// first. It is safe to call more than once.
func (a *App) Close() error {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return nil
	}

	var errs []error
	names := a.registry.provisionOrder()
	for i := len(names) - 1; i >= 0; i-- {
		value, _ := a.registry.Lookup(names[i])
		if d, ok := value.(disconnecter); ok {
			if err := d.Disconnect(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
			}
		}
	}

	return errors.Join(errs...)
}

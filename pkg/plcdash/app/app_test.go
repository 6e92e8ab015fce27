package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"go.uber.org/zap/zaptest"
)

type recordingTracer struct {
	mu    sync.Mutex
	spans []*recordingSpan
}

type recordingSpan struct {
	name   string
	labels []o11y.Label
	status o11y.SpanStatusCode
	ended  bool
}

func (r *recordingTracer) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := &recordingSpan{name: name}
	r.spans = append(r.spans, span)
	return ctx, span
}

func (s *recordingSpan) SetAttributes(labels ...o11y.Label) { s.labels = append(s.labels, labels...) }
func (s *recordingSpan) SetStatus(code o11y.SpanStatusCode, description string) {
	s.status = code
}
func (s *recordingSpan) End() { s.ended = true }

type fakeConn struct {
	mu           sync.Mutex
	disconnected int
	err          error
}

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	return f.err
}

func providing(name string, mode Mode, provides Provides) Plugin {
	return PluginFunc(name, mode, func(ctx context.Context, app *App) (Provides, error) {
		return provides, nil
	})
}

func TestAppStart(t *testing.T) {
	ctx := context.Background()

	t.Run("plugins run in order and skip other contexts", func(t *testing.T) {
		var order []string
		record := func(name string, mode Mode) Plugin {
			return PluginFunc(name, mode, func(ctx context.Context, app *App) (Provides, error) {
				order = append(order, name)
				return Provides{name: true}, nil
			})
		}

		a, err := NewApp().
			WithLogger(zaptest.NewLogger(t)).
			WithExecutionContext(Server).
			WithPlugins(record("first", ModeAll), record("client-only", ModeClient), record("server-only", ModeServer)).
			Build()
		require.NoError(t, err)

		require.NoError(t, a.Start(ctx))
		assert.Equal(t, []string{"first", "server-only"}, order)
		assert.Equal(t, []string{"first", "server-only"}, a.Registry().Names())
	})

	t.Run("second start fails without rerunning plugins", func(t *testing.T) {
		calls := 0
		plugin := PluginFunc("once", ModeAll, func(ctx context.Context, app *App) (Provides, error) {
			calls++
			return Provides{"once": calls}, nil
		})

		a, err := NewApp().WithPlugins(plugin).Build()
		require.NoError(t, err)

		require.NoError(t, a.Start(ctx))
		assert.ErrorIs(t, a.Start(ctx), ErrAlreadyStarted)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, a.Registry().Len())
	})

	t.Run("setup error aborts start", func(t *testing.T) {
		boom := errors.New("boom")
		tracer := &recordingTracer{}

		a, err := NewApp().
			WithTracing(tracer).
			WithPlugins(
				PluginFunc("broken", ModeAll, func(ctx context.Context, app *App) (Provides, error) {
					return nil, boom
				}),
				providing("never", ModeAll, Provides{"never": 1}),
			).
			Build()
		require.NoError(t, err)

		err = a.Start(ctx)
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "plugin broken")
		_, ok := a.Registry().Lookup("never")
		assert.False(t, ok)

		require.Len(t, tracer.spans, 1)
		assert.Equal(t, o11y.SpanStatusError, tracer.spans[0].status)
		assert.True(t, tracer.spans[0].ended)
	})

	t.Run("registry collision is reported", func(t *testing.T) {
		a, err := NewApp().
			WithPlugins(
				providing("one", ModeAll, Provides{"socket": 1}),
				providing("two", ModeAll, Provides{"socket": 2}),
			).
			Build()
		require.NoError(t, err)

		err = a.Start(ctx)
		assert.ErrorIs(t, err, ErrDuplicateName)
		assert.ErrorContains(t, err, "plugin two")
	})

	t.Run("spans and metrics per plugin", func(t *testing.T) {
		tracer := &recordingTracer{}
		metrics := o11y.NewMemoryMetrics()

		a, err := NewApp().
			WithTracing(tracer).
			WithMetrics(metrics).
			WithPlugins(providing("a", ModeAll, nil), providing("b", ModeAll, nil)).
			Build()
		require.NoError(t, err)
		require.NoError(t, a.Start(ctx))

		require.Len(t, tracer.spans, 2)
		for _, span := range tracer.spans {
			assert.Equal(t, "plugin.setup", span.name)
			assert.Equal(t, o11y.SpanStatusOK, span.status)
			assert.True(t, span.ended)
		}
		assert.Equal(t, []o11y.Label{{Key: "plugin", Value: "b"}}, tracer.spans[1].labels)
		assert.Equal(t, int64(2), metrics.CounterValue("app_plugins_started_total"))
		assert.Len(t, metrics.HistogramValues("app_plugin_setup_seconds"), 2)
	})
}

func TestAppBuild(t *testing.T) {
	catalog := NewCatalog().
		Register("logger", func() Plugin { return providing("logger", ModeAll, nil) })

	t.Run("each app has its own session and registry", func(t *testing.T) {
		a, err := NewApp().Build()
		require.NoError(t, err)
		b, err := NewApp().Build()
		require.NoError(t, err)

		assert.NotEmpty(t, a.SessionID())
		assert.NotEqual(t, a.SessionID(), b.SessionID())
		assert.NotSame(t, a.Registry(), b.Registry())
		assert.Equal(t, Client, a.ExecutionContext())
	})

	t.Run("references resolve after explicit plugins", func(t *testing.T) {
		a, err := NewApp().
			WithPlugins(providing("first", ModeAll, nil)).
			WithCatalog(catalog).
			WithPluginRefs("plugins/logger").
			Build()
		require.NoError(t, err)

		plugins := a.Plugins()
		require.Len(t, plugins, 2)
		assert.Equal(t, "first", plugins[0].Name())
		assert.Equal(t, "logger", plugins[1].Name())
	})

	t.Run("unknown reference fails build", func(t *testing.T) {
		_, err := NewApp().WithCatalog(catalog).WithPluginRefs("pinia").Build()
		assert.ErrorContains(t, err, "unknown plugin")
	})

	t.Run("references need a catalog", func(t *testing.T) {
		_, err := NewApp().WithPluginRefs("logger").Build()
		assert.Error(t, err)
	})

	t.Run("a plugin listed twice fails build before any setup", func(t *testing.T) {
		var setups int
		counting := NewCatalog().Register("socket.io.client", func() Plugin {
			return PluginFunc("socket.io.client", ModeClient, func(ctx context.Context, app *App) (Provides, error) {
				setups++
				return Provides{"socket": setups}, nil
			})
		})

		_, err := NewApp().
			WithCatalog(counting).
			WithPluginRefs("socket.io.client", "~/plugins/socket.io.client.ts").
			Build()
		assert.ErrorIs(t, err, ErrDuplicatePlugin)
		assert.Zero(t, setups)

		_, err = NewApp().
			WithPlugins(providing("logger", ModeAll, nil)).
			WithCatalog(catalog).
			WithPluginRefs("logger").
			Build()
		assert.ErrorIs(t, err, ErrDuplicatePlugin)
	})
}

func TestAppClose(t *testing.T) {
	first := &fakeConn{}
	second := &fakeConn{err: errors.New("already gone")}

	a, err := NewApp().
		WithPlugins(
			providing("one", ModeAll, Provides{"first": first, "plain": "value"}),
			providing("two", ModeAll, Provides{"second": second}),
		).
		Build()
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	err = a.Close()
	assert.ErrorContains(t, err, "second: already gone")
	assert.Equal(t, 1, first.disconnected)
	assert.Equal(t, 1, second.disconnected)

	assert.NoError(t, a.Close())
	assert.Equal(t, 1, first.disconnected)
}

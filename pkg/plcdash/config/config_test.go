package config

import (
	"context"
	"embed"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/plcdash/pkg/plcdash/app"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap/zaptest"
)

//go:embed testdata/full.hcl
var fullConfig []byte

//go:embed testdata/minimal.hcl
var minimalConfig []byte

//go:embed testdata/dup_app.hcl
var duplicateAppConfig []byte

//go:embed testdata/assertfail.hcl
var assertFailConfig []byte

//go:embed testdata/badconst.hcl
var badConstConfig []byte

//go:embed testdata/split
var splitConfig embed.FS

func TestFullConfig(t *testing.T) {
	config, diags := NewConfig().WithSources(fullConfig).WithLogger(zaptest.NewLogger(t)).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	t.Run("app settings", func(t *testing.T) {
		assert.Equal(t, "2025-05-15", config.App.CompatibilityDate.String())
		assert.True(t, config.App.Devtools)
		assert.Equal(t, []string{"vuetify/styles"}, config.App.CSS)
		assert.Equal(t, []string{"vuetify"}, config.App.Transpile)
		assert.Equal(t, []string{"plugins/socket.io.client"}, config.App.Plugins)
		assert.False(t, config.App.SSR)
	})

	t.Run("socket settings", func(t *testing.T) {
		assert.Equal(t, "/socket.io/", config.Socket.Path)
		assert.Equal(t, "/", config.Socket.Namespace)
		assert.Equal(t, 10*time.Second, config.Socket.DialTimeout)
		assert.Equal(t, map[string]string{"X-Dashboard": "plc"}, config.Socket.Headers)
	})

	t.Run("simulators are sorted and defaulted", func(t *testing.T) {
		require.Len(t, config.Simulators, 2)

		first := config.Simulators[0]
		assert.Equal(t, "DEMO_001", first.EquipmentID)
		assert.Equal(t, DefaultSimulatorURL, first.ServerURL)
		assert.Equal(t, DefaultSimulatorSchedule, first.Schedule)

		second := config.Simulator("DEMO_002")
		require.NotNil(t, second)
		assert.Equal(t, "http://localhost:5000", second.ServerURL)
		assert.Equal(t, "*/5 * * * * *", second.Schedule)

		assert.Nil(t, config.Simulator("DEMO_404"))
	})

	t.Run("constants", func(t *testing.T) {
		assert.Equal(t, cty.StringVal("http://localhost:5000"), config.Constants["api_url"])
		assert.Contains(t, config.Constants, "env")
		assert.Contains(t, config.Functions, "equipment")
		assert.NotNil(t, config.EvalContext())
	})
}

func TestDefaults(t *testing.T) {
	config, diags := NewConfig().WithSources([]byte("")).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	assert.True(t, config.App.SSR)
	assert.Empty(t, config.App.Plugins)
	assert.True(t, config.App.CompatibilityDate.IsZero())
	assert.Equal(t, DefaultSocketSettings(), config.Socket)
	assert.Empty(t, config.Simulators)
}

func TestAppRunsIn(t *testing.T) {
	config, diags := NewConfig().WithSources(fullConfig).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	require.False(t, config.App.SSR)
	assert.True(t, config.App.RunsIn(app.Client))
	assert.False(t, config.App.RunsIn(app.Server))

	defaults := DefaultAppSettings()
	assert.True(t, defaults.RunsIn(app.Client))
	assert.True(t, defaults.RunsIn(app.Server))
}

func TestMinimalApp(t *testing.T) {
	config, diags := NewConfig().WithSources(minimalConfig).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	assert.True(t, config.App.SSR)
	assert.False(t, config.App.Devtools)
	assert.Equal(t, []string{"socket.io.client"}, config.App.Plugins)
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  []byte
		summary string
	}{
		{"duplicate app block", duplicateAppConfig, "Duplicate app block"},
		{"failed assertion", assertFailConfig, "Assertion failed"},
		{"circular constants", badConstConfig, "Circular dependency detected"},
		{"unknown constant", []byte(`const { a = nope }`), "Dependency not found"},
		{"unknown block", []byte(`nuxt {}`), "Unsupported block type"},
		{"unknown app attribute", []byte(`app { pinia = true }`), "Unsupported argument"},
		{"bad compatibility date", []byte(`app { compatibility_date = "15/05/2025" }`), "Invalid compatibility_date"},
		{"empty plugin reference", []byte(`app { plugins = [""] }`), "Invalid plugin reference"},
		{"duplicate socket block", []byte("socket {}\nsocket {}"), "Duplicate socket block"},
		{"bad socket path", []byte(`socket { path = "socket.io" }`), "Invalid socket path"},
		{"zero dial timeout", []byte(`socket { dial_timeout = 0 }`), "Invalid dial_timeout"},
		{"bad dial timeout", []byte(`socket { dial_timeout = "soon" }`), "Invalid duration"},
		{"duplicate simulator", []byte("simulator \"A\" {}\nsimulator \"A\" {}"), "Duplicate simulator"},
		{"bad schedule", []byte(`simulator "A" { schedule = "every now and then" }`), "Invalid schedule"},
		{"bad server url", []byte(`simulator "A" { server_url = "ftp://plc" }`), "Invalid server_url"},
		{"reserved constant", []byte(`const { env = 1 }`), "Reserved constant name"},
		{"function shadows builtin", []byte("function \"upper\" {\n  params = [s]\n  result = s\n}"), "Duplicate function"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags := NewConfig().WithSources(tt.source).Build()
			require.True(t, diags.HasErrors(), "expected errors, didn't get any")

			summaries := make([]string, 0, len(diags))
			for _, d := range diags {
				summaries = append(summaries, d.Summary)
			}
			assert.Contains(t, summaries, tt.summary)
		})
	}
}

func TestSources(t *testing.T) {
	t.Run("embedded directory with constants split across files", func(t *testing.T) {
		config, diags := NewConfig().WithSources(splitConfig).Build()
		require.False(t, diags.HasErrors(), diags.Error())

		require.Len(t, config.Simulators, 1)
		assert.Equal(t, "LINE_A", config.Simulators[0].EquipmentID)
		assert.Equal(t, "@every 1s", config.Simulators[0].Schedule)
		assert.Equal(t, cty.StringVal("LINE_A"), config.Constants["equipment_id"])
	})

	t.Run("file and directory paths", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.hcl"), minimalConfig, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not hcl {"), 0o600))

		config, diags := NewConfig().WithSources(dir).Build()
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Equal(t, []string{"socket.io.client"}, config.App.Plugins)

		config, diags = NewConfig().WithSources(filepath.Join(dir, "app.hcl")).Build()
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Equal(t, []string{"socket.io.client"}, config.App.Plugins)
	})

	t.Run("missing path", func(t *testing.T) {
		_, diags := NewConfig().WithSources(filepath.Join(t.TempDir(), "missing.hcl")).Build()
		assert.True(t, diags.HasErrors())
	})

	t.Run("invalid source type", func(t *testing.T) {
		_, diags := NewConfig().WithSources(42).Build()
		assert.True(t, diags.HasErrors())
	})

	t.Run("duplicate app across sources", func(t *testing.T) {
		_, diags := NewConfig().WithSources(minimalConfig, minimalConfig).Build()
		assert.True(t, diags.HasErrors())
	})
}

func TestEnvInExpressions(t *testing.T) {
	t.Setenv("PLCDASH_TEST_HOST", "plc.local")

	config, diags := NewConfig().WithSources([]byte(`
const {
  host = env.PLCDASH_TEST_HOST
}

simulator "ENV" {
  server_url = "http://${host}:5000"
}
`)).Build()
	require.False(t, diags.HasErrors(), diags.Error())
	assert.Equal(t, "http://plc.local:5000", config.Simulator("ENV").ServerURL)
}

func TestDurationFunctionInConfig(t *testing.T) {
	config, diags := NewConfig().WithSources([]byte(`
socket {
  dial_timeout = duration("PT15S")
}
`)).Build()
	require.False(t, diags.HasErrors(), diags.Error())
	assert.Equal(t, 15*time.Second, config.Socket.DialTimeout)
}

func TestResolvePlugins(t *testing.T) {
	catalog := app.NewCatalog().Register("socket.io.client", func() app.Plugin {
		return app.PluginFunc("socket.io.client", app.ModeClient, func(ctx context.Context, a *app.App) (app.Provides, error) {
			return nil, nil
		})
	})

	config, diags := NewConfig().WithSources(fullConfig).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	plugins, diags := config.ResolvePlugins(catalog)
	require.False(t, diags.HasErrors(), diags.Error())
	require.Len(t, plugins, 1)
	assert.Equal(t, "socket.io.client", plugins[0].Name())

	config, diags = NewConfig().WithSources([]byte(`app { plugins = ["plugins/pinia"] }`)).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	_, diags = config.ResolvePlugins(catalog)
	require.True(t, diags.HasErrors())
	assert.Equal(t, "Unknown plugin", diags[0].Summary)
	assert.NotNil(t, diags[0].Subject)

	config, diags = NewConfig().WithSources([]byte(`app { plugins = ["socket.io.client", "~/plugins/socket.io.client.ts"] }`)).Build()
	require.False(t, diags.HasErrors(), diags.Error())

	var setups int
	counting := app.NewCatalog().Register("socket.io.client", func() app.Plugin {
		setups++
		return app.PluginFunc("socket.io.client", app.ModeClient, func(ctx context.Context, a *app.App) (app.Provides, error) {
			return nil, nil
		})
	})

	plugins, diags = config.ResolvePlugins(counting)
	require.True(t, diags.HasErrors())
	assert.Nil(t, plugins)
	assert.Equal(t, "Duplicate plugin", diags[0].Summary)
	assert.Contains(t, diags[0].Detail, "~/plugins/socket.io.client.ts")
	assert.Equal(t, 1, setups)
}

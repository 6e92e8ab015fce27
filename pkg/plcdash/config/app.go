package config

import (
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/rickb777/date"
	"github.com/tsarna/plcdash/pkg/plcdash/app"
)

// AppSettings holds the static build and runtime options of the dashboard
// application.
type AppSettings struct {
	CompatibilityDate date.Date
	Devtools          bool
	CSS               []string
	Transpile         []string
	Plugins           []string
	SSR               bool

	pluginsRange *hcl.Range
}

// ErrSSRDisabled is returned for the server execution context of an app
// that renders on the client only.
var ErrSSRDisabled = errors.New("server execution context is disabled (ssr = false)")

// RunsIn reports whether the app has an ec side at all. With ssr disabled
// the app is client-only and nothing runs in the server context.
func (s AppSettings) RunsIn(ec app.ExecutionContext) bool {
	return ec != app.Server || s.SSR
}

func DefaultAppSettings() AppSettings {
	return AppSettings{
		SSR: true,
	}
}

type appBlock struct {
	CompatibilityDate *string        `hcl:"compatibility_date,optional"`
	Devtools          *devtoolsBlock `hcl:"devtools,block"`
	CSS               []string       `hcl:"css,optional"`
	Build             *buildBlock    `hcl:"build,block"`
	Plugins           hcl.Expression `hcl:"plugins,optional"`
	SSR               *bool          `hcl:"ssr,optional"`
}

type devtoolsBlock struct {
	Enabled bool `hcl:"enabled,optional"`
}

type buildBlock struct {
	Transpile []string `hcl:"transpile,optional"`
}

type AppBlockHandler struct {
	BlockHandlerBase
	singletonBlock
}

func NewAppBlockHandler() *AppBlockHandler {
	return &AppBlockHandler{}
}

func (h *AppBlockHandler) Preprocess(block *hcl.Block) hcl.Diagnostics {
	return h.singletonBlock.Preprocess(block)
}

func (h *AppBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := appBlock{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	settings := DefaultAppSettings()

	if def.CompatibilityDate != nil {
		d, err := date.ParseISO(*def.CompatibilityDate)
		if err != nil {
			return diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid compatibility_date",
				Detail:   fmt.Sprintf("compatibility_date must be a YYYY-MM-DD date: %s", err),
				Subject:  &block.DefRange,
			})
		}
		settings.CompatibilityDate = d
	}

	if def.Devtools != nil {
		settings.Devtools = def.Devtools.Enabled
	}
	if def.Build != nil {
		settings.Transpile = def.Build.Transpile
	}
	if def.SSR != nil {
		settings.SSR = *def.SSR
	}
	settings.CSS = def.CSS

	if IsExpressionProvided(def.Plugins) {
		var plugins []string
		diags = diags.Extend(gohcl.DecodeExpression(def.Plugins, config.evalCtx, &plugins))
		if diags.HasErrors() {
			return diags
		}

		for _, ref := range plugins {
			if ref == "" {
				return diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid plugin reference",
					Detail:   "Plugin references must not be empty",
					Subject:  def.Plugins.Range().Ptr(),
				})
			}
		}

		settings.Plugins = plugins
		settings.pluginsRange = def.Plugins.Range().Ptr()
	}

	config.App = settings

	return diags
}

// ResolvePlugins resolves the configured plugin references against
// catalog, in order. Unknown plugins, and references naming a plugin that
// is already listed, are reported against the plugins attribute.
func (c *Config) ResolvePlugins(catalog *app.Catalog) ([]app.Plugin, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	plugins := make([]app.Plugin, 0, len(c.App.Plugins))

	seen := make(map[string]string, len(c.App.Plugins))

	for _, ref := range c.App.Plugins {
		entry, err := catalog.Entry(ref)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown plugin",
				Detail:   err.Error(),
				Subject:  c.App.pluginsRange,
			})
			continue
		}
		if first, dup := seen[entry]; dup {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate plugin",
				Detail:   fmt.Sprintf("%q and %q both refer to plugin %s; it can be listed only once", first, ref, entry),
				Subject:  c.App.pluginsRange,
			})
			continue
		}
		seen[entry] = ref

		plugin, err := catalog.Resolve(ref)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown plugin",
				Detail:   err.Error(),
				Subject:  c.App.pluginsRange,
			})
			continue
		}
		plugins = append(plugins, plugin)
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return plugins, diags
}

package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrDuplicatePlugin is returned when two references resolve to the same
// catalog entry, or two plugins share a name.
var ErrDuplicatePlugin = errors.New("plugin listed more than once")

// Mode restricts a plugin to one execution context.
type Mode int

const (
	ModeAll Mode = iota
	ModeClient
	ModeServer
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeClient:
		return "client"
	case ModeServer:
		return "server"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Allows reports whether a plugin with this mode runs in ec.
func (m Mode) Allows(ec ExecutionContext) bool {
	switch m {
	case ModeClient:
		return ec == Client
	case ModeServer:
		return ec == Server
	default:
		return true
	}
}

// Provides maps registry names to the values a plugin publishes.
type Provides map[string]any

// Plugin is run once by App.Start. Whatever Setup returns is published in
// the app registry.
type Plugin interface {
	Name() string
	Mode() Mode
	Setup(ctx context.Context, app *App) (Provides, error)
}

type SetupFunc func(ctx context.Context, app *App) (Provides, error)

type funcPlugin struct {
	name  string
	mode  Mode
	setup SetupFunc
}

// PluginFunc adapts a setup function to the Plugin interface.
func PluginFunc(name string, mode Mode, setup SetupFunc) Plugin {
	return &funcPlugin{name: name, mode: mode, setup: setup}
}

func (p *funcPlugin) Name() string { return p.name }
func (p *funcPlugin) Mode() Mode   { return p.mode }

func (p *funcPlugin) Setup(ctx context.Context, app *App) (Provides, error) {
	return p.setup(ctx, app)
}

type modePlugin struct {
	Plugin
	mode Mode
}

func (p *modePlugin) Mode() Mode { return p.mode }

// Factory creates a fresh plugin instance for one App.
type Factory func() Plugin

// Catalog maps plugin names to factories. Plugin references in
// configuration are resolved against it.
type Catalog struct {
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory. A later registration under the same name
// replaces the earlier one.
func (c *Catalog) Register(name string, factory Factory) *Catalog {
	c.factories[name] = factory
	return c
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var scriptExtensions = []string{".ts", ".mts", ".js", ".mjs", ".cjs", ".go"}

// NormalizeReference turns a plugin reference such as
// "~/plugins/socket.io.client.ts" into its catalog name
// ("socket.io.client"), and reports the mode implied by a ".client" or
// ".server" suffix.
func NormalizeReference(ref string) (string, Mode) {
	name := strings.TrimSpace(ref)
	name = strings.TrimPrefix(name, "~/")
	name = strings.TrimPrefix(name, "@/")
	name = path.Base(name)

	for _, ext := range scriptExtensions {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}

	switch {
	case strings.HasSuffix(name, ".client"):
		return name, ModeClient
	case strings.HasSuffix(name, ".server"):
		return name, ModeServer
	default:
		return name, ModeAll
	}
}

// Entry returns the catalog name a reference resolves to. The full
// normalised name is tried first; failing that, the name without its
// ".client"/".server" suffix.
func (c *Catalog) Entry(ref string) (string, error) {
	entry, _, _, err := c.lookup(ref)
	return entry, err
}

func (c *Catalog) lookup(ref string) (string, Mode, Factory, error) {
	name, mode := NormalizeReference(ref)

	if factory, ok := c.factories[name]; ok {
		return name, mode, factory, nil
	}
	if mode != ModeAll {
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".client"), ".server")
		if factory, ok := c.factories[base]; ok {
			return base, mode, factory, nil
		}
	}
	return "", mode, nil, fmt.Errorf("unknown plugin %q (known: %s)", ref, strings.Join(c.Names(), ", "))
}

// Resolve creates the plugin a reference names. A ".client"/".server"
// suffix always restricts the plugin to that mode.
func (c *Catalog) Resolve(ref string) (Plugin, error) {
	_, mode, factory, err := c.lookup(ref)
	if err != nil {
		return nil, err
	}

	plugin := factory()
	if mode != ModeAll && plugin.Mode() != mode {
		plugin = &modePlugin{Plugin: plugin, mode: mode}
	}
	return plugin, nil
}

// ResolveAll resolves every reference, in order. References that resolve
// to the same catalog entry are rejected, so no plugin is set up twice.
func (c *Catalog) ResolveAll(refs []string) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(refs))
	seen := make(map[string]string, len(refs))

	for _, ref := range refs {
		entry, _, _, err := c.lookup(ref)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[entry]; dup {
			return nil, fmt.Errorf("%q and %q both name %s: %w", first, ref, entry, ErrDuplicatePlugin)
		}
		seen[entry] = ref

		plugin, err := c.Resolve(ref)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, plugin)
	}
	return plugins, nil
}

package plugins

import (
	"github.com/tsarna/plcdash/pkg/plcdash/app"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
)

// Builtin returns a catalog of the plugins shipped with plcdash. The socket
// plugin takes its transport settings from cfg, which may be nil.
func Builtin(cfg *config.Config) *app.Catalog {
	settings := config.DefaultSocketSettings()
	if cfg != nil {
		settings = cfg.Socket
	}

	return app.NewCatalog().
		Register(SocketPluginName, func() app.Plugin { return NewSocketPlugin(settings) }).
		Register(LoggerPluginName, LoggerPlugin)
}

package plugins

import (
	"context"

	"github.com/tsarna/plcdash/pkg/plcdash/app"
)

const (
	// LoggerKey is the registry name of the app logger.
	LoggerKey = "logger"

	LoggerPluginName = "logger"
)

// LoggerPlugin publishes the app's *zap.Logger so plugins and commands can
// look it up by name.
func LoggerPlugin() app.Plugin {
	return app.PluginFunc(LoggerPluginName, app.ModeAll, func(ctx context.Context, a *app.App) (app.Provides, error) {
		return app.Provides{LoggerKey: a.Logger()}, nil
	})
}

package plugins

import (
	"context"
	"net/http"

	"github.com/tsarna/plcdash/pkg/plcdash/app"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
	"github.com/tsarna/plcdash/pkg/plcdash/socketio"
	"go.uber.org/zap"
)

const (
	// DefaultSocketURL is the address of the dashboard backend. It is not
	// configurable.
	DefaultSocketURL = "http://localhost:5000"

	// SocketKey is the registry name of the Socket.IO client handle.
	SocketKey = "socket"

	SocketPluginName = "socket.io.client"
)

// SocketPlugin builds the Socket.IO client handle and publishes it as
// SocketKey. The handle is never connected here; callers look it up and
// call Connect themselves.
type SocketPlugin struct {
	settings config.SocketSettings
	url      string
}

func NewSocketPlugin(settings config.SocketSettings) *SocketPlugin {
	return &SocketPlugin{
		settings: settings,
		url:      DefaultSocketURL,
	}
}

func (p *SocketPlugin) Name() string  { return SocketPluginName }
func (p *SocketPlugin) Mode() app.Mode { return app.ModeClient }

func (p *SocketPlugin) Setup(ctx context.Context, a *app.App) (app.Provides, error) {
	// Never build a client during server rendering, whatever mode the
	// plugin was resolved with.
	if a.ExecutionContext() != app.Client {
		a.Logger().Debug("Not creating socket outside the client", zap.Stringer("context", a.ExecutionContext()))
		return nil, nil
	}

	client, err := socketio.NewClient().
		WithURL(p.url).
		WithPath(p.settings.Path).
		WithNamespace(p.settings.Namespace).
		WithDialTimeout(p.settings.DialTimeout).
		WithHeaders(headerValues(p.settings.Headers)).
		WithLogger(a.Logger().Named("socket")).
		WithMetrics(a.Metrics()).
		WithAutoConnect(false).
		Build()
	if err != nil {
		return nil, err
	}

	a.Logger().Debug("Socket client created", zap.String("url", client.URL()), zap.String("namespace", client.Namespace()))

	return app.Provides{SocketKey: client}, nil
}

func headerValues(headers map[string]string) map[string][]string {
	if len(headers) == 0 {
		return nil
	}

	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}

package socketio

import (
	"context"
	"fmt"
	"time"

	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"go.uber.org/zap"
)

// ClientBuilder provides a fluent interface for building Socket.IO clients.
type ClientBuilder struct {
	url              string
	path             string
	namespace        string
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeChannelSize int
	headers          map[string][]string // Custom HTTP headers for the websocket handshake
	autoConnect      bool
	monitor          Monitor
	metrics          o11y.MetricsProvider
}

// NewClient creates a new Socket.IO client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		path:             DefaultPath,
		dialTimeout:      20 * time.Second,
		logger:           zap.NewNop(),
		writeChannelSize: 100,
	}
}

// WithURL sets the Socket.IO server URL, e.g. "http://localhost:5000".
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithPath sets the Engine.IO endpoint path. Default is "/socket.io/".
func (b *ClientBuilder) WithPath(path string) *ClientBuilder {
	if path != "" {
		b.path = path
	}
	return b
}

// WithNamespace sets the namespace to join. By default the namespace is taken
// from the URL path, or "/" if the URL has none.
func (b *ClientBuilder) WithNamespace(namespace string) *ClientBuilder {
	b.namespace = namespace
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout bounds the websocket dial plus the Engine.IO and namespace handshakes.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithWriteChannelSize sets the buffer size for the internal write channel. Default is 100.
func (b *ClientBuilder) WithWriteChannelSize(size int) *ClientBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithHeaders merges custom HTTP headers for the websocket handshake.
func (b *ClientBuilder) WithHeaders(headers map[string][]string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	for key, values := range headers {
		b.headers[key] = values
	}
	return b
}

// WithHeader sets a single HTTP header for the websocket handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithAutoConnect makes Build start connecting in the background. It is off
// by default; callers normally connect explicitly.
func (b *ClientBuilder) WithAutoConnect(autoConnect bool) *ClientBuilder {
	b.autoConnect = autoConnect
	return b
}

// WithMonitor sets an optional monitor for connect and disconnect events.
func (b *ClientBuilder) WithMonitor(monitor Monitor) *ClientBuilder {
	b.monitor = monitor
	return b
}

// WithMetrics sets an optional metrics provider.
func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

// Build creates the client. No network I/O happens unless auto-connect was
// enabled.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	headers := make(map[string][]string, len(b.headers))
	for key, values := range b.headers {
		headers[key] = values
	}

	client := &Client{
		url:              b.url,
		path:             b.path,
		namespace:        b.namespace,
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		writeChannelSize: b.writeChannelSize,
		headers:          headers,
		autoConnect:      b.autoConnect,
		monitor:          b.monitor,
		handlers:         make(map[string][]EventHandler),
	}
	client.setupMetrics(b.metrics)

	if client.autoConnect {
		go func() {
			if err := client.Connect(context.Background()); err != nil {
				client.logger.Error("Socket.IO auto-connect failed", zap.String("url", client.url), zap.Error(err))
			}
		}()
	}

	return client, nil
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if _, _, err := endpoint(b.url, b.path, b.namespace); err != nil {
		return err
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.dialTimeout <= 0 {
		b.dialTimeout = 20 * time.Second
	}

	if b.writeChannelSize <= 0 {
		b.writeChannelSize = 100
	}

	return nil
}

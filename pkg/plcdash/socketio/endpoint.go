package socketio

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultPath      = "/socket.io/"
	DefaultNamespace = "/"
)

// endpoint resolves a Socket.IO server URL into the websocket URL of its
// Engine.IO endpoint and the namespace to join.
//
// As with the reference JavaScript client, a path on the server URL names the
// namespace ("http://host:5000/admin" joins "/admin"). An explicitly
// configured namespace wins over the URL path.
func endpoint(rawURL, path, namespace string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("invalid URL: unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return "", "", fmt.Errorf("invalid URL: missing host in %q", rawURL)
	}

	if namespace == "" {
		namespace = DefaultNamespace
		if u.Path != "" && u.Path != "/" {
			namespace = strings.TrimSuffix(u.Path, "/")
		}
	}
	if !strings.HasPrefix(namespace, "/") {
		namespace = "/" + namespace
	}

	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = path

	query := u.Query()
	query.Set("EIO", "4")
	query.Set("transport", "websocket")
	u.RawQuery = query.Encode()

	return u.String(), namespace, nil
}

package app

import (
	"fmt"
	"strings"
)

// ExecutionContext says which side of the application is running. Plugins
// restricted to one side are skipped on the other.
type ExecutionContext int

const (
	Client ExecutionContext = iota
	Server
)

func (e ExecutionContext) String() string {
	switch e {
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return fmt.Sprintf("ExecutionContext(%d)", int(e))
	}
}

// ParseExecutionContext parses "client" or "server", case-insensitively.
func ParseExecutionContext(s string) (ExecutionContext, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return Client, nil
	case "server":
		return Server, nil
	default:
		return Client, fmt.Errorf("invalid execution context %q: must be client or server", s)
	}
}

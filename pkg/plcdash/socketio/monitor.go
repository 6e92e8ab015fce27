package socketio

import "context"

// Monitor receives client lifecycle notifications.
type Monitor interface {
	OnConnect(ctx context.Context, client *Client)
	// OnDisconnect is called with a nil error for a requested disconnect.
	OnDisconnect(ctx context.Context, client *Client, err error)
}

// EventHandler handles an event received from the server. If the server
// asked for an acknowledgement, the returned values are sent back as the ack
// arguments.
//
// Handlers run on the client's read loop, in arrival order. They must not
// wait on the same client: no EmitWithAck and no Disconnect from inside a
// handler (start a goroutine instead).
type EventHandler func(ctx context.Context, event string, args []any) []any

// Package socketio provides a Socket.IO v4 client over a WebSocket connection.
//
// The client speaks Engine.IO v4 with the websocket transport only. It is
// built with a fluent builder and never touches the network until Connect is
// called, unless auto-connect is explicitly enabled:
//
//	client, err := socketio.NewClient().
//		WithURL("http://localhost:5000").
//		WithLogger(logger).
//		Build()
//
//	client.On("plc_data", func(ctx context.Context, event string, args []any) []any {
//		fmt.Println(event, args)
//		return nil
//	})
//
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Disconnect()
//
//	client.Emit(ctx, "subscribe", "DEMO_001")
//
// There is no automatic reconnection. After a disconnect, whether requested
// or caused by an error, the client returns to its initial state and Connect
// may be called again.
package socketio

package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/coder/websocket"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"go.uber.org/zap"
)

var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyStarted   = errors.New("client is already started")
	ErrServerDisconnect = errors.New("server disconnected the namespace")
	ErrServerClosed     = errors.New("server closed the connection")
	ErrHeartbeatTimeout = errors.New("no ping received from server within ping timeout")
)

// Event names the client emits locally; they cannot be sent to the server.
var reservedEvents = map[string]bool{
	"connect":        true,
	"connect_error":  true,
	"disconnect":     true,
	"disconnecting":  true,
	"newListener":    true,
	"removeListener": true,
}

const (
	defaultReadLimit = 1 << 20
	leaveTimeout     = time.Second
)

type patternHandler struct {
	pattern string
	handler EventHandler
}

// session holds the state of one established connection.
type session struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	namespace string
	sid       string
	heartbeat time.Duration
	writeCh   chan string
	done      chan struct{}

	// leave asks the write loop to flush and leave the namespace; wrote is
	// closed when the write loop exits.
	leave chan struct{}
	wrote chan struct{}

	// dispatching is non-zero while handlers for this session are running.
	dispatching int32

	pendingMu sync.Mutex
	pending   map[int64]chan []any
}

// Client is a Socket.IO client handle. It is safe for concurrent use.
type Client struct {
	// Configuration
	url              string
	path             string
	namespace        string
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeChannelSize int
	headers          map[string][]string
	autoConnect      bool
	monitor          Monitor

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
	patterns   []patternHandler

	// Connection state
	mu       sync.RWMutex
	sess     *session
	started  int32
	stopping int32
	ackID    int64

	// Metrics (nil if not configured)
	connectCounter o11y.Counter
	emitCounter    o11y.Counter
	receiveCounter o11y.Counter
	errorCounter   o11y.Counter
	connectedGauge o11y.Gauge
}

func (c *Client) setupMetrics(provider o11y.MetricsProvider) {
	if provider == nil {
		return
	}
	c.connectCounter = provider.Counter("socketio_connects_total")
	c.emitCounter = provider.Counter("socketio_events_emitted_total")
	c.receiveCounter = provider.Counter("socketio_events_received_total")
	c.errorCounter = provider.Counter("socketio_errors_total")
	c.connectedGauge = provider.Gauge("socketio_connected")
}

// URL returns the server URL the client was built with.
func (c *Client) URL() string {
	return c.url
}

// AutoConnect reports whether Build started connecting on its own.
func (c *Client) AutoConnect() bool {
	return c.autoConnect
}

// Namespace returns the namespace the client joins on Connect.
func (c *Client) Namespace() string {
	_, namespace, _ := endpoint(c.url, c.path, c.namespace)
	return namespace
}

// Connected reports whether the namespace handshake has completed and the
// connection is still up.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// ID returns the namespace session id assigned by the server, or "" when not connected.
func (c *Client) ID() string {
	if s := c.current(); s != nil {
		return s.sid
	}
	return ""
}

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// On registers a handler for an event name. Handlers may be registered
// before Connect. The local events "connect" and "disconnect" are delivered
// here as well; "disconnect" carries the reason as its only argument.
func (c *Client) On(event string, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// OnPattern registers a handler for every event whose name matches an
// MQTT-style pattern, e.g. "plc/+/log" or "plc/#".
func (c *Client) OnPattern(pattern string, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.patterns = append(c.patterns, patternHandler{pattern: pattern, handler: handler})
}

// Off removes every handler registered for the event name or pattern.
func (c *Client) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	delete(c.handlers, event)

	kept := c.patterns[:0]
	for _, ph := range c.patterns {
		if ph.pattern != event {
			kept = append(kept, ph)
		}
	}
	c.patterns = kept
}

// Connect dials the server, completes the Engine.IO and namespace
// handshakes and starts message processing. ctx bounds the handshake only;
// the connection lives until Disconnect or a connection error.
func (c *Client) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return ErrAlreadyStarted
	}

	wsURL, namespace, err := endpoint(c.url, c.path, c.namespace)
	if err != nil {
		atomic.StoreInt32(&c.started, 0)
		return err
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	defer dialCancel()

	dialOptions := &websocket.DialOptions{}
	if len(c.headers) > 0 {
		dialOptions.HTTPHeader = make(http.Header, len(c.headers))
		for key, values := range c.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	conn, _, err := websocket.Dial(dialCtx, wsURL, dialOptions)
	if err != nil {
		atomic.StoreInt32(&c.started, 0)
		c.countError(ctx, "dial")
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	hs, sid, err := c.handshake(dialCtx, conn, namespace)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		atomic.StoreInt32(&c.started, 0)
		c.countError(ctx, "handshake")
		return fmt.Errorf("socket.io handshake failed: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:      conn,
		ctx:       sessCtx,
		cancel:    cancel,
		namespace: namespace,
		sid:       sid,
		heartbeat: time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond,
		writeCh:   make(chan string, c.writeChannelSize),
		done:      make(chan struct{}),
		leave:     make(chan struct{}),
		wrote:     make(chan struct{}),
		pending:   make(map[int64]chan []any),
	}

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.logger.Info("Socket.IO client connected",
		zap.String("url", c.url),
		zap.String("namespace", namespace),
		zap.String("sid", sid),
	)

	if c.connectCounter != nil {
		c.connectCounter.Add(ctx, 1, o11y.Label{Key: "namespace", Value: namespace})
	}
	if c.connectedGauge != nil {
		c.connectedGauge.Set(ctx, 1)
	}

	go c.writeLoop(s)

	if c.monitor != nil {
		c.monitor.OnConnect(ctx, c)
	}
	c.dispatchSession(s, "connect", nil)

	go c.readLoop(s)

	return nil
}

// handshake reads the Engine.IO open packet and joins the namespace.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, namespace string) (*handshake, string, error) {
	conn.SetReadLimit(defaultReadLimit)

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read open packet: %w", err)
	}
	if len(data) == 0 || data[0] != EnginePacketOpen {
		return nil, "", fmt.Errorf("expected open packet, got %.32q", data)
	}

	hs := &handshake{}
	if err := json.Unmarshal(data[1:], hs); err != nil {
		return nil, "", fmt.Errorf("invalid open packet: %w", err)
	}
	if hs.MaxPayload > 0 {
		conn.SetReadLimit(hs.MaxPayload)
	}

	join := string(EnginePacketMessage) + EncodePacket(Packet{Type: PacketConnect, Namespace: namespace})
	if err := conn.Write(ctx, websocket.MessageText, []byte(join)); err != nil {
		return nil, "", fmt.Errorf("failed to join namespace %s: %w", namespace, err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed waiting for namespace %s: %w", namespace, err)
		}
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case EnginePacketPing:
			if err := conn.Write(ctx, websocket.MessageText, []byte{EnginePacketPong}); err != nil {
				return nil, "", fmt.Errorf("failed to answer ping: %w", err)
			}
		case EnginePacketClose:
			return nil, "", ErrServerClosed
		case EnginePacketMessage:
			p, err := DecodePacket(string(data[1:]))
			if err != nil {
				return nil, "", err
			}
			if p.Namespace != namespace {
				continue
			}

			switch p.Type {
			case PacketConnect:
				var reply connectReply
				if len(p.Data) > 0 {
					if err := json.Unmarshal(p.Data, &reply); err != nil {
						return nil, "", fmt.Errorf("invalid connect reply: %w", err)
					}
				}
				return hs, reply.SID, nil
			case PacketConnectError:
				var ce connectError
				_ = json.Unmarshal(p.Data, &ce)
				return nil, "", fmt.Errorf("namespace %s refused connection: %s", namespace, ce.Message)
			}
		}
	}
}

// Disconnect leaves the namespace, closes the connection and resets the
// client so that Connect may be called again. It is safe to call at any
// time, including before Connect, more than once, and from an event
// handler. Frames already queued by Emit are written before the namespace
// is left. When called while a handler is running, Disconnect does not wait
// for that handler to return.
func (c *Client) Disconnect() error {
	s := c.current()
	if s == nil {
		return nil
	}

	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return nil // Already stopping
	}

	c.logger.Info("Disconnecting Socket.IO client")

	close(s.leave)
	select {
	case <-s.wrote:
	case <-time.After(leaveTimeout):
		c.logger.Debug("Timed out flushing queued frames")
	}

	c.cleanupWithStatus(websocket.StatusNormalClosure, "client disconnect", atomic.LoadInt32(&s.dispatching) == 0)

	c.logger.Info("Socket.IO client disconnected")
	c.afterDisconnect(nil, "io client disconnect")

	return nil
}

// cleanupWithStatus tears down the current session, if any, and resets
// state. With wait set it returns only after the read loop has exited.
func (c *Client) cleanupWithStatus(status websocket.StatusCode, reason string, wait bool) {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s != nil {
		s.cancel()
		s.conn.Close(status, reason)
		if wait {
			<-s.done
		}

		s.pendingMu.Lock()
		s.pending = make(map[int64]chan []any)
		s.pendingMu.Unlock()
	}

	if c.connectedGauge != nil {
		c.connectedGauge.Set(context.Background(), 0)
	}

	atomic.StoreInt32(&c.started, 0)
	atomic.StoreInt32(&c.stopping, 0)
}

// notifyDisconnectError tears the connection down after a transport or
// protocol error. Called from the read loop, so the cleanup that waits for
// that loop runs on its own goroutine.
func (c *Client) notifyDisconnectError(err error) {
	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return
	}

	go func() {
		c.cleanupWithStatus(websocket.StatusInternalError, "connection error", true)
		c.countError(context.Background(), "disconnect")
		c.afterDisconnect(err, disconnectReason(err))
	}()
}

func (c *Client) afterDisconnect(err error, reason string) {
	if c.monitor != nil {
		c.monitor.OnDisconnect(context.Background(), c, err)
	}
	c.dispatch(context.Background(), "disconnect", []any{reason})
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrServerDisconnect):
		return "io server disconnect"
	case errors.Is(err, ErrServerClosed):
		return "transport close"
	case errors.Is(err, ErrHeartbeatTimeout):
		return "ping timeout"
	default:
		return "transport error"
	}
}

// Emit sends an event without waiting for an acknowledgement.
func (c *Client) Emit(ctx context.Context, event string, args ...any) error {
	s, data, err := c.prepareEmit(event, args)
	if err != nil {
		return err
	}

	frame := string(EnginePacketMessage) + EncodePacket(Packet{Type: PacketEvent, Namespace: s.namespace, Data: data})
	if err := c.enqueue(ctx, s, frame); err != nil {
		return err
	}

	if c.emitCounter != nil {
		c.emitCounter.Add(ctx, 1, o11y.Label{Key: "event", Value: event})
	}
	return nil
}

// EmitWithAck sends an event and waits for the server's acknowledgement,
// returning the ack arguments.
func (c *Client) EmitWithAck(ctx context.Context, event string, args ...any) ([]any, error) {
	s, data, err := c.prepareEmit(event, args)
	if err != nil {
		return nil, err
	}

	id := atomic.AddInt64(&c.ackID, 1)
	ackCh := make(chan []any, 1)

	s.pendingMu.Lock()
	s.pending[id] = ackCh
	s.pendingMu.Unlock()

	frame := string(EnginePacketMessage) + EncodePacket(Packet{Type: PacketEvent, Namespace: s.namespace, ID: &id, Data: data})
	if err := c.enqueue(ctx, s, frame); err != nil {
		s.removePending(id)
		return nil, err
	}

	if c.emitCounter != nil {
		c.emitCounter.Add(ctx, 1, o11y.Label{Key: "event", Value: event})
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		s.removePending(id)
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrNotConnected
	}
}

func (c *Client) prepareEmit(event string, args []any) (*session, json.RawMessage, error) {
	s := c.current()
	if s == nil {
		return nil, nil, ErrNotConnected
	}

	if event == "" {
		return nil, nil, errors.New("event name is required")
	}
	if reservedEvents[event] {
		return nil, nil, fmt.Errorf("%q is a reserved event name", event)
	}

	data, err := encodeArgs(event, args)
	if err != nil {
		return nil, nil, err
	}
	return s, data, nil
}

func (s *session) removePending(id int64) (chan []any, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return ch, ok
}

func (c *Client) enqueue(ctx context.Context, s *session, frame string) error {
	select {
	case s.writeCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotConnected
	}
}

// readLoop processes incoming frames until the session ends.
func (c *Client) readLoop(s *session) {
	defer close(s.done)

	for {
		readCtx, cancel := s.ctx, context.CancelFunc(func() {})
		if s.heartbeat > 0 {
			readCtx, cancel = context.WithTimeout(s.ctx, s.heartbeat)
		}

		_, data, err := s.conn.Read(readCtx)
		timedOut := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			if s.ctx.Err() == nil {
				if timedOut {
					err = ErrHeartbeatTimeout
				}
				c.logger.Error("Failed to read from Socket.IO connection", zap.Error(err))
				c.notifyDisconnectError(err)
			}
			return
		}

		if !c.handleFrame(s, data) {
			return
		}
	}
}

// writeLoop processes outgoing frames. It is the only writer once the
// session is up, so a leave request drains the queue before the namespace
// disconnect goes out.
func (c *Client) writeLoop(s *session) {
	defer close(s.wrote)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.leave:
			c.flushAndLeave(s)
			return
		case frame := <-s.writeCh:
			if err := s.conn.Write(s.ctx, websocket.MessageText, []byte(frame)); err != nil {
				if s.ctx.Err() == nil {
					c.logger.Error("Failed to write to Socket.IO connection", zap.Error(err))
					c.notifyDisconnectError(err)
				}
				return
			}
		}
	}
}

func (c *Client) flushAndLeave(s *session) {
	writeCtx, cancel := context.WithTimeout(s.ctx, leaveTimeout)
	defer cancel()

	for {
		select {
		case frame := <-s.writeCh:
			if err := s.conn.Write(writeCtx, websocket.MessageText, []byte(frame)); err != nil {
				c.logger.Debug("Failed to flush queued frame", zap.Error(err))
				return
			}
		default:
			leave := string(EnginePacketMessage) + EncodePacket(Packet{Type: PacketDisconnect, Namespace: s.namespace})
			if err := s.conn.Write(writeCtx, websocket.MessageText, []byte(leave)); err != nil {
				c.logger.Debug("Failed to send namespace disconnect", zap.Error(err))
			}
			return
		}
	}
}

// handleFrame handles one Engine.IO packet. It returns false when the
// session is over.
func (c *Client) handleFrame(s *session, data []byte) bool {
	if len(data) == 0 {
		return true
	}

	switch data[0] {
	case EnginePacketPing:
		if err := c.enqueue(s.ctx, s, string(EnginePacketPong)); err != nil {
			return false
		}
	case EnginePacketPong, EnginePacketNoop:
	case EnginePacketClose:
		c.notifyDisconnectError(ErrServerClosed)
		return false
	case EnginePacketMessage:
		return c.handlePacket(s, string(data[1:]))
	default:
		c.logger.Warn("Unknown Engine.IO packet type", zap.String("type", string(data[0])))
	}

	return true
}

func (c *Client) handlePacket(s *session, raw string) bool {
	p, err := DecodePacket(raw)
	if err != nil {
		c.logger.Warn("Failed to decode Socket.IO packet", zap.Error(err))
		return true
	}

	if p.Namespace != s.namespace {
		return true
	}

	switch p.Type {
	case PacketEvent:
		c.handleEvent(s, p)
	case PacketAck:
		c.handleAck(s, p)
	case PacketDisconnect:
		c.notifyDisconnectError(ErrServerDisconnect)
		return false
	case PacketConnectError:
		c.logger.Warn("Server sent CONNECT_ERROR on an established namespace", zap.ByteString("data", p.Data))
	case PacketConnect:
	default:
		c.logger.Warn("Unexpected Socket.IO packet", zap.Stringer("type", p.Type))
	}

	return true
}

func (c *Client) handleEvent(s *session, p Packet) {
	event, args, err := decodeEvent(p.Data)
	if err != nil {
		c.logger.Warn("Invalid event packet", zap.Error(err))
		return
	}

	if c.receiveCounter != nil {
		c.receiveCounter.Add(s.ctx, 1, o11y.Label{Key: "event", Value: event})
	}

	ack := c.dispatchSession(s, event, args)

	if p.ID == nil {
		return
	}

	data, err := encodeArgs("", ack)
	if err != nil {
		c.logger.Warn("Failed to encode ack", zap.String("event", event), zap.Error(err))
		data = json.RawMessage("[]")
	}

	frame := string(EnginePacketMessage) + EncodePacket(Packet{Type: PacketAck, Namespace: s.namespace, ID: p.ID, Data: data})
	if err := c.enqueue(s.ctx, s, frame); err != nil {
		c.logger.Debug("Failed to send ack", zap.String("event", event), zap.Error(err))
	}
}

func (c *Client) handleAck(s *session, p Packet) {
	if p.ID == nil {
		return
	}

	args, err := decodeAck(p.Data)
	if err != nil {
		c.logger.Warn("Invalid ack packet", zap.Error(err))
		return
	}

	if ch, ok := s.removePending(*p.ID); ok {
		ch <- args
	}
}

// dispatchSession runs dispatch for events that arrive on s, marking the
// session as busy so a handler may call Disconnect.
func (c *Client) dispatchSession(s *session, event string, args []any) []any {
	atomic.AddInt32(&s.dispatching, 1)
	defer atomic.AddInt32(&s.dispatching, -1)
	return c.dispatch(s.ctx, event, args)
}

// dispatch calls every handler for the event, exact names first, then
// patterns. The first non-nil result becomes the ack value.
func (c *Client) dispatch(ctx context.Context, event string, args []any) []any {
	c.handlersMu.RLock()
	handlers := append([]EventHandler(nil), c.handlers[event]...)
	for _, ph := range c.patterns {
		if mqttpattern.Matches(ph.pattern, event) {
			handlers = append(handlers, ph.handler)
		}
	}
	c.handlersMu.RUnlock()

	var ack []any
	for _, handler := range handlers {
		if result := c.callHandler(ctx, handler, event, args); ack == nil && result != nil {
			ack = result
		}
	}
	return ack
}

func (c *Client) callHandler(ctx context.Context, handler EventHandler, event string, args []any) (result []any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event handler panicked", zap.String("event", event), zap.Any("panic", r))
			c.countError(ctx, "handler")
			result = nil
		}
	}()
	return handler(ctx, event, args)
}

func (c *Client) countError(ctx context.Context, operation string) {
	if c.errorCounter != nil {
		c.errorCounter.Add(ctx, 1, o11y.Label{Key: "operation", Value: operation})
	}
}

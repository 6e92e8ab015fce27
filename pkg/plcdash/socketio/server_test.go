package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeServer is a minimal Socket.IO v4 server speaking the websocket
// transport, enough to drive the client in tests.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	pingInterval int
	pingTimeout  int
	refuse       map[string]string // namespace -> CONNECT_ERROR message

	handshakes int32

	mu         sync.Mutex
	lastQuery  map[string]string
	lastHeader http.Header

	conns chan *fakeConn
}

type fakeConn struct {
	conn      *websocket.Conn
	namespace string
	received  chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		t:      t,
		refuse: make(map[string]string),
		conns:  make(chan *fakeConn, 8),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeServer) URL() string {
	return f.srv.URL
}

func (f *fakeServer) Handshakes() int {
	return int(atomic.LoadInt32(&f.handshakes))
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.handshakes, 1)

	f.mu.Lock()
	f.lastHeader = r.Header.Clone()
	f.lastQuery = map[string]string{
		"path":      r.URL.Path,
		"EIO":       r.URL.Query().Get("EIO"),
		"transport": r.URL.Query().Get("transport"),
	}
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.t.Logf("accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	open := fmt.Sprintf(`0{"sid":"eio-sid","upgrades":[],"pingInterval":%d,"pingTimeout":%d,"maxPayload":1000000}`,
		f.pingInterval, f.pingTimeout)
	if err := conn.Write(ctx, websocket.MessageText, []byte(open)); err != nil {
		return
	}

	_, data, err := conn.Read(ctx)
	if err != nil || len(data) < 2 || data[0] != EnginePacketMessage {
		return
	}

	p, err := DecodePacket(string(data[1:]))
	if err != nil || p.Type != PacketConnect {
		return
	}

	if msg, refused := f.refuse[p.Namespace]; refused {
		payload, _ := json.Marshal(map[string]string{"message": msg})
		reply := "4" + EncodePacket(Packet{Type: PacketConnectError, Namespace: p.Namespace, Data: payload})
		conn.Write(ctx, websocket.MessageText, []byte(reply))
		return
	}

	reply := "4" + EncodePacket(Packet{Type: PacketConnect, Namespace: p.Namespace, Data: json.RawMessage(`{"sid":"ns-sid"}`)})
	if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
		return
	}

	fc := &fakeConn{
		conn:      conn,
		namespace: p.Namespace,
		received:  make(chan string, 100),
	}
	f.conns <- fc

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			close(fc.received)
			return
		}
		fc.received <- string(data)
	}
}

// accept waits for the next client to finish the namespace handshake.
func (f *fakeServer) accept() *fakeConn {
	f.t.Helper()

	select {
	case fc := <-f.conns:
		return fc
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (fc *fakeConn) send(t *testing.T, frame string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fc.conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

// next returns the next frame received from the client.
func (fc *fakeConn) next(t *testing.T) string {
	t.Helper()

	select {
	case frame, ok := <-fc.received:
		if !ok {
			t.Fatal("client connection closed")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return ""
	}
}

// closed reports whether the client connection went away within the timeout.
func (fc *fakeConn) closed(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-fc.received:
			if !ok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

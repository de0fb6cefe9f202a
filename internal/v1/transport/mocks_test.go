package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/room"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

var errConnClosed = errors.New("connection closed")

// fakeConn implements wsConnection. Inbound frames are fed through a channel;
// outbound writes are recorded for assertions.
type fakeConn struct {
	in chan []byte

	mu      sync.Mutex
	written [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, errConnClosed
		}
		return 1, data, nil // websocket.TextMessage
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// push feeds one frame into the read pump.
func (f *fakeConn) push(t *testing.T, kind types.MessageType, seq int64, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(types.Frame{Type: kind, Seq: seq, Payload: raw})
	require.NoError(t, err)
	f.in <- data
}

// pushRaw feeds raw bytes into the read pump.
func (f *fakeConn) pushRaw(data []byte) {
	f.in <- data
}

// framesOfKind decodes the recorded writes and filters by kind.
func (f *fakeConn) framesOfKind(kind types.MessageType) []types.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Frame
	for _, data := range f.written {
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == kind {
			out = append(out, frame)
		}
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(room.Options{}, nil, nil, nil)
}

// connect starts a client on the hub and registers cleanup that tears the
// pumps down.
func connect(t *testing.T, h *Hub) (*fakeConn, *Client) {
	t.Helper()
	conn := newFakeConn()
	client := h.HandleConnection(conn)
	t.Cleanup(func() {
		client.Disconnect()
		conn.Close()
	})
	return conn, client
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

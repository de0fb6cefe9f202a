package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/bus"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

// MockClient implements types.ClientInterface for testing. Every frame it
// receives, typed or raw, is decoded back into a types.Frame so tests can
// assert on the wire-visible traffic.
type MockClient struct {
	ID       types.ClientIdType
	Nickname types.NicknameType

	mu             sync.Mutex
	Frames         []types.Frame
	isDisconnected bool
}

func NewMockClient(id, nickname string) *MockClient {
	return &MockClient{
		ID:       types.ClientIdType(id),
		Nickname: types.NicknameType(nickname),
	}
}

func (m *MockClient) GetID() types.ClientIdType       { return m.ID }
func (m *MockClient) GetNickname() types.NicknameType { return m.Nickname }

func (m *MockClient) SendFrame(kind types.MessageType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, types.Frame{Type: kind, Payload: raw})
}

func (m *MockClient) SendRaw(data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, frame)
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isDisconnected = true
}

func (m *MockClient) IsDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isDisconnected
}

// FramesOfKind returns the frames of one kind, in receipt order.
func (m *MockClient) FramesOfKind(kind types.MessageType) []types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Frame
	for _, f := range m.Frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

// LastOfKind returns the most recent frame of one kind, failing the test if
// none arrived.
func (m *MockClient) LastOfKind(t *testing.T, kind types.MessageType) types.Frame {
	t.Helper()
	frames := m.FramesOfKind(kind)
	require.NotEmpty(t, frames, "expected at least one %s frame", kind)
	return frames[len(frames)-1]
}

// decodeAs unmarshals a frame payload into T.
func decodeAs[T any](t *testing.T, frame types.Frame) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	return payload
}

// MockBusService is a mock implementation of types.BusService for testing.
type MockBusService struct {
	mu             sync.Mutex
	publishCalls   []string
	subscribeCalls int
	handler        func(bus.PubSubPayload)
	failPublish    bool
}

func (m *MockBusService) Publish(ctx context.Context, roomCode string, event string, payload any, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPublish {
		return assert.AnError
	}
	m.publishCalls = append(m.publishCalls, roomCode+":"+event)
	return nil
}

func (m *MockBusService) Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(bus.PubSubPayload)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls++
	m.handler = handler
}

func (m *MockBusService) Ping(ctx context.Context) error { return nil }
func (m *MockBusService) Close() error                   { return nil }

// Deliver simulates a message arriving from another instance.
func (m *MockBusService) Deliver(p bus.PubSubPayload) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(p)
	}
}

func (m *MockBusService) PublishCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.publishCalls...)
}

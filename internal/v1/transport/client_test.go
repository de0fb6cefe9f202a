package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

func TestClient_SendRawAfterDisconnectIsSafe(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	client := newClient(h, conn)

	client.Disconnect()

	// Must not panic and must not enqueue.
	client.SendRaw([]byte(`{"type":"chat-message"}`))
	client.SendFrame(types.MsgError, types.ErrorPayload{Reason: "late"})
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	client := newClient(h, conn)

	client.Disconnect()
	client.Disconnect()
}

func TestClient_FullSendBufferDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	client := newClient(h, conn)
	// No write pump running: the buffer only fills.

	for i := 0; i < 300; i++ {
		client.SendRaw([]byte(`{"type":"chat-message"}`))
	}

	// 256 queued, the rest dropped; the caller was never blocked.
	assert.Len(t, client.send, 256)
}

func TestClient_IdentityIsSet(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	client := newClient(h, conn)

	client.setIdentity("alice", "Alice")
	assert.Equal(t, types.ClientIdType("alice"), client.GetID())
	assert.Equal(t, types.NicknameType("Alice"), client.GetNickname())
}

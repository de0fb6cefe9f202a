package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestNewService_Unreachable(t *testing.T) {
	_, err := NewService("127.0.0.1:1", "")
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	roomCode := "ABC123"

	// Subscribe manually to check if message arrives
	sub := svc.Client().Subscribe(ctx, "watch:room:"+roomCode)
	defer func() { _ = sub.Close() }()

	// Wait for subscription to be active
	time.Sleep(50 * time.Millisecond)

	payload := map[string]string{"text": "hello"}
	err := svc.Publish(ctx, roomCode, "chat-message", payload, "instance-1")
	assert.NoError(t, err)

	// Receive
	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope PubSubPayload
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, roomCode, envelope.RoomCode)
	assert.Equal(t, "chat-message", envelope.Event)
	assert.Equal(t, "instance-1", envelope.SenderID)

	var inner map[string]string
	require.NoError(t, json.Unmarshal(envelope.Payload, &inner))
	assert.Equal(t, "hello", inner["text"])
}

func TestSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	received := make(chan PubSubPayload, 1)

	svc.Subscribe(ctx, "ABC123", &wg, func(p PubSubPayload) {
		select {
		case received <- p:
		default:
		}
	})

	// Wait for subscription to be active
	time.Sleep(50 * time.Millisecond)

	err := svc.Publish(ctx, "ABC123", "video-control", map[string]any{"version": 3}, "instance-2")
	require.NoError(t, err)

	select {
	case p := <-received:
		assert.Equal(t, "ABC123", p.RoomCode)
		assert.Equal(t, "video-control", p.Event)
		assert.Equal(t, "instance-2", p.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribed message")
	}

	// Cancelling the context must wind the subscriber down.
	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber goroutine did not exit on cancel")
	}
}

func TestPublish_NilServiceIsNoop(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Publish(context.Background(), "ABC123", "chat-message", nil, "instance-1"))
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())
}

func TestPing_AfterRedisGoesAway(t *testing.T) {
	svc, mr := newTestService(t)
	defer func() { _ = svc.Close() }()

	require.NoError(t, svc.Ping(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, svc.Ping(ctx))
}

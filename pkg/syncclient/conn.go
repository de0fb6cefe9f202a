package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

// Handlers receives inbound frames. Nil entries drop their frame kind.
type Handlers struct {
	OnRoomState    func(types.RoomStatePayload)
	OnVideoControl func(types.VideoControlEvent)
	OnVideoLoaded  func(types.VideoLoadedEvent)
	OnChat         func(types.ChatMessage)
	OnUserJoined   func(types.UserJoinedPayload)
	OnUserLeft     func(types.UserLeftPayload)
	OnUserCount    func(types.UserCountPayload)
	OnAck          func(types.AckPayload)
	OnError        func(types.ErrorPayload)
}

// Conn is a WebSocket connection to the hub. It implements Sender, so an
// Engine can emit controls through it. Reconnection is the caller's concern;
// a rejoin always receives a fresh room-state.
type Conn struct {
	ws       *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex
	seq     atomic.Int64
}

// Dial connects to a hub WebSocket endpoint (ws://host/ws).
func Dial(ctx context.Context, url string, handlers Handlers) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, handlers: handlers}, nil
}

// Join sends a join-room request and returns the seq the ack will carry.
func (c *Conn) Join(ctx context.Context, roomCode string, userID types.ClientIdType, nickname string) (int64, error) {
	return c.sendWithSeq(ctx, types.MsgJoinRoom, types.JoinRoomPayload{
		RoomCode: roomCode,
		UserID:   userID,
		Nickname: nickname,
	})
}

// Leave sends a leave-room request.
func (c *Conn) Leave(ctx context.Context, roomCode string, userID types.ClientIdType) error {
	return c.send(ctx, types.MsgLeaveRoom, 0, types.LeaveRoomPayload{RoomCode: roomCode, UserID: userID})
}

// Chat sends a chat line.
func (c *Conn) Chat(ctx context.Context, payload types.ChatSendPayload) error {
	return c.send(ctx, types.MsgChatMessage, 0, payload)
}

// LoadVideo declares the room's current video and returns the request seq.
func (c *Conn) LoadVideo(ctx context.Context, payload types.VideoLoadPayload) (int64, error) {
	return c.sendWithSeq(ctx, types.MsgVideoLoaded, payload)
}

// SendControl implements Sender.
func (c *Conn) SendControl(ctx context.Context, payload types.VideoControlPayload) error {
	_, err := c.sendWithSeq(ctx, types.MsgVideoControl, payload)
	return err
}

// Listen reads frames and dispatches them to the handlers until the
// connection closes or ctx is cancelled.
func (c *Conn) Listen(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		c.dispatch(&frame)
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) dispatch(frame *types.Frame) {
	switch frame.Type {
	case types.MsgRoomState:
		dispatchTo(frame, c.handlers.OnRoomState)
	case types.MsgVideoControl:
		dispatchTo(frame, c.handlers.OnVideoControl)
	case types.MsgVideoLoaded:
		dispatchTo(frame, c.handlers.OnVideoLoaded)
	case types.MsgChatMessage:
		dispatchTo(frame, c.handlers.OnChat)
	case types.MsgUserJoined:
		dispatchTo(frame, c.handlers.OnUserJoined)
	case types.MsgUserLeft:
		dispatchTo(frame, c.handlers.OnUserLeft)
	case types.MsgUserCountUpdate:
		dispatchTo(frame, c.handlers.OnUserCount)
	case types.MsgAck:
		dispatchTo(frame, c.handlers.OnAck)
	case types.MsgError:
		dispatchTo(frame, c.handlers.OnError)
	}
}

func dispatchTo[T any](frame *types.Frame, handler func(T)) {
	if handler == nil {
		return
	}
	var payload T
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	handler(payload)
}

func (c *Conn) sendWithSeq(ctx context.Context, kind types.MessageType, payload any) (int64, error) {
	seq := c.seq.Add(1)
	if err := c.send(ctx, kind, seq, payload); err != nil {
		return 0, err
	}
	return seq, nil
}

func (c *Conn) send(ctx context.Context, kind types.MessageType, seq int64, payload any) error {
	frame, err := types.NewFrame(kind, payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	frame.Seq = seq

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

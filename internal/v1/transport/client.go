package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/metrics"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/room"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single viewer's connection. It implements
// types.ClientInterface. A connection holds at most one room membership;
// the bound room is the only route for its inbound frames.
type Client struct {
	conn wsConnection
	hub  *Hub

	mu        sync.RWMutex
	id        types.ClientIdType
	nickname  types.NicknameType
	boundRoom *room.Room
	closed    bool

	closeOnce sync.Once
	send      chan []byte // Buffered channel feeding the write pump
}

func newClient(hub *Hub, conn wsConnection) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// --- types.ClientInterface ---

func (c *Client) GetID() types.ClientIdType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Client) GetNickname() types.NicknameType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

// SendFrame marshals and enqueues a single typed frame for this client.
func (c *Client) SendFrame(kind types.MessageType, payload any) {
	frame, err := types.NewFrame(kind, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal frame", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal envelope", zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw enqueues pre-serialized bytes. A full or closed channel drops the
// frame with a log entry; one slow consumer must not stall its peers.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("user_id", string(c.id)))
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendRaw", zap.String("user_id", string(c.id)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full or closed", zap.String("user_id", string(c.id)))
	}
}

// Disconnect forcefully closes the connection. Closing the send channel
// makes the write pump drain its buffer, send a close frame, and exit.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// --- binding ---

func (c *Client) setRoom(r *room.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundRoom = r
}

func (c *Client) getRoom() *room.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.boundRoom
}

func (c *Client) setIdentity(id types.ClientIdType, nickname types.NicknameType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.nickname = nickname
}

// readPump continuously processes incoming frames from the viewer. On
// transport close it enqueues the synthetic leave for the bound membership.
func (c *Client) readPump() {
	defer func() {
		if r := c.getRoom(); r != nil {
			r.HandleClientDisconnect(context.Background(), c)
		}
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frames are dropped silently with a log entry.
			logging.Warn(context.Background(), "Failed to unmarshal frame", zap.String("user_id", string(c.GetID())), zap.Error(err))
			metrics.WebsocketEvents.WithLabelValues("malformed", "dropped").Inc()
			continue
		}

		ctx := context.Background()
		c.hub.route(ctx, c, &frame)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
}

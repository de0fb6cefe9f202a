package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/metrics"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/ratelimit"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/room"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// Hub is the room registry and the connection gateway. It maps room codes to
// live rooms, creating on first join and destroying eagerly when the last
// member leaves, and routes every inbound frame to the connection's bound
// room.
type Hub struct {
	rooms map[types.RoomCodeType]*room.Room
	mu    sync.Mutex // Protects concurrent access to the rooms map

	roomOpts       room.Options
	busSvc         types.BusService
	instanceID     string
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
}

// NewHub creates a Hub and configures it with its dependencies. busSvc may be
// nil for single-instance deployments.
func NewHub(opts room.Options, busSvc types.BusService, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	return &Hub{
		rooms:          make(map[types.RoomCodeType]*room.Room),
		roomOpts:       opts,
		busSvc:         busSvc,
		instanceID:     uuid.New().String(),
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
	}
}

// ServeWs upgrades to a WebSocket connection and starts the message pumps.
// The connection stays unbound until its first join-room frame.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection takes an established WebSocket connection and starts its
// pumps. Exposed separately so tests can drive a fake connection.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := newClient(h, conn)
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
	return client
}

// route dispatches one inbound frame. Frames other than join-room require a
// bound membership; unbound frames are dropped with a log entry.
func (h *Hub) route(ctx context.Context, c *Client, frame *types.Frame) {
	switch frame.Type {
	case types.MsgJoinRoom:
		h.handleJoin(ctx, c, frame)

	case types.MsgLeaveRoom:
		var payload types.LeaveRoomPayload
		if !decodePayload(ctx, c, frame, &payload) {
			return
		}
		if r := c.getRoom(); r != nil {
			r.HandleLeave(ctx, c.GetID())
			c.setRoom(nil)
		}
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ok").Inc()

	case types.MsgChatMessage:
		var payload types.ChatSendPayload
		if !decodePayload(ctx, c, frame, &payload) {
			return
		}
		r := c.getRoom()
		if r == nil {
			dropUnbound(ctx, c, frame)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.AllowChat(ctx, string(c.GetID())) {
			logging.Warn(ctx, "Chat rate limit exceeded", zap.String("user_id", string(c.GetID())))
			metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "rate_limited").Inc()
			return
		}
		r.HandleChat(ctx, c, payload, frame.Seq)
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ok").Inc()

	case types.MsgVideoLoaded:
		var payload types.VideoLoadPayload
		if !decodePayload(ctx, c, frame, &payload) {
			return
		}
		r := c.getRoom()
		if r == nil {
			dropUnbound(ctx, c, frame)
			return
		}
		r.HandleVideoLoad(ctx, c, payload, frame.Seq)
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ok").Inc()

	case types.MsgVideoControl:
		var payload types.VideoControlPayload
		if !decodePayload(ctx, c, frame, &payload) {
			return
		}
		r := c.getRoom()
		if r == nil {
			dropUnbound(ctx, c, frame)
			return
		}
		r.HandleVideoControl(ctx, c, payload, frame.Seq)
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ok").Inc()

	case "video-state-update", "timeupdate":
		// Legacy timestamp-based protocol and drift gossip. Ignored: the
		// version discipline replaces both.
		logging.Warn(ctx, "Ignoring legacy sync frame", zap.String("kind", string(frame.Type)), zap.String("user_id", string(c.GetID())))
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ignored").Inc()

	default:
		logging.Warn(ctx, "Unknown frame type", zap.String("kind", string(frame.Type)), zap.String("user_id", string(c.GetID())))
		metrics.WebsocketEvents.WithLabelValues("unknown", "dropped").Inc()
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, frame *types.Frame) {
	var payload types.JoinRoomPayload
	if !decodePayload(ctx, c, frame, &payload) {
		return
	}

	code, err := types.NormalizeRoomCode(payload.RoomCode)
	if err != nil {
		logging.Warn(ctx, "Rejecting join", zap.String("raw_code", payload.RoomCode), zap.Error(err))
		if frame.Seq != 0 {
			c.SendFrame(types.MsgAck, types.AckPayload{Seq: frame.Seq, OK: false, Reason: room.ReasonBadRequest})
		}
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "rejected").Inc()
		return
	}
	if payload.UserID == "" {
		if frame.Seq != 0 {
			c.SendFrame(types.MsgAck, types.AckPayload{Seq: frame.Seq, OK: false, Reason: room.ReasonBadRequest})
		}
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "rejected").Inc()
		return
	}

	// A connection holds at most one membership. Joining while bound leaves
	// the previous room first — unless this is a retry of the join it already
	// holds, where leaving first would empty the room and reap it. The
	// replacement path in HandleJoin resends room-state for retries.
	if prev := c.getRoom(); prev != nil {
		if prev.Code() == code && c.GetID() == payload.UserID {
			c.setIdentity(payload.UserID, types.SanitizeNickname(payload.Nickname))
			if prev.HandleJoin(ctx, c, frame.Seq) {
				metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ok").Inc()
				return
			}
			// The bound room was destroyed under us; rejoin fresh below.
			c.setRoom(nil)
		} else {
			prev.HandleLeave(ctx, c.GetID())
			c.setRoom(nil)
		}
	}

	c.setIdentity(payload.UserID, types.SanitizeNickname(payload.Nickname))

	// HandleJoin can race with the eager reap of an emptying room; retry
	// against a fresh room until admission succeeds.
	for {
		r := h.getOrCreateRoom(ctx, code)
		if r.HandleJoin(ctx, c, frame.Seq) {
			c.setRoom(r)
			break
		}
	}

	logging.Info(ctx, "Client joined room",
		zap.String("room_code", string(code)),
		zap.String("user_id", string(payload.UserID)))
	metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "ok").Inc()
}

// GetRoom retrieves the Room for a code without creating it.
func (h *Hub) GetRoom(code types.RoomCodeType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[code]
}

// getOrCreateRoom retrieves the Room for a code, creating it on first join.
func (h *Hub) getOrCreateRoom(ctx context.Context, code types.RoomCodeType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[code]; ok {
		return r
	}

	logging.Info(ctx, "Creating room", zap.String("room_code", string(code)))
	r := room.NewRoom(context.Background(), code, h.roomOpts, h.destroyRoom, h.busSvc, h.instanceID)
	h.rooms[code] = r

	metrics.ActiveRooms.Inc()
	return r
}

// destroyRoom is the eager-reap callback: the emptying room invokes it inside
// its own critical section, so a subsequent join observes either nothing or a
// fresh room with version 0 and empty chat.
func (h *Hub) destroyRoom(code types.RoomCodeType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[code]; !ok {
		return
	}
	delete(h.rooms, code)
	metrics.ActiveRooms.Dec()
	logging.Info(context.Background(), "Destroyed empty room", zap.String("room_code", string(code)))
}

// RoomInfo handles GET /api/room/:code.
func (h *Hub) RoomInfo(c *gin.Context) {
	code, err := types.NormalizeRoomCode(c.Param("roomCode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room code"})
		return
	}

	r := h.GetRoom(code)
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, r.Snapshot())
}

// Shutdown gracefully closes all active rooms and connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all active rooms...")

	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[types.RoomCodeType]*room.Room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.CloseRoom("Server shutting down")
		if err := r.Shutdown(ctx); err != nil {
			logging.Warn(ctx, "Room shutdown timed out", zap.String("room_code", string(r.Code())), zap.Error(err))
		}
		metrics.ActiveRooms.Dec()
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}

func decodePayload(ctx context.Context, c *Client, frame *types.Frame, dst any) bool {
	if len(frame.Payload) == 0 {
		logging.Warn(ctx, "Frame with empty payload", zap.String("kind", string(frame.Type)), zap.String("user_id", string(c.GetID())))
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "malformed").Inc()
		return false
	}
	if err := json.Unmarshal(frame.Payload, dst); err != nil {
		logging.Warn(ctx, "Malformed frame payload", zap.String("kind", string(frame.Type)), zap.Error(err))
		metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "malformed").Inc()
		return false
	}
	return true
}

func dropUnbound(ctx context.Context, c *Client, frame *types.Frame) {
	logging.Warn(ctx, "Frame from unbound connection", zap.String("kind", string(frame.Type)), zap.String("user_id", string(c.GetID())))
	metrics.WebsocketEvents.WithLabelValues(string(frame.Type), "unbound").Inc()
}

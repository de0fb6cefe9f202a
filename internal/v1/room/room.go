package room

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/bus"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/metrics"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// Options carries the per-room tunables the registry hands down from config.
type Options struct {
	ChatHistoryCap     int // ring buffer capacity, default 100
	RoomStateChatSlice int // chat slice sent to joiners, default 50
}

func (o Options) withDefaults() Options {
	if o.ChatHistoryCap <= 0 {
		o.ChatHistoryCap = 100
	}
	if o.RoomStateChatSlice <= 0 {
		o.RoomStateChatSlice = 50
	}
	if o.RoomStateChatSlice > o.ChatHistoryCap {
		o.RoomStateChatSlice = o.ChatHistoryCap
	}
	return o
}

// member pairs a UserHandle with its live connection.
type member struct {
	info   types.UserInfo
	client types.ClientInterface
}

// Room is the coordination namespace for one watch party. All mutation goes
// through its mutex: concurrent requests are linearised into a total order,
// which is what makes the version discipline sound.
type Room struct {
	code types.RoomCodeType

	mu        sync.Mutex
	members   map[types.ClientIdType]*member
	chat      *list.List
	video     *types.VideoDescriptor
	playback  *types.PlaybackState
	createdAt time.Time
	destroyed bool

	opts    Options
	onEmpty func(types.RoomCodeType)

	busSvc     types.BusService
	instanceID string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoom creates a Room. onEmpty is invoked inside the room's critical
// section the moment the last member leaves; the registry must remove the
// room before releasing its own lock so the reap is externally atomic.
func NewRoom(ctx context.Context, code types.RoomCodeType, opts Options, onEmpty func(types.RoomCodeType), busSvc types.BusService, instanceID string) *Room {
	r := &Room{
		code:       code,
		members:    make(map[types.ClientIdType]*member),
		chat:       list.New(),
		createdAt:  time.Now().UTC(),
		opts:       opts.withDefaults(),
		onEmpty:    onEmpty,
		busSvc:     busSvc,
		instanceID: instanceID,
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	if busSvc != nil {
		r.subscribeToBus()
	}

	return r
}

// Code returns the room code.
func (r *Room) Code() types.RoomCodeType {
	return r.code
}

// UserCount returns the current member count.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Info is the read-only view served by GET /api/room/:code.
type Info struct {
	Code         types.RoomCodeType     `json:"code"`
	UserCount    int                    `json:"userCount"`
	CurrentVideo *types.VideoDescriptor `json:"currentVideo,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Snapshot returns the room's public view.
func (r *Room) Snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		Code:         r.code,
		UserCount:    len(r.members),
		CurrentVideo: r.video,
		CreatedAt:    r.createdAt,
	}
}

// HandleJoin admits a client. If the same userId is already present, the
// prior handle is replaced and its connection closed asynchronously; peers
// see exactly one user-joined for the net change. Returns false when the
// room has already been destroyed, in which case the caller must retry
// against a fresh room.
func (r *Room) HandleJoin(ctx context.Context, client types.ClientInterface, seq int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return false
	}

	id := client.GetID()
	replaced := false
	if prev, exists := r.members[id]; exists {
		replaced = true
		logging.Info(ctx, "Duplicate join, replacing prior handle",
			zap.String("room_code", string(r.code)),
			zap.String("user_id", string(id)))
		// Orphan the old connection; its writes will fail and it will close.
		// A retry on the same connection keeps it.
		if prev.client != client {
			go prev.client.Disconnect()
		}
	}

	m := &member{
		info:   types.UserInfo{ID: id, Nickname: client.GetNickname()},
		client: client,
	}
	r.members[id] = m

	metrics.RoomMembers.WithLabelValues(string(r.code)).Set(float64(len(r.members)))

	// 1) room-state to the joiner.
	client.SendFrame(types.MsgRoomState, r.roomStateLocked())
	if seq != 0 {
		client.SendFrame(types.MsgAck, types.AckPayload{Seq: seq, OK: true})
	}

	// 2) user-joined + user-count-update to everyone else, only on net change.
	if !replaced {
		count := len(r.members)
		r.broadcastLocked(types.MsgUserJoined, types.UserJoinedPayload{User: m.info, UserCount: count}, id)
		r.broadcastLocked(types.MsgUserCountUpdate, types.UserCountPayload{Count: count}, id)
		r.appendSystemChatLocked(string(m.info.Nickname) + " joined the room")
	}

	return true
}

// HandleLeave removes a membership if present and reaps the room when empty.
func (r *Room) HandleLeave(ctx context.Context, userID types.ClientIdType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMemberLocked(ctx, userID)
}

// HandleClientDisconnect is the synthetic leave the gateway enqueues on
// transport close. It only removes the membership if this connection still
// owns it; a handle replaced by a rejoin must not evict its successor.
func (r *Room) HandleClientDisconnect(ctx context.Context, client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := client.GetID()
	m, exists := r.members[id]
	if !exists || m.client != client {
		return
	}
	r.removeMemberLocked(ctx, id)
}

func (r *Room) removeMemberLocked(ctx context.Context, userID types.ClientIdType) {
	if _, exists := r.members[userID]; !exists {
		return
	}
	delete(r.members, userID)

	count := len(r.members)
	logging.Info(ctx, "Member left room",
		zap.String("room_code", string(r.code)),
		zap.String("user_id", string(userID)),
		zap.Int("remaining", count))

	if count == 0 {
		metrics.RoomMembers.DeleteLabelValues(string(r.code))
		r.destroyed = true
		r.cancel()
		if r.onEmpty != nil {
			r.onEmpty(r.code)
		}
		return
	}

	metrics.RoomMembers.WithLabelValues(string(r.code)).Set(float64(count))
	r.broadcastLocked(types.MsgUserLeft, types.UserLeftPayload{UserID: userID, UserCount: count}, "")
	r.broadcastLocked(types.MsgUserCountUpdate, types.UserCountPayload{Count: count}, "")
}

// roomStateLocked assembles the snapshot a joining connection receives.
func (r *Room) roomStateLocked() types.RoomStatePayload {
	users := make([]types.UserInfo, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, m.info)
	}
	return types.RoomStatePayload{
		Users:        users,
		Messages:     r.recentChatsLocked(r.opts.RoomStateChatSlice),
		CurrentVideo: r.video,
		Playback:     r.playback,
	}
}

// broadcastLocked marshals a frame once and enqueues it on every member's
// send channel, optionally excluding one userId. Per-connection write
// failures are the transport's problem; the state change never rolls back.
func (r *Room) broadcastLocked(kind types.MessageType, payload any, exclude types.ClientIdType) {
	start := time.Now()
	frame, err := types.NewFrame(kind, payload)
	if err != nil {
		logging.Error(r.ctx, "Failed to marshal broadcast frame",
			zap.String("room_code", string(r.code)), zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(r.ctx, "Failed to marshal broadcast envelope",
			zap.String("room_code", string(r.code)), zap.Error(err))
		return
	}

	for id, m := range r.members {
		if exclude != "" && id == exclude {
			continue
		}
		m.client.SendRaw(data)
	}
	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())

	r.publishToBus(kind, payload)
}

// publishToBus mirrors a broadcast to other instances. Best-effort; the bus
// drops messages rather than failing the local broadcast.
func (r *Room) publishToBus(kind types.MessageType, payload any) {
	if r.busSvc == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.busSvc.Publish(context.Background(), string(r.code), string(kind), payload, r.instanceID); err != nil {
			logging.Warn(r.ctx, "Bus publish failed", zap.String("room_code", string(r.code)), zap.Error(err))
		}
	}()
}

// subscribeToBus applies room events published by other instances to the
// local members. Sender echo is suppressed by instance ID.
func (r *Room) subscribeToBus() {
	r.busSvc.Subscribe(r.ctx, string(r.code), &r.wg, func(p bus.PubSubPayload) {
		if p.SenderID == r.instanceID {
			return
		}
		r.applyRemoteEvent(p)
	})
}

func (r *Room) applyRemoteEvent(p bus.PubSubPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := types.MessageType(p.Event)
	switch kind {
	case types.MsgVideoControl:
		// Adopt the remote state only if it is ahead of ours; the version
		// gate keeps instances from ping-ponging stale transitions.
		var ev types.VideoControlEvent
		if err := json.Unmarshal(p.Payload, &ev); err != nil {
			logging.Warn(r.ctx, "Bad remote video-control payload", zap.Error(err))
			return
		}
		if r.playback != nil && ev.State.Version <= r.playback.Version {
			return
		}
		st := ev.State
		r.playback = &st
	case types.MsgVideoLoaded:
		// Install the descriptor and reset state so local members' controls
		// for the remotely loaded video pass the acceptance check. Same gate
		// as controls: loads carry version prev+1 on the loading instance.
		var ev types.VideoLoadedEvent
		if err := json.Unmarshal(p.Payload, &ev); err != nil {
			logging.Warn(r.ctx, "Bad remote video-loaded payload", zap.Error(err))
			return
		}
		if r.playback != nil && ev.State.Version <= r.playback.Version {
			return
		}
		video := ev.Video
		st := ev.State
		r.video = &video
		r.playback = &st
	case types.MsgChatMessage:
		var msg types.ChatMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			logging.Warn(r.ctx, "Bad remote chat payload", zap.Error(err))
			return
		}
		r.appendChatLocked(msg)
	}

	// Re-deliver the frame to local members without republishing.
	frame := &types.Frame{Type: kind, Payload: p.Payload}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for _, m := range r.members {
		m.client.SendRaw(data)
	}
}

// CloseRoom disconnects all members with a reason. Used at server shutdown;
// normal lifecycle reaps rooms the moment they empty.
func (r *Room) CloseRoom(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logging.Info(r.ctx, "Closing room", zap.String("room_code", string(r.code)), zap.String("reason", reason))
	r.destroyed = true
	r.cancel()

	r.broadcastLocked(types.MsgError, types.ErrorPayload{Reason: reason}, "")
	for _, m := range r.members {
		m.client.Disconnect()
	}
	r.members = make(map[types.ClientIdType]*member)
	metrics.RoomMembers.DeleteLabelValues(string(r.code))
}

// Shutdown waits for the room's background work (bus publishes, subscriber)
// to drain.
func (r *Room) Shutdown(ctx context.Context) error {
	r.cancel()

	c := make(chan struct{})
	go func() {
		defer close(c)
		r.wg.Wait()
	}()

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

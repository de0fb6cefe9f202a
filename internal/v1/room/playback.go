package room

import (
	"context"
	"time"

	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/metrics"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// Rejection reasons carried in nack frames.
const (
	ReasonBadRequest    = "bad-request"
	ReasonVideoMismatch = "video-mismatch"
)

// HandleVideoLoad installs a new current video and resets playback to paused
// at t=0. The version counter keeps climbing across loads so late joiners can
// always order what they hear.
func (r *Room) HandleVideoLoad(ctx context.Context, client types.ClientInterface, payload types.VideoLoadPayload, seq int64) {
	desc := payload.Video
	if desc.StorageKey == "" {
		desc.StorageKey = desc.ID
	}
	if err := desc.Validate(); err != nil {
		logging.Warn(ctx, "Rejecting video-loaded",
			zap.String("room_code", string(r.code)),
			zap.String("user_id", string(client.GetID())),
			zap.Error(err))
		nack(client, seq, ReasonBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var prev uint64
	if r.playback != nil {
		prev = r.playback.Version
	}

	r.video = &desc
	r.playback = &types.PlaybackState{
		Version:       prev + 1,
		VideoID:       desc.ID,
		CurrentTime:   0,
		IsPlaying:     false,
		LastUpdatedBy: client.GetID(),
		LastUpdatedAt: time.Now().UTC(),
	}

	logging.Info(ctx, "Video loaded",
		zap.String("room_code", string(r.code)),
		zap.String("video_id", desc.ID),
		zap.Uint64("version", r.playback.Version))

	sender := r.members[client.GetID()]
	user := types.UserInfo{ID: client.GetID(), Nickname: client.GetNickname()}
	if sender != nil {
		user = sender.info
	}

	r.broadcastLocked(types.MsgVideoLoaded, types.VideoLoadedEvent{
		Video: desc,
		State: *r.playback,
		User:  user,
	}, client.GetID())

	if seq != 0 {
		client.SendFrame(types.MsgAck, types.AckPayload{Seq: seq, OK: true, Version: r.playback.Version})
	}

	r.appendSystemChatLocked(string(user.Nickname) + " loaded " + desc.Name)
}

// HandleVideoControl applies one play/pause/seek transition. Every accepted
// control bumps the version by exactly one and is broadcast to all members,
// including the originator, so it can record the version it now owns.
// Periodic time-drift gossip is not a control and never reaches this path.
func (r *Room) HandleVideoControl(ctx context.Context, client types.ClientInterface, payload types.VideoControlPayload, seq int64) {
	if payload.CurrentTime < 0 {
		nack(client, seq, ReasonBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Acceptance rule: the control must reference the currently loaded video.
	if r.playback == nil || payload.VideoID != r.playback.VideoID {
		metrics.WebsocketEvents.WithLabelValues(string(types.MsgVideoControl), "rejected").Inc()
		nack(client, seq, ReasonVideoMismatch)
		return
	}

	st := r.playback
	switch payload.Action {
	case types.ActionPlay:
		st.IsPlaying = true
		st.CurrentTime = payload.CurrentTime
	case types.ActionPause:
		st.IsPlaying = false
		st.CurrentTime = payload.CurrentTime
	case types.ActionSeek:
		st.CurrentTime = payload.CurrentTime
		// A seek during playback stays playing; a seek while paused stays
		// paused, unless the payload explicitly carries liveness.
		if payload.IsPlaying != nil {
			st.IsPlaying = *payload.IsPlaying
		}
	default:
		metrics.WebsocketEvents.WithLabelValues(string(types.MsgVideoControl), "rejected").Inc()
		nack(client, seq, ReasonBadRequest)
		return
	}

	st.Version++
	st.LastUpdatedBy = client.GetID()
	st.LastUpdatedAt = time.Now().UTC()

	metrics.PlaybackTransitions.WithLabelValues(string(payload.Action)).Inc()

	r.broadcastLocked(types.MsgVideoControl, types.VideoControlEvent{State: *st}, "")

	if seq != 0 {
		client.SendFrame(types.MsgAck, types.AckPayload{Seq: seq, OK: true, Version: st.Version})
	}
}

// Playback returns a copy of the current authoritative state, or nil when no
// video has been loaded.
func (r *Room) Playback() *types.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playback == nil {
		return nil
	}
	st := *r.playback
	return &st
}

func nack(client types.ClientInterface, seq int64, reason string) {
	if seq == 0 {
		return
	}
	client.SendFrame(types.MsgAck, types.AckPayload{Seq: seq, OK: false, Reason: reason})
}

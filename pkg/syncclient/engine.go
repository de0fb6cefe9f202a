// Package syncclient implements the protocol side of a synchronized viewer:
// it applies server-sequenced playback states to a local Player and turns
// local player actions into video-control requests, without echo loops.
package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

const (
	// applyQuiescence suppresses local player events for this long after a
	// remote state is applied, so the player's reactions to the apply are
	// not re-emitted as user intent.
	applyQuiescence = 150 * time.Millisecond

	// emitWindow and emitTimeBucket collapse duplicate emissions: an action
	// with the same 100ms-bucketed time within the window is dropped.
	emitWindow     = 150 * time.Millisecond
	emitTimeBucket = 100 * time.Millisecond

	// driftThreshold is the local/remote position gap, in seconds, beyond
	// which an applied state hard-seeks the player.
	driftThreshold = 0.35
)

// Player is the local playback surface the engine drives.
type Player interface {
	Play()
	Pause()
	SeekTo(seconds float64)
	CurrentTime() float64
}

// Sender delivers a control request to the room.
type Sender interface {
	SendControl(ctx context.Context, payload types.VideoControlPayload) error
}

// Engine mediates between a Player and a room's authoritative playback state.
// All methods are safe for concurrent use.
type Engine struct {
	player Player
	sender Sender

	roomCode string
	userID   types.ClientIdType

	mu            sync.Mutex
	now           func() time.Time
	version       uint64
	loadedVideoID string
	pending       *types.PlaybackState
	suppressUntil time.Time

	lastEmitAction types.ControlAction
	lastEmitBucket int64
	lastEmitAt     time.Time
	hasEmitted     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine for one membership.
func NewEngine(player Player, sender Sender, roomCode string, userID types.ClientIdType, opts ...Option) *Engine {
	e := &Engine{
		player:   player,
		sender:   sender,
		roomCode: roomCode,
		userID:   userID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyRemote applies a server-sequenced playback state to the player.
// States at or below the highest version already observed are dropped.
// A state for a video the player has not loaded yet is buffered (most
// recent only) until VideoReady.
func (e *Engine) ApplyRemote(state types.PlaybackState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state.Version <= e.version {
		return
	}
	e.version = state.Version

	if state.VideoID != "" && state.VideoID != e.loadedVideoID {
		buffered := state
		e.pending = &buffered
		return
	}
	e.applyLocked(state)
}

// VideoReady tells the engine the player finished loading a video. A pending
// state for that video is applied immediately.
func (e *Engine) VideoReady(videoID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loadedVideoID = videoID
	if e.pending != nil && e.pending.VideoID == videoID {
		state := *e.pending
		e.pending = nil
		e.applyLocked(state)
	}
}

// Version returns the highest playback version observed so far.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// applyLocked mutates the player and opens the quiescence window. Caller
// holds e.mu.
func (e *Engine) applyLocked(state types.PlaybackState) {
	e.suppressUntil = e.now().Add(applyQuiescence)

	diff := state.CurrentTime - e.player.CurrentTime()
	if diff > driftThreshold || diff < -driftThreshold {
		e.player.SeekTo(state.CurrentTime)
	}
	if state.IsPlaying {
		e.player.Play()
	} else {
		e.player.Pause()
	}
}

// LocalPlay reports that the local user pressed play.
func (e *Engine) LocalPlay(ctx context.Context) {
	playing := true
	e.emit(ctx, types.ActionPlay, e.player.CurrentTime(), &playing)
}

// LocalPause reports that the local user pressed pause.
func (e *Engine) LocalPause(ctx context.Context) {
	playing := false
	e.emit(ctx, types.ActionPause, e.player.CurrentTime(), &playing)
}

// LocalSeek reports that the local user scrubbed to a position. Liveness is
// left to the room's authoritative state.
func (e *Engine) LocalSeek(ctx context.Context, seconds float64) {
	e.emit(ctx, types.ActionSeek, seconds, nil)
}

func (e *Engine) emit(ctx context.Context, action types.ControlAction, currentTime float64, isPlaying *bool) {
	e.mu.Lock()

	now := e.now()
	if now.Before(e.suppressUntil) {
		// The player is reacting to a state we just applied.
		e.mu.Unlock()
		return
	}

	bucket := int64(currentTime * float64(time.Second) / float64(emitTimeBucket))
	if e.hasEmitted && action == e.lastEmitAction && bucket == e.lastEmitBucket && now.Sub(e.lastEmitAt) < emitWindow {
		e.mu.Unlock()
		return
	}
	e.lastEmitAction = action
	e.lastEmitBucket = bucket
	e.lastEmitAt = now
	e.hasEmitted = true
	videoID := e.loadedVideoID
	e.mu.Unlock()

	_ = e.sender.SendControl(ctx, types.VideoControlPayload{
		RoomCode:     e.roomCode,
		UserID:       e.userID,
		VideoID:      videoID,
		Action:       action,
		CurrentTime:  currentTime,
		IsPlaying:    isPlaying,
		ClientSentAt: now.UnixMilli(),
	})
}

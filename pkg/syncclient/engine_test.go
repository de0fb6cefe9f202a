package syncclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
)

// fakePlayer records the calls the engine makes against it.
type fakePlayer struct {
	mu       sync.Mutex
	playing  bool
	position float64
	seeks    []float64
	plays    int
	pauses   int
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	p.plays++
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.pauses++
}

func (p *fakePlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = seconds
	p.seeks = append(p.seeks, seconds)
}

func (p *fakePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) setPosition(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = seconds
}

// fakeSender records emitted controls.
type fakeSender struct {
	mu    sync.Mutex
	sent  []types.VideoControlPayload
}

func (s *fakeSender) SendControl(ctx context.Context, payload types.VideoControlPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) last(t *testing.T) types.VideoControlPayload {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *fakePlayer, *fakeSender, *fakeClock) {
	t.Helper()
	player := &fakePlayer{}
	sender := &fakeSender{}
	clock := newFakeClock()
	e := NewEngine(player, sender, "ABC123", "alice", WithClock(clock.Now))
	e.VideoReady("vid-1")
	return e, player, sender, clock
}

func TestApplyRemote_PlayAndPause(t *testing.T) {
	e, player, _, _ := newTestEngine(t)

	e.ApplyRemote(types.PlaybackState{Version: 1, VideoID: "vid-1", CurrentTime: 0, IsPlaying: true})
	assert.Equal(t, 1, player.plays)
	assert.True(t, player.playing)

	e.ApplyRemote(types.PlaybackState{Version: 2, VideoID: "vid-1", CurrentTime: 0, IsPlaying: false})
	assert.Equal(t, 1, player.pauses)
	assert.False(t, player.playing)

	assert.Equal(t, uint64(2), e.Version())
}

func TestApplyRemote_StaleVersionsDropped(t *testing.T) {
	e, player, _, _ := newTestEngine(t)

	e.ApplyRemote(types.PlaybackState{Version: 5, VideoID: "vid-1", IsPlaying: true})
	require.Equal(t, 1, player.plays)

	// Same and lower versions are ignored outright.
	e.ApplyRemote(types.PlaybackState{Version: 5, VideoID: "vid-1", IsPlaying: false})
	e.ApplyRemote(types.PlaybackState{Version: 3, VideoID: "vid-1", IsPlaying: false})

	assert.Equal(t, 0, player.pauses)
	assert.True(t, player.playing)
	assert.Equal(t, uint64(5), e.Version())
}

func TestApplyRemote_DriftTriggersHardSeek(t *testing.T) {
	e, player, _, _ := newTestEngine(t)
	player.setPosition(10.0)

	// Inside the tolerance window: no seek.
	e.ApplyRemote(types.PlaybackState{Version: 1, VideoID: "vid-1", CurrentTime: 10.3, IsPlaying: true})
	assert.Empty(t, player.seeks)

	// Beyond it: hard seek.
	e.ApplyRemote(types.PlaybackState{Version: 2, VideoID: "vid-1", CurrentTime: 10.8, IsPlaying: true})
	require.Len(t, player.seeks, 1)
	assert.Equal(t, 10.8, player.seeks[0])

	// Drift is symmetric.
	e.ApplyRemote(types.PlaybackState{Version: 3, VideoID: "vid-1", CurrentTime: 5.0, IsPlaying: true})
	require.Len(t, player.seeks, 2)
	assert.Equal(t, 5.0, player.seeks[1])
}

func TestApplyRemote_UnloadedVideoBuffersMostRecent(t *testing.T) {
	e, player, _, _ := newTestEngine(t)

	// States for a video the player has not loaded yet must not touch it.
	e.ApplyRemote(types.PlaybackState{Version: 3, VideoID: "vid-2", CurrentTime: 30, IsPlaying: false})
	e.ApplyRemote(types.PlaybackState{Version: 4, VideoID: "vid-2", CurrentTime: 45, IsPlaying: true})
	assert.Equal(t, 0, player.plays)
	assert.Equal(t, 0, player.pauses)

	// Only the most recent buffered state is applied on readiness.
	e.VideoReady("vid-2")
	assert.Equal(t, 1, player.plays)
	require.Len(t, player.seeks, 1)
	assert.Equal(t, 45.0, player.seeks[0])
}

func TestVideoReady_UnrelatedVideoLeavesPendingAlone(t *testing.T) {
	e, player, _, _ := newTestEngine(t)

	e.ApplyRemote(types.PlaybackState{Version: 2, VideoID: "vid-2", CurrentTime: 30, IsPlaying: true})
	e.VideoReady("vid-3")
	assert.Equal(t, 0, player.plays)

	e.VideoReady("vid-2")
	assert.Equal(t, 1, player.plays)
}

func TestEmit_SuppressedDuringApplyQuiescence(t *testing.T) {
	e, _, sender, clock := newTestEngine(t)

	e.ApplyRemote(types.PlaybackState{Version: 1, VideoID: "vid-1", CurrentTime: 0, IsPlaying: true})

	// The player fires a play event as it obeys the apply; it must not echo.
	e.LocalPlay(context.Background())
	assert.Equal(t, 0, sender.count())

	// After the quiescence window, genuine user intent goes through.
	clock.Advance(200 * time.Millisecond)
	e.LocalPlay(context.Background())
	assert.Equal(t, 1, sender.count())
}

func TestEmit_DebounceCollapsesDuplicates(t *testing.T) {
	e, player, sender, clock := newTestEngine(t)
	player.setPosition(12.34)

	e.LocalPause(context.Background())
	require.Equal(t, 1, sender.count())

	// Same action, same 100ms time bucket, inside the window: collapsed.
	player.setPosition(12.36)
	e.LocalPause(context.Background())
	assert.Equal(t, 1, sender.count())

	// Different bucket: emitted.
	player.setPosition(12.50)
	e.LocalPause(context.Background())
	assert.Equal(t, 2, sender.count())

	// Same bucket again but outside the window: emitted.
	clock.Advance(200 * time.Millisecond)
	e.LocalPause(context.Background())
	assert.Equal(t, 3, sender.count())
}

func TestEmit_DifferentActionsNotCollapsed(t *testing.T) {
	e, player, sender, _ := newTestEngine(t)
	player.setPosition(5.0)

	e.LocalPause(context.Background())
	e.LocalPlay(context.Background())
	assert.Equal(t, 2, sender.count())
}

func TestEmit_PlayPauseCarryExplicitLiveness(t *testing.T) {
	e, player, sender, clock := newTestEngine(t)
	player.setPosition(7.0)

	e.LocalPlay(context.Background())
	payload := sender.last(t)
	assert.Equal(t, types.ActionPlay, payload.Action)
	require.NotNil(t, payload.IsPlaying)
	assert.True(t, *payload.IsPlaying)
	assert.Equal(t, "ABC123", payload.RoomCode)
	assert.Equal(t, types.ClientIdType("alice"), payload.UserID)
	assert.Equal(t, "vid-1", payload.VideoID)
	assert.NotZero(t, payload.ClientSentAt)

	clock.Advance(200 * time.Millisecond)
	e.LocalPause(context.Background())
	payload = sender.last(t)
	assert.Equal(t, types.ActionPause, payload.Action)
	require.NotNil(t, payload.IsPlaying)
	assert.False(t, *payload.IsPlaying)
}

func TestEmit_SeekLeavesLivenessToServer(t *testing.T) {
	e, _, sender, _ := newTestEngine(t)

	e.LocalSeek(context.Background(), 33.3)
	payload := sender.last(t)
	assert.Equal(t, types.ActionSeek, payload.Action)
	assert.Equal(t, 33.3, payload.CurrentTime)
	assert.Nil(t, payload.IsPlaying)
}

package types

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/bus"
)

// --- Core Domain Types ---

// RoomCodeType identifies a watch room. Six uppercase alphanumerics.
type RoomCodeType string

// ClientIdType is the client-asserted, reconnect-stable user identifier.
type ClientIdType string

// NicknameType is the human-readable name a user picked for chat display.
type NicknameType string

// ControlAction is a playback control verb.
type ControlAction string

const (
	ActionPlay  ControlAction = "play"
	ActionPause ControlAction = "pause"
	ActionSeek  ControlAction = "seek"
)

// MaxNicknameLength bounds nicknames; longer values are truncated on entry.
const MaxNicknameLength = 20

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NormalizeRoomCode case-folds a room code and validates its shape.
func NormalizeRoomCode(raw string) (RoomCodeType, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !roomCodePattern.MatchString(code) {
		return "", errors.New("room code must be 6 alphanumeric characters")
	}
	return RoomCodeType(code), nil
}

// SanitizeNickname trims and truncates a nickname to MaxNicknameLength runes.
func SanitizeNickname(raw string) NicknameType {
	name := strings.TrimSpace(raw)
	runes := []rune(name)
	if len(runes) > MaxNicknameLength {
		name = string(runes[:MaxNicknameLength])
	}
	return NicknameType(name)
}

// UserInfo is the membership record shared with clients.
type UserInfo struct {
	ID       ClientIdType `json:"id"`
	Nickname NicknameType `json:"nickname"`
}

// VideoDescriptor points at a stored media file. StorageKey is the opaque
// filename in the media store; in this design it equals ID.
type VideoDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
	StorageKey string `json:"storageKey"`
}

// Validate ensures a descriptor can be installed as a room's current video.
func (v VideoDescriptor) Validate() error {
	if v.ID == "" {
		return errors.New("video id cannot be empty")
	}
	if v.Name == "" {
		return errors.New("video name cannot be empty")
	}
	if v.Size < 0 {
		return errors.New("video size cannot be negative")
	}
	return nil
}

// PlaybackState is the authoritative playback tuple the server broadcasts.
// Version is the only ordering signal clients trust.
type PlaybackState struct {
	Version       uint64       `json:"version"`
	VideoID       string       `json:"videoId"`
	CurrentTime   float64      `json:"currentTime"`
	IsPlaying     bool         `json:"isPlaying"`
	LastUpdatedBy ClientIdType `json:"lastUpdatedBy"`
	LastUpdatedAt time.Time    `json:"lastUpdatedAt"`
}

// ChatMessage is one entry in a room's chat history. System messages are
// server-authored (joins, video-load announcements).
type ChatMessage struct {
	ID        string       `json:"id"`
	UserID    ClientIdType `json:"userId"`
	Nickname  NicknameType `json:"nickname"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	System    bool         `json:"system,omitempty"`
}

// Validate ensures chat messages are safe to store.
func (m ChatMessage) Validate() error {
	if len(m.Text) == 0 {
		return errors.New("chat text cannot be empty")
	}
	if len(m.Text) > 1000 {
		return errors.New("chat text cannot exceed 1000 characters")
	}
	if string(m.UserID) == "" && !m.System {
		return errors.New("user ID cannot be empty")
	}
	return nil
}

// --- Shared Interfaces ---

// BusService defines the interface for distributed pub/sub messaging between
// server instances. A nil implementation means single-instance mode.
type BusService interface {
	Publish(ctx context.Context, roomCode string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Ping(ctx context.Context) error
	Close() error
}

// ClientInterface defines the behavior the room package requires from a
// connection. This keeps room free of any transport dependency.
type ClientInterface interface {
	GetID() ClientIdType
	GetNickname() NicknameType
	// SendFrame marshals and enqueues a single typed frame for this client.
	SendFrame(kind MessageType, payload any)
	// SendRaw enqueues pre-serialized bytes; used by broadcasts that marshal once.
	SendRaw(data []byte)
	// Disconnect forcefully closes the connection (e.g. replaced by a rejoin).
	Disconnect()
}

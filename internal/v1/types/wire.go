package types

import "encoding/json"

// MessageType enumerates the kinds of JSON frames on the wire.
type MessageType string

// Client → server frames.
const (
	MsgJoinRoom     MessageType = "join-room"
	MsgLeaveRoom    MessageType = "leave-room"
	MsgChatMessage  MessageType = "chat-message"
	MsgVideoLoaded  MessageType = "video-loaded"
	MsgVideoControl MessageType = "video-control"
)

// Server → client frames. MsgChatMessage and MsgVideoLoaded are reused in
// both directions with different payload shapes.
const (
	MsgRoomState       MessageType = "room-state"
	MsgUserJoined      MessageType = "user-joined"
	MsgUserLeft        MessageType = "user-left"
	MsgUserCountUpdate MessageType = "user-count-update"
	MsgAck             MessageType = "ack"
	MsgError           MessageType = "error"
)

// Frame is the envelope for every message in either direction. Seq is an
// optional client-chosen correlation number; when present on a request the
// server answers it with an ack frame carrying the same Seq.
type Frame struct {
	Type    MessageType     `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds an outbound frame, marshaling the payload.
func NewFrame(kind MessageType, payload any) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: kind, Payload: raw}, nil
}

// --- Inbound payloads ---

// JoinRoomPayload asks to join (or create) a room. Idempotent per userId.
type JoinRoomPayload struct {
	RoomCode string       `json:"roomCode"`
	UserID   ClientIdType `json:"userId"`
	Nickname string       `json:"nickname"`
}

// LeaveRoomPayload removes a membership if present.
type LeaveRoomPayload struct {
	RoomCode string       `json:"roomCode"`
	UserID   ClientIdType `json:"userId"`
}

// ChatSendPayload carries an untrusted chat line; rendering clients escape it.
type ChatSendPayload struct {
	RoomCode string       `json:"roomCode"`
	UserID   ClientIdType `json:"userId"`
	Nickname string       `json:"nickname"`
	Text     string       `json:"text"`
}

// VideoLoadPayload declares the room's current video.
type VideoLoadPayload struct {
	RoomCode string          `json:"roomCode"`
	UserID   ClientIdType    `json:"userId"`
	Video    VideoDescriptor `json:"video"`
}

// VideoControlPayload requests a playback state transition. IsPlaying is a
// pointer so a bare seek can inherit liveness from the authoritative state.
type VideoControlPayload struct {
	RoomCode     string        `json:"roomCode"`
	UserID       ClientIdType  `json:"userId"`
	VideoID      string        `json:"videoId"`
	Action       ControlAction `json:"action"`
	CurrentTime  float64       `json:"currentTime"`
	IsPlaying    *bool         `json:"isPlaying,omitempty"`
	ClientSentAt int64         `json:"clientSentAt,omitempty"`
}

// --- Outbound payloads ---

// RoomStatePayload is sent once to a joining connection.
type RoomStatePayload struct {
	Users        []UserInfo       `json:"users"`
	Messages     []ChatMessage    `json:"messages"`
	CurrentVideo *VideoDescriptor `json:"currentVideo,omitempty"`
	Playback     *PlaybackState   `json:"playback,omitempty"`
}

// UserJoinedPayload announces a new member to its peers.
type UserJoinedPayload struct {
	User      UserInfo `json:"user"`
	UserCount int      `json:"userCount"`
}

// UserLeftPayload announces a departure.
type UserLeftPayload struct {
	UserID    ClientIdType `json:"userId"`
	UserCount int          `json:"userCount"`
}

// UserCountPayload carries the current member count.
type UserCountPayload struct {
	Count int `json:"count"`
}

// VideoLoadedEvent is broadcast after a video is set.
type VideoLoadedEvent struct {
	Video VideoDescriptor `json:"video"`
	State PlaybackState   `json:"state"`
	User  UserInfo        `json:"user"`
}

// VideoControlEvent is broadcast after every accepted control, including to
// the originator so it can record the version it now owns.
type VideoControlEvent struct {
	State PlaybackState `json:"state"`
}

// AckPayload answers a request that carried a Seq. Version is the assigned
// playback version for accepted video-loaded / video-control requests.
type AckPayload struct {
	Seq     int64  `json:"seq"`
	OK      bool   `json:"ok"`
	Version uint64 `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorPayload is a server-pushed protocol error.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

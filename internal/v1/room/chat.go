package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/metrics"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// HandleChat mints a ChatMessage with a server timestamp and fresh id,
// appends it to the ring, and broadcasts it to everyone including the sender
// (clients style own messages by userId == self).
func (r *Room) HandleChat(ctx context.Context, client types.ClientInterface, payload types.ChatSendPayload, seq int64) {
	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		UserID:    client.GetID(),
		Nickname:  client.GetNickname(),
		Text:      payload.Text,
		Timestamp: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		logging.Warn(ctx, "Rejecting chat message",
			zap.String("room_code", string(r.code)),
			zap.String("user_id", string(client.GetID())),
			zap.Error(err))
		metrics.WebsocketEvents.WithLabelValues(string(types.MsgChatMessage), "rejected").Inc()
		nack(client, seq, ReasonBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.appendChatLocked(msg)
	r.broadcastLocked(types.MsgChatMessage, msg, "")

	if seq != 0 {
		client.SendFrame(types.MsgAck, types.AckPayload{Seq: seq, OK: true})
	}
}

// RecentChats returns up to limit most recent messages, oldest first.
func (r *Room) RecentChats(limit int) []types.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentChatsLocked(limit)
}

func (r *Room) appendChatLocked(msg types.ChatMessage) {
	r.chat.PushBack(msg)
	for r.chat.Len() > r.opts.ChatHistoryCap {
		r.chat.Remove(r.chat.Front())
	}
}

func (r *Room) recentChatsLocked(limit int) []types.ChatMessage {
	messages := make([]types.ChatMessage, 0, r.chat.Len())
	for e := r.chat.Front(); e != nil; e = e.Next() {
		if msg, ok := e.Value.(types.ChatMessage); ok {
			messages = append(messages, msg)
		}
	}
	if limit > 0 && len(messages) > limit {
		return messages[len(messages)-limit:]
	}
	return messages
}

// appendSystemChatLocked records a server-authored announcement and fans it
// out like any other chat line.
func (r *Room) appendSystemChatLocked(text string) {
	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		Text:      text,
		Timestamp: time.Now().UTC(),
		System:    true,
	}
	r.appendChatLocked(msg)
	r.broadcastLocked(types.MsgChatMessage, msg, "")
}

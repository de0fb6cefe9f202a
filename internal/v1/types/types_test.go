package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoomCode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    RoomCodeType
		wantErr bool
	}{
		{"uppercase passes through", "ABC123", "ABC123", false},
		{"lowercase is folded", "abc123", "ABC123", false},
		{"surrounding whitespace trimmed", "  xyz789  ", "XYZ789", false},
		{"too short", "ABC12", "", true},
		{"too long", "ABC1234", "", true},
		{"empty", "", "", true},
		{"punctuation rejected", "ABC-12", "", true},
		{"unicode rejected", "ABÇ123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRoomCode(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeNickname(t *testing.T) {
	assert.Equal(t, NicknameType("Alice"), SanitizeNickname("  Alice  "))
	assert.Equal(t, NicknameType(""), SanitizeNickname("   "))

	long := strings.Repeat("a", 30)
	assert.Len(t, string(SanitizeNickname(long)), MaxNicknameLength)

	// Truncation counts runes, not bytes.
	emoji := strings.Repeat("🎬", 25)
	assert.Equal(t, MaxNicknameLength, len([]rune(string(SanitizeNickname(emoji)))))
}

func TestVideoDescriptor_Validate(t *testing.T) {
	valid := VideoDescriptor{ID: "vid-1", Name: "movie.mp4", Size: 100}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	assert.Error(t, noID.Validate())

	noName := valid
	noName.Name = ""
	assert.Error(t, noName.Validate())

	negative := valid
	negative.Size = -1
	assert.Error(t, negative.Validate())

	zeroSize := valid
	zeroSize.Size = 0
	assert.NoError(t, zeroSize.Validate())
}

func TestChatMessage_Validate(t *testing.T) {
	valid := ChatMessage{UserID: "alice", Text: "hello"}
	assert.NoError(t, valid.Validate())

	empty := valid
	empty.Text = ""
	assert.Error(t, empty.Validate())

	oversized := valid
	oversized.Text = strings.Repeat("x", 1001)
	assert.Error(t, oversized.Validate())

	atLimit := valid
	atLimit.Text = strings.Repeat("x", 1000)
	assert.NoError(t, atLimit.Validate())

	// System messages have no author.
	system := ChatMessage{Text: "Alice joined the room", System: true}
	assert.NoError(t, system.Validate())

	anonymous := ChatMessage{Text: "hi"}
	assert.Error(t, anonymous.Validate())
}

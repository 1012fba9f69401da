package types

import (
	"time"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

func ValidRole(role string) bool {
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// UserSummary is the participant-facing view of an account: enough to
// render a conversation header or a presence roster entry.
type UserSummary struct {
	Id           int    `json:"id"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type MessagePreview struct {
	Id        string    `json:"id"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	Id           string          `json:"id"`
	Participants []UserSummary   `json:"participants"`
	LastMessage  *MessagePreview `json:"last_message,omitempty"`
	UnreadCount  int             `json:"unread_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OtherParticipant resolves the peer in a direct conversation by filtering
// on id rather than assuming a position in the participant slice.
func (c Conversation) OtherParticipant(selfId int) (UserSummary, bool) {
	for _, p := range c.Participants {
		if p.Id != selfId {
			return p, true
		}
	}
	return UserSummary{}, false
}

type Message struct {
	Id             string      `json:"id"`
	ConversationId string      `json:"conversation_id"`
	Sender         UserSummary `json:"sender"`
	Content        string      `json:"content"`
	Read           bool        `json:"read"`
	Delivered      bool        `json:"delivered"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (m Message) Preview() *MessagePreview {
	return &MessagePreview{
		Id:        m.Id,
		Content:   m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

// TypingEvent is the ephemeral typing broadcast exchanged on a
// conversation's presence channel. It is never persisted.
type TypingEvent struct {
	UserId   int    `json:"user_id"`
	FullName string `json:"full_name"`
	IsTyping bool   `json:"is_typing"`
}

// NewMessageEvent rides both the conversation channel and the recipients'
// user channels. ConversationId is redundant on the conversation channel
// but load-bearing on the user channel.
type NewMessageEvent struct {
	ConversationId string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

// ReceiptEvent reports a read or delivered flag flip for a single message.
type ReceiptEvent struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
}

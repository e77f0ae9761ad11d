package conversations

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender values written by the tutor flow. Clients may store others.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string    `bson:"id" json:"id"`
	Sender    string    `bson:"sender" json:"sender" validate:"required,max=50"`
	Text      string    `bson:"text" json:"text" validate:"required_without=ImageRef,max=20000"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	ImageRef  string    `bson:"image_ref,omitempty" json:"image_ref,omitempty" validate:"max=2048"`
}

// Conversation is the stored message history of one session of one user.
type Conversation struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserEmail string    `bson:"user_email" json:"user_email"`
	SessionID string    `bson:"session_id" json:"session_id"`
	Messages  []Message `bson:"messages" json:"messages"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Session is one conversation submitted for saving.
type Session struct {
	SessionID string    `json:"session_id" validate:"required,max=128"`
	Messages  []Message `json:"messages" validate:"dive"`
}

// SaveResult summarizes a Save call.
type SaveResult struct {
	Inserted int      `json:"inserted_count"`
	Updated  int      `json:"updated_count"`
	IDs      []string `json:"ids"`
}

// NewMessage returns a message with a fresh identifier and timestamp.
func NewMessage(sender, text, imageRef string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: now,
		ImageRef:  strings.TrimSpace(imageRef),
	}
}

// normalizeMessages fills missing identifiers and timestamps in place.
func normalizeMessages(msgs []Message, now time.Time) []Message {
	if msgs == nil {
		return []Message{}
	}
	for i := range msgs {
		if strings.TrimSpace(msgs[i].ID) == "" {
			msgs[i].ID = uuid.NewString()
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
	return msgs
}

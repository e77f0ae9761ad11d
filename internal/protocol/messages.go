// Package protocol defines the websocket frames of the streaming tutor
// endpoint.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/learnaware/tutor/internal/conversations"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientChat   MessageType = "chat"
	TypeClientCancel MessageType = "cancel"
	TypeDelta        MessageType = "delta"
	TypeDone         MessageType = "done"
	TypeError        MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientChat is a student message. Frames without a type are chat frames.
type ClientChat struct {
	Type      MessageType `json:"type"`
	UserEmail string      `json:"user_email"`
	SessionID string      `json:"session_id"`
	Message   string      `json:"message"`
	ImageRef  string      `json:"image_ref,omitempty"`
}

// ClientCancel stops the reply currently streaming on the connection.
type ClientCancel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Delta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Seq       int         `json:"seq"`
	Text      string      `json:"text"`
}

type Done struct {
	Type           MessageType           `json:"type"`
	SessionID      string                `json:"session_id"`
	ConversationID string                `json:"conversation_id"`
	TurnID         string                `json:"turn_id"`
	Provider       string                `json:"provider"`
	NewSession     bool                  `json:"new_session"`
	Reply          conversations.Message `json:"reply"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewDelta(sessionID string, seq int, text string) Delta {
	return Delta{Type: TypeDelta, SessionID: sessionID, Seq: seq, Text: text}
}

func NewError(sessionID, code, detail string, retryable bool) ErrorEvent {
	return ErrorEvent{Type: TypeError, SessionID: sessionID, Code: code, Detail: detail, Retryable: retryable}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientChat, "":
		var msg ClientChat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Type = TypeClientChat
		if strings.TrimSpace(msg.UserEmail) == "" {
			return nil, errors.New("invalid chat: user_email is required")
		}
		if strings.TrimSpace(msg.Message) == "" && strings.TrimSpace(msg.ImageRef) == "" {
			return nil, errors.New("invalid chat: message is required")
		}
		return msg, nil
	case TypeClientCancel:
		var msg ClientCancel
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

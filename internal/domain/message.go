package domain

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
	MessageTypeFile     MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeDocument, MessageTypeFile:
		return true
	}
	return false
}

func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

// Message belongs to exactly one conversation: a direct pair (ReceiverID set)
// or a group (GroupID set).
type Message struct {
	ID         uint64      `json:"id"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId,omitempty"`
	GroupID    string      `json:"groupId,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	Timestamp  time.Time   `json:"timestamp"`
	IsRead     bool        `json:"isRead"`
}

// Kind reports which conversation the message belongs to.
func (m *Message) Kind() ChatKind {
	if m.GroupID != "" {
		return ChatKindGroup
	}
	return ChatKindDirect
}

// Validate checks the conversation discriminator: exactly one of ReceiverID
// and GroupID must be set.
func (m *Message) Validate() error {
	switch {
	case m.ReceiverID != "" && m.GroupID != "":
		return fmt.Errorf("message %d has both receiverId and groupId", m.ID)
	case m.ReceiverID == "" && m.GroupID == "":
		return fmt.Errorf("message %d has neither receiverId nor groupId", m.ID)
	}
	return nil
}

// FromWireTime converts a backend timestamp (integer nanoseconds) to a time.
func FromWireTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func ToWireTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

package repository

import (
	"sort"
	"time"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// SessionKey is the well-known key the current user's record is stored under.
const SessionKey = "currentUser"

// SessionModel is the persisted session: one row holding the User flat.
type SessionModel struct {
	Key           string    `gorm:"primaryKey;column:record_key"`
	UserID        string    `gorm:"column:id"`
	Name          string    `gorm:"column:name"`
	Email         string    `gorm:"column:email"`
	Avatar        string    `gorm:"column:avatar"`
	IsOnline      bool      `gorm:"column:is_online"`
	LastSeen      time.Time `gorm:"column:last_seen"`
	UserCreatedAt time.Time `gorm:"column:user_created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (SessionModel) TableName() string { return "session_records" }

// MessageModel is the local archive row for a fetched message.
type MessageModel struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement:false;column:id"`
	Conversation string    `gorm:"column:conversation;index:idx_conversation_timestamp"`
	SenderID     string    `gorm:"column:sender_id"`
	ReceiverID   string    `gorm:"column:receiver_id"`
	GroupID      string    `gorm:"column:group_id"`
	Content      string    `gorm:"column:content"`
	Type         string    `gorm:"column:type"`
	Timestamp    time.Time `gorm:"column:timestamp;index:idx_conversation_timestamp"`
	IsRead       bool      `gorm:"column:is_read"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (MessageModel) TableName() string { return "messages" }

// ConversationKey identifies the conversation a message belongs to. Direct
// keys are symmetric in the two participants.
func ConversationKey(msg *domain.Message) string {
	if msg.GroupID != "" {
		return GroupConversation(msg.GroupID)
	}
	return DirectConversation(msg.SenderID, msg.ReceiverID)
}

func GroupConversation(groupID string) string {
	return "group:" + groupID
}

func DirectConversation(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct:" + pair[0] + ":" + pair[1]
}

// Conversion functions
func SessionModelToDomain(m *SessionModel) *domain.User {
	if m == nil {
		return nil
	}
	return &domain.User{
		ID:        m.UserID,
		Name:      m.Name,
		Email:     m.Email,
		Avatar:    m.Avatar,
		IsOnline:  m.IsOnline,
		LastSeen:  m.LastSeen,
		CreatedAt: m.UserCreatedAt,
	}
}

func SessionDomainToModel(u *domain.User) *SessionModel {
	if u == nil {
		return nil
	}
	return &SessionModel{
		Key:           SessionKey,
		UserID:        u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Avatar:        u.Avatar,
		IsOnline:      u.IsOnline,
		LastSeen:      u.LastSeen,
		UserCreatedAt: u.CreatedAt,
	}
}

func MessageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}
	return &domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		Type:       domain.MessageType(m.Type),
		Timestamp:  m.Timestamp,
		IsRead:     m.IsRead,
	}
}

func MessageDomainToModel(msg *domain.Message) *MessageModel {
	if msg == nil {
		return nil
	}
	return &MessageModel{
		ID:           msg.ID,
		Conversation: ConversationKey(msg),
		SenderID:     msg.SenderID,
		ReceiverID:   msg.ReceiverID,
		GroupID:      msg.GroupID,
		Content:      msg.Content,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		IsRead:       msg.IsRead,
	}
}

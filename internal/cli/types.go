package cli

import (
	"time"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// Mode represents the CLI operation mode
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeHeadless    Mode = "headless"
)

// Request represents a JSON request in headless mode
type Request struct {
	ID      string         `json:"id,omitempty"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a JSON response in headless mode
type Response struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Event is a session or chat change pushed to the frontends.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type UserInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Avatar   string    `json:"avatar,omitempty"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

type GroupInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by"`
	Members     []string `json:"members"`
}

type MessageInfo struct {
	ID         uint64    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
	IsFromMe   bool      `json:"is_from_me"`
}

// ChatInfo describes the active chat and its sync state.
type ChatInfo struct {
	Kind     string        `json:"kind"`
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	SyncedAt time.Time     `json:"synced_at,omitempty"`
	Messages []MessageInfo `json:"messages"`
}

// SessionStatus represents session and connection state for responses
type SessionStatus struct {
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	User      *UserInfo `json:"user,omitempty"`
	Chat      string    `json:"chat,omitempty"`
}

func userInfo(u domain.User) UserInfo {
	return UserInfo{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Avatar:   u.Avatar,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

func userInfos(users []domain.User) []UserInfo {
	out := make([]UserInfo, len(users))
	for i, u := range users {
		out[i] = userInfo(u)
	}
	return out
}

func groupInfo(g domain.Group) GroupInfo {
	return GroupInfo{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		CreatedBy:   g.CreatedBy,
		Members:     g.Members,
	}
}

func groupInfos(groups []domain.Group) []GroupInfo {
	out := make([]GroupInfo, len(groups))
	for i, g := range groups {
		out[i] = groupInfo(g)
	}
	return out
}

func messageInfo(m domain.Message, me string) MessageInfo {
	return MessageInfo{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Type:       string(m.Type),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		IsRead:     m.IsRead,
		IsFromMe:   m.SenderID == me,
	}
}

func messageInfos(msgs []domain.Message, me string) []MessageInfo {
	out := make([]MessageInfo, len(msgs))
	for i, m := range msgs {
		out[i] = messageInfo(m, me)
	}
	return out
}

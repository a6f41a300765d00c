package domain

import (
	"strings"
	"time"
)

// User is a backend account. The ID is assigned by the backend and is never
// changed by the client.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Initials returns up to two upper-case initials for avatar placeholders.
func (u *User) Initials() string {
	name := u.DisplayName()
	if name == "" {
		return "?"
	}
	words := strings.Fields(name)
	first := []rune(words[0])[0:1]
	if len(words) == 1 {
		return strings.ToUpper(string(first))
	}
	last := []rune(words[len(words)-1])[0:1]
	return strings.ToUpper(string(first) + string(last))
}

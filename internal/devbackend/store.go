// Package devbackend is an in-memory chat backend for local development and
// integration tests. It implements every operation of the chat backend
// contract and is served over gRPC by internal/transport/grpc.
package devbackend

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
)

// OTPLifetime is how long a generated one-time code stays valid.
const OTPLifetime = 5 * time.Minute

// Rejections returned as the err branch of a result. The text reaches the
// user unchanged.
var (
	ErrInvalidEmail     = errors.New("Invalid email address")
	ErrInvalidOTP       = errors.New("Invalid or expired OTP")
	ErrUserExists       = errors.New("User already exists")
	ErrUserNotFound     = errors.New("User not found")
	ErrSenderNotFound   = errors.New("Sender not found")
	ErrReceiverNotFound = errors.New("Receiver not found")
	ErrGroupNotFound    = errors.New("Group not found")
	ErrNotMember        = errors.New("User is not a member of this group")
	ErrMessageNotFound  = errors.New("Message not found")
	ErrNotAllowed       = errors.New("Not authorized")
	ErrEmptyContent     = errors.New("Message content cannot be empty")
	ErrEmptyName        = errors.New("Name cannot be empty")
)

type otpEntry struct {
	code    string
	expires time.Time
}

// Store holds users, groups, messages and pending one-time codes.
type Store struct {
	clock clock.Clock
	log   zerolog.Logger

	mu       sync.RWMutex
	users    map[string]*domain.User
	byEmail  map[string]string
	groups   map[string]*domain.Group
	messages []*domain.Message
	nextID   uint64
	otps     map[string]otpEntry
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		clock:   clk,
		log:     logger.Module("devbackend"),
		users:   make(map[string]*domain.User),
		byEmail: make(map[string]string),
		groups:  make(map[string]*domain.Group),
		otps:    make(map[string]otpEntry),
		nextID:  1,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) GenerateOTP(email string) (string, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	s.mu.Lock()
	s.otps[email] = otpEntry{code: code, expires: s.clock.Now().Add(OTPLifetime)}
	s.mu.Unlock()

	s.log.Info().Str("email", email).Str("code", code).Msg("Issued one-time code")
	return code, nil
}

func (s *Store) RegisterUser(email, name, code string) (domain.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.otps[email]
	now := s.clock.Now()
	if !ok || entry.code != code || now.After(entry.expires) {
		return domain.User{}, ErrInvalidOTP
	}
	if _, exists := s.byEmail[email]; exists {
		return domain.User{}, ErrUserExists
	}
	delete(s.otps, email)

	u := &domain.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		IsOnline:  true,
		LastSeen:  now,
		CreatedAt: now,
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	s.log.Info().Str("user_id", u.ID).Str("email", email).Msg("Registered user")
	return *u, nil
}

func (s *Store) LoginUser(email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	u := s.users[id]
	u.IsOnline = true
	u.LastSeen = s.clock.Now()
	return *u, nil
}

func (s *Store) LogoutUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.IsOnline = false
	u.LastSeen = s.clock.Now()
	return nil
}

// UpdateUserProfile changes the non-nil fields. An empty avatar clears it.
func (s *Store) UpdateUserProfile(userID string, name, avatar *string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return domain.User{}, ErrEmptyName
		}
		u.Name = trimmed
	}
	if avatar != nil {
		u.Avatar = strings.TrimSpace(*avatar)
	}
	u.LastSeen = s.clock.Now()
	return *u, nil
}

func (s *Store) SendDirectMessage(senderID, receiverID, content string, msgType domain.MessageType) (uint64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[senderID]; !ok {
		return 0, ErrSenderNotFound
	}
	if _, ok := s.users[receiverID]; !ok {
		return 0, ErrReceiverNotFound
	}
	return s.appendLocked(&domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
	}), nil
}

func (s *Store) SendGroupMessage(senderID, groupID, content string, msgType domain.MessageType) (uint64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[senderID]; !ok {
		return 0, ErrSenderNotFound
	}
	g, ok := s.groups[groupID]
	if !ok {
		return 0, ErrGroupNotFound
	}
	if !g.HasMember(senderID) {
		return 0, ErrNotMember
	}
	return s.appendLocked(&domain.Message{
		SenderID: senderID,
		GroupID:  groupID,
		Content:  content,
		Type:     msgType,
	}), nil
}

func (s *Store) appendLocked(m *domain.Message) uint64 {
	m.ID = s.nextID
	s.nextID++
	m.Timestamp = s.clock.Now()
	s.messages = append(s.messages, m)
	return m.ID
}

// CreateGroup creates a group whose members are the creator plus memberIDs.
func (s *Store) CreateGroup(name, description, creatorID string, memberIDs []string) (domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Group{}, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[creatorID]; !ok {
		return domain.Group{}, ErrUserNotFound
	}
	members := domain.MemberSet(append([]string{creatorID}, memberIDs...))
	for _, id := range members {
		if _, ok := s.users[id]; !ok {
			return domain.Group{}, fmt.Errorf("User %s not found", id)
		}
	}

	g := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   creatorID,
		Members:     members,
		CreatedAt:   s.clock.Now(),
	}
	s.groups[g.ID] = g
	s.log.Info().Str("group_id", g.ID).Int("members", len(members)).Msg("Created group")
	return copyGroup(g), nil
}

func (s *Store) AddMemberToGroup(groupID, newMemberID, addedBy string) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return domain.Group{}, ErrGroupNotFound
	}
	if !g.HasMember(addedBy) {
		return domain.Group{}, ErrNotAllowed
	}
	if _, ok := s.users[newMemberID]; !ok {
		return domain.Group{}, ErrUserNotFound
	}
	if !g.HasMember(newMemberID) {
		g.Members = append(g.Members, newMemberID)
	}
	return copyGroup(g), nil
}

// MarkMessageAsRead is allowed for the receiver of a direct message or any
// member of the message's group.
func (s *Store) MarkMessageAsRead(messageID uint64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findLocked(messageID)
	if m == nil {
		return ErrMessageNotFound
	}
	switch {
	case m.GroupID != "":
		if g, ok := s.groups[m.GroupID]; !ok || !g.HasMember(userID) {
			return ErrNotAllowed
		}
	case m.ReceiverID != userID:
		return ErrNotAllowed
	}
	m.IsRead = true
	return nil
}

// DeleteMessage is only allowed for the sender.
func (s *Store) DeleteMessage(messageID uint64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.messages, func(m *domain.Message) bool { return m.ID == messageID })
	if idx < 0 {
		return ErrMessageNotFound
	}
	if s.messages[idx].SenderID != userID {
		return ErrNotAllowed
	}
	s.messages = slices.Delete(s.messages, idx, idx+1)
	return nil
}

// sortMessagesLocked restores timestamp order after backdated inserts.
func (s *Store) sortMessagesLocked() {
	slices.SortStableFunc(s.messages, func(a, b *domain.Message) int { return a.Timestamp.Compare(b.Timestamp) })
}

func (s *Store) findLocked(id uint64) *domain.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// GetUser returns nil for an unknown id.
func (s *Store) GetUser(userID string) *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	c := *u
	return &c
}

func (s *Store) GetAllUsers() []domain.User {
	return s.listUsers(func(*domain.User) bool { return true })
}

func (s *Store) GetOnlineUsers() []domain.User {
	return s.listUsers(func(u *domain.User) bool { return u.IsOnline })
}

func (s *Store) listUsers(keep func(*domain.User) bool) []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if keep(u) {
			out = append(out, *u)
		}
	}
	slices.SortFunc(out, func(a, b domain.User) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// GetDirectMessages returns the messages between a and b in both directions,
// oldest first.
func (s *Store) GetDirectMessages(a, b string) []domain.Message {
	return s.listMessages(func(m *domain.Message) bool {
		return m.GroupID == "" &&
			((m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a))
	})
}

func (s *Store) GetGroupMessages(groupID string) []domain.Message {
	return s.listMessages(func(m *domain.Message) bool { return m.GroupID == groupID })
}

func (s *Store) listMessages(keep func(*domain.Message) bool) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Message
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, *m)
		}
	}
	return out
}

func (s *Store) GetUserGroups(userID string) []domain.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Group
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, copyGroup(g))
		}
	}
	slices.SortFunc(out, func(a, b domain.Group) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// GetGroup returns nil for an unknown id.
func (s *Store) GetGroup(groupID string) *domain.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	c := copyGroup(g)
	return &c
}

// GetUnreadMessageCount counts unread direct messages addressed to userID.
func (s *Store) GetUnreadMessageCount(userID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.IsRead {
			n++
		}
	}
	return n
}

// CleanupExpiredOTPs drops every expired code and returns how many were
// removed.
func (s *Store) CleanupExpiredOTPs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for email, entry := range s.otps {
		if now.After(entry.expires) {
			delete(s.otps, email)
			removed++
		}
	}
	return removed
}

func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func copyGroup(g *domain.Group) domain.Group {
	c := *g
	c.Members = slices.Clone(g.Members)
	return c
}

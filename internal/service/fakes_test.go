package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// fakeBackend is an in-memory Backend. Hooks override the default replies;
// calls counts invocations per method.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	users    map[string]domain.User
	loginErr error
	logout   func(userID string) error
	update   func(userID string, name, avatar *string) (domain.User, error)
	getUser  func(userID string) (*domain.User, error)

	direct     func(ctx context.Context, a, b string) ([]domain.Message, error)
	group      func(ctx context.Context, groupID string) ([]domain.Message, error)
	sendID     uint64
	sendErr    error
	groups     []domain.Group
	createArgs []string
	addMember  func(groupID, userID string) (domain.Group, error)
	allUsers   []domain.User
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls: make(map[string]int),
		users: make(map[string]domain.User),
	}
}

func (b *fakeBackend) record(method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[method]++
}

func (b *fakeBackend) count(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

func (b *fakeBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func (b *fakeBackend) GenerateOTP(ctx context.Context, email string) (string, error) {
	b.record("generateOTP")
	return "123456", nil
}

func (b *fakeBackend) RegisterUser(ctx context.Context, email, name, code string) (domain.User, error) {
	b.record("registerUser")
	if code != "123456" {
		return domain.User{}, domain.RemoteRejected("registerUser", "Invalid or expired OTP")
	}
	u := domain.User{ID: "u-" + name, Name: name, Email: email}
	b.mu.Lock()
	b.users[u.ID] = u
	b.mu.Unlock()
	return u, nil
}

func (b *fakeBackend) LoginUser(ctx context.Context, email string) (domain.User, error) {
	b.record("loginUser")
	if b.loginErr != nil {
		return domain.User{}, b.loginErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.RemoteRejected("loginUser", "User not found")
}

func (b *fakeBackend) LogoutUser(ctx context.Context, userID string) error {
	b.record("logoutUser")
	if b.logout != nil {
		return b.logout(userID)
	}
	return nil
}

func (b *fakeBackend) UpdateUserProfile(ctx context.Context, userID string, name, avatar *string) (domain.User, error) {
	b.record("updateUserProfile")
	return b.update(userID, name, avatar)
}

func (b *fakeBackend) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	b.record("getUser")
	if b.getUser != nil {
		return b.getUser(userID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (b *fakeBackend) SendDirectMessage(ctx context.Context, senderID, receiverID, content string, msgType domain.MessageType) (uint64, error) {
	b.record("sendDirectMessage")
	return b.sendID, b.sendErr
}

func (b *fakeBackend) SendGroupMessage(ctx context.Context, senderID, groupID, content string, msgType domain.MessageType) (uint64, error) {
	b.record("sendGroupMessage")
	return b.sendID, b.sendErr
}

func (b *fakeBackend) CreateGroup(ctx context.Context, name, description, creatorID string, memberIDs []string) (domain.Group, error) {
	b.record("createGroup")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createArgs = append([]string(nil), memberIDs...)
	g := domain.Group{ID: "g-" + name, Name: name, Description: description, CreatedBy: creatorID,
		Members: domain.MemberSet(append([]string{creatorID}, memberIDs...))}
	b.groups = append(b.groups, g)
	return g, nil
}

func (b *fakeBackend) AddMemberToGroup(ctx context.Context, groupID, newMemberID, addedBy string) (domain.Group, error) {
	b.record("addMemberToGroup")
	return b.addMember(groupID, newMemberID)
}

func (b *fakeBackend) MarkMessageAsRead(ctx context.Context, messageID uint64, userID string) error {
	b.record("markMessageAsRead")
	return nil
}

func (b *fakeBackend) DeleteMessage(ctx context.Context, messageID uint64, userID string) error {
	b.record("deleteMessage")
	return nil
}

func (b *fakeBackend) GetAllUsers(ctx context.Context) ([]domain.User, error) {
	b.record("getAllUsers")
	return b.allUsers, nil
}

func (b *fakeBackend) GetOnlineUsers(ctx context.Context) ([]domain.User, error) {
	b.record("getOnlineUsers")
	var out []domain.User
	for _, u := range b.allUsers {
		if u.IsOnline {
			out = append(out, u)
		}
	}
	return out, nil
}

func (b *fakeBackend) GetDirectMessages(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	b.record("getDirectMessages")
	if b.direct == nil {
		return nil, nil
	}
	return b.direct(ctx, userA, userB)
}

func (b *fakeBackend) GetGroupMessages(ctx context.Context, groupID string) ([]domain.Message, error) {
	b.record("getGroupMessages")
	if b.group == nil {
		return nil, nil
	}
	return b.group(ctx, groupID)
}

func (b *fakeBackend) GetUserGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	b.record("getUserGroups")
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Group(nil), b.groups...), nil
}

func (b *fakeBackend) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	b.record("getGroup")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.groups {
		if g.ID == groupID {
			return &g, nil
		}
	}
	return nil, nil
}

func (b *fakeBackend) GetUnreadMessageCount(ctx context.Context, userID string) (uint64, error) {
	b.record("getUnreadMessageCount")
	return 3, nil
}

// memSessionRepo is an in-memory SessionRepository with injectable failures.
type memSessionRepo struct {
	mu       sync.Mutex
	user     *domain.User
	saveErr  error
	clearErr error
}

func (r *memSessionRepo) Load(ctx context.Context) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user == nil {
		return nil, nil
	}
	u := *r.user
	return &u, nil
}

func (r *memSessionRepo) Save(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	u := *user
	r.user = &u
	return nil
}

func (r *memSessionRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clearErr != nil {
		return r.clearErr
	}
	r.user = nil
	return nil
}

func (r *memSessionRepo) stored() *domain.User {
	u, _ := r.Load(context.Background())
	return u
}

// staticIdentity is a settable Identity.
type staticIdentity struct {
	user atomic.Pointer[domain.User]
}

func identityOf(u *domain.User) *staticIdentity {
	id := &staticIdentity{}
	id.user.Store(u)
	return id
}

func (i *staticIdentity) CurrentUser() *domain.User {
	u := i.user.Load()
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func msg(id uint64, from, to string, ts int) domain.Message {
	return domain.Message{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Content:    "message",
		Type:       domain.MessageTypeText,
		Timestamp:  time.Unix(int64(ts), 0),
	}
}

func messageIDs(msgs []domain.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

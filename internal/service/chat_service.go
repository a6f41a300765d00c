package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
	"github.com/clippy-oss/homie/canister-chat/internal/repository"
)

const DefaultPollInterval = 3 * time.Second

type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncLoading SyncStatus = "loading"
	SyncSynced  SyncStatus = "synced"
)

// ChatView is a point-in-time copy of the engine state.
type ChatView struct {
	Chat     *domain.ActiveChat
	Status   SyncStatus
	Messages []domain.Message
	// Err is the last fetch failure for the active chat, cleared by the next
	// successful fetch.
	Err      error
	SyncedAt time.Time
	Users    []domain.User
	Groups   []domain.Group
}

type ChatServiceConfig struct {
	PollInterval time.Duration
}

// ChatService keeps the message buffer of the active chat in sync with the
// backend by polling, and runs the chat write operations. Every selection
// gets a new generation; fetch results from an older generation are dropped.
type ChatService struct {
	backend  Backend
	identity Identity
	archive  repository.MessageRepository
	bus      domain.EventBus
	clock    clock.Clock
	interval time.Duration
	log      zerolog.Logger

	mu         sync.Mutex
	owner      string
	active     *domain.ActiveChat
	generation uint64
	// fetchSeq numbers fetches as they start; applied is the newest one
	// whose outcome reached the buffer.
	fetchSeq   uint64
	applied    uint64
	status     SyncStatus
	messages   []domain.Message
	lastErr    error
	syncedAt   time.Time
	users      []domain.User
	groups     []domain.Group
	loop       *pollLoop

	// loops tracks every polling goroutine, including cancelled ones still
	// finishing a fetch.
	loops sync.WaitGroup
}

type pollLoop struct {
	cancel context.CancelFunc
	ticker *clock.Ticker
}

func (l *pollLoop) stop() {
	l.cancel()
	l.ticker.Stop()
}

// NewChatService creates the engine. archive may be nil.
func NewChatService(
	backend Backend,
	identity Identity,
	archive repository.MessageRepository,
	bus domain.EventBus,
	clk clock.Clock,
	config ChatServiceConfig,
) *ChatService {
	interval := config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ChatService{
		backend:  backend,
		identity: identity,
		archive:  archive,
		bus:      bus,
		clock:    clk,
		interval: interval,
		log:      logger.Module("chat"),
		status:   SyncIdle,
	}
}

func (s *ChatService) SelectDirect(peer domain.User) error {
	if peer.ID == "" {
		return domain.ValidationError("select_chat", "peer has no id")
	}
	return s.selectChat(domain.NewDirectChat(peer))
}

func (s *ChatService) SelectGroup(group domain.Group) error {
	if group.ID == "" {
		return domain.ValidationError("select_chat", "group has no id")
	}
	return s.selectChat(domain.NewGroupChat(group))
}

// selectChat replaces the active chat, clears the buffer and restarts
// polling. The previous loop is cancelled but not waited for; its results are
// fenced by generation.
func (s *ChatService) selectChat(chat *domain.ActiveChat) error {
	if s.identity.CurrentUser() == nil {
		return domain.NotAuthenticated("select_chat")
	}

	s.mu.Lock()
	if s.loop != nil {
		s.loop.stop()
	}
	s.generation++
	gen := s.generation
	s.active = chat
	s.messages = nil
	s.lastErr = nil
	s.syncedAt = time.Time{}
	s.status = SyncLoading

	ctx, cancel := context.WithCancel(context.Background())
	loop := &pollLoop{
		cancel: cancel,
		ticker: s.clock.NewTicker(s.interval),
	}
	s.loop = loop
	s.mu.Unlock()

	s.log.Debug().Str("chat", chat.ID()).Str("kind", string(chat.Kind)).Uint64("generation", gen).Msg("Selected chat")
	s.publish(domain.ActiveChatChangedEvent{Chat: copyChat(chat), EventTime: s.clock.Now()})

	s.loops.Add(1)
	go s.poll(ctx, gen, chat, loop)
	return nil
}

func (s *ChatService) poll(ctx context.Context, gen uint64, chat *domain.ActiveChat, loop *pollLoop) {
	defer s.loops.Done()

	s.fetch(ctx, gen, chat)
	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.ticker.C:
			s.fetch(ctx, gen, chat)
		}
	}
}

// fetch loads the full message set of chat and replaces the buffer, unless
// the selection moved on or a fetch that started later already landed. A
// failure keeps the buffer and records the error.
func (s *ChatService) fetch(ctx context.Context, gen uint64, chat *domain.ActiveChat) error {
	if ctx.Err() != nil {
		return nil
	}
	seq, ok := s.begin(gen)
	if !ok {
		return nil
	}
	me := s.identity.CurrentUser()
	if me == nil {
		return domain.NotAuthenticated("fetch_messages")
	}

	var (
		msgs []domain.Message
		err  error
	)
	switch chat.Kind {
	case domain.ChatKindGroup:
		msgs, err = s.backend.GetGroupMessages(ctx, chat.Group.ID)
	default:
		msgs, err = s.backend.GetDirectMessages(ctx, me.ID, chat.Peer.ID)
	}

	s.mu.Lock()
	if ctx.Err() != nil || s.generation != gen || seq < s.applied {
		s.mu.Unlock()
		s.log.Debug().Str("chat", chat.ID()).Uint64("generation", gen).Uint64("seq", seq).Msg("Dropped stale fetch")
		return nil
	}
	s.applied = seq
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("chat", chat.ID()).Msg("Fetch failed, keeping last known messages")
		s.publish(domain.SyncFailedEvent{ChatID: chat.ID(), Err: err, EventTime: s.clock.Now()})
		return err
	}

	fresh := newMessages(s.messages, msgs)
	s.messages = msgs
	s.lastErr = nil
	s.status = SyncSynced
	s.syncedAt = s.clock.Now()
	s.mu.Unlock()

	if !ordered(msgs) {
		s.log.Warn().Str("chat", chat.ID()).Msg("Backend returned messages out of timestamp order")
	}

	if s.archive != nil && len(msgs) > 0 {
		if err := s.archive.UpsertMany(ctx, msgs); err != nil {
			s.log.Warn().Err(err).Msg("Failed to archive messages")
		}
	}

	s.publish(domain.MessagesSyncedEvent{
		ChatID:    chat.ID(),
		Messages:  slices.Clone(msgs),
		New:       fresh,
		EventTime: s.clock.Now(),
	})
	return nil
}

// begin numbers a fetch for generation gen, or reports false when gen is no
// longer current.
func (s *ChatService) begin(gen uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return 0, false
	}
	s.fetchSeq++
	return s.fetchSeq, true
}

// current returns the active chat and its generation.
func (s *ChatService) current() (*domain.ActiveChat, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.generation
}

// Refresh fetches the active chat immediately.
func (s *ChatService) Refresh(ctx context.Context) error {
	chat, gen := s.current()
	if chat == nil {
		return domain.ValidationError("refresh", "no active chat")
	}
	return s.fetch(ctx, gen, chat)
}

// Send posts content to the active chat and then refreshes it. Nothing is
// added to the buffer locally; the message appears once the backend returns
// it. A failed refresh after a successful send is reported through the view,
// not the returned error.
func (s *ChatService) Send(ctx context.Context, content string, msgType domain.MessageType) (uint64, error) {
	const op = "send"
	if err := domain.ValidateContent(op, content); err != nil {
		return 0, err
	}
	if !msgType.Valid() {
		return 0, domain.ValidationError(op, "unknown message type %q", msgType)
	}
	me := s.identity.CurrentUser()
	if me == nil {
		return 0, domain.NotAuthenticated(op)
	}
	chat, gen := s.current()
	if chat == nil {
		return 0, domain.ValidationError(op, "no active chat")
	}

	var (
		id  uint64
		err error
	)
	switch chat.Kind {
	case domain.ChatKindGroup:
		id, err = s.backend.SendGroupMessage(ctx, me.ID, chat.Group.ID, content, msgType)
	default:
		id, err = s.backend.SendDirectMessage(ctx, me.ID, chat.Peer.ID, content, msgType)
	}
	if err != nil {
		return 0, err
	}

	s.log.Debug().Uint64("message_id", id).Str("chat", chat.ID()).Msg("Message sent")
	s.publish(domain.MessageSentEvent{ChatID: chat.ID(), MessageID: id, EventTime: s.clock.Now()})

	if err := s.fetch(ctx, gen, chat); err != nil {
		s.log.Warn().Err(err).Msg("Refresh after send failed")
	}
	return id, nil
}

// CreateGroup creates a group with the signed-in user as creator and reloads
// the user's group list.
func (s *ChatService) CreateGroup(ctx context.Context, name, description string, memberIDs []string) (*domain.Group, error) {
	const op = "create_group"
	if err := domain.ValidateGroupName(op, name); err != nil {
		return nil, err
	}
	me := s.identity.CurrentUser()
	if me == nil {
		return nil, domain.NotAuthenticated(op)
	}

	group, err := s.backend.CreateGroup(ctx, strings.TrimSpace(name), strings.TrimSpace(description), me.ID, domain.MemberSet(memberIDs))
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("group_id", group.ID).Int("members", len(group.Members)).Msg("Group created")

	if _, err := s.LoadGroups(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Reload groups after create failed")
	}
	return &group, nil
}

// AddMember adds userID to the active group. Adding an existing member is a
// no-op.
func (s *ChatService) AddMember(ctx context.Context, userID string) (*domain.Group, error) {
	const op = "add_member"
	me := s.identity.CurrentUser()
	if me == nil {
		return nil, domain.NotAuthenticated(op)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ValidationError(op, "user id cannot be empty")
	}
	chat, gen := s.current()
	if chat == nil || chat.Kind != domain.ChatKindGroup {
		return nil, domain.ValidationError(op, "active chat is not a group")
	}
	if chat.Group.HasMember(userID) {
		g := *chat.Group
		return &g, nil
	}

	group, err := s.backend.AddMemberToGroup(ctx, chat.Group.ID, userID, me.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.generation == gen && s.active != nil {
		s.active = domain.NewGroupChat(group)
	}
	s.mu.Unlock()

	if _, err := s.LoadGroups(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Reload groups after add member failed")
	}
	return &group, nil
}

func (s *ChatService) MarkRead(ctx context.Context, messageID uint64) error {
	const op = "mark_read"
	me := s.identity.CurrentUser()
	if me == nil {
		return domain.NotAuthenticated(op)
	}
	if err := s.backend.MarkMessageAsRead(ctx, messageID, me.ID); err != nil {
		return err
	}
	s.refreshAfterWrite(ctx, op)
	return nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, messageID uint64) error {
	const op = "delete_message"
	me := s.identity.CurrentUser()
	if me == nil {
		return domain.NotAuthenticated(op)
	}
	if err := s.backend.DeleteMessage(ctx, messageID, me.ID); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.Delete(ctx, messageID); err != nil {
			s.log.Warn().Err(err).Uint64("message_id", messageID).Msg("Failed to remove archived message")
		}
	}
	s.refreshAfterWrite(ctx, op)
	return nil
}

func (s *ChatService) refreshAfterWrite(ctx context.Context, op string) {
	chat, gen := s.current()
	if chat == nil {
		return
	}
	if err := s.fetch(ctx, gen, chat); err != nil {
		s.log.Warn().Err(err).Str("op", op).Msg("Refresh after write failed")
	}
}

// LoadUsers fetches every user except the signed-in one.
func (s *ChatService) LoadUsers(ctx context.Context) ([]domain.User, error) {
	me := s.identity.CurrentUser()
	if me == nil {
		return nil, domain.NotAuthenticated("load_users")
	}
	all, err := s.backend.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := excludeUser(all, me.ID)

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	s.publish(domain.UsersUpdatedEvent{Users: slices.Clone(users), EventTime: s.clock.Now()})
	return slices.Clone(users), nil
}

// LoadGroups fetches the groups the signed-in user belongs to.
func (s *ChatService) LoadGroups(ctx context.Context) ([]domain.Group, error) {
	me := s.identity.CurrentUser()
	if me == nil {
		return nil, domain.NotAuthenticated("load_groups")
	}
	groups, err := s.backend.GetUserGroups(ctx, me.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()

	s.publish(domain.GroupsUpdatedEvent{Groups: slices.Clone(groups), EventTime: s.clock.Now()})
	return slices.Clone(groups), nil
}

// LoadDirectory loads users and groups, returning both errors if both fail.
func (s *ChatService) LoadDirectory(ctx context.Context) error {
	_, usersErr := s.LoadUsers(ctx)
	_, groupsErr := s.LoadGroups(ctx)
	return errors.Join(usersErr, groupsErr)
}

func (s *ChatService) OnlineUsers(ctx context.Context) ([]domain.User, error) {
	me := s.identity.CurrentUser()
	if me == nil {
		return nil, domain.NotAuthenticated("online_users")
	}
	users, err := s.backend.GetOnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	return excludeUser(users, me.ID), nil
}

func (s *ChatService) UnreadCount(ctx context.Context) (uint64, error) {
	me := s.identity.CurrentUser()
	if me == nil {
		return 0, domain.NotAuthenticated("unread_count")
	}
	return s.backend.GetUnreadMessageCount(ctx, me.ID)
}

// OpenDirectChat selects the direct chat with userID, resolving the user from
// the loaded directory or the backend.
func (s *ChatService) OpenDirectChat(ctx context.Context, userID string) error {
	const op = "open_chat"
	if s.identity.CurrentUser() == nil {
		return domain.NotAuthenticated(op)
	}

	s.mu.Lock()
	idx := slices.IndexFunc(s.users, func(u domain.User) bool { return u.ID == userID })
	var peer *domain.User
	if idx >= 0 {
		u := s.users[idx]
		peer = &u
	}
	s.mu.Unlock()

	if peer == nil {
		u, err := s.backend.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return domain.ValidationError(op, "unknown user %q", userID)
		}
		peer = u
	}
	return s.SelectDirect(*peer)
}

// OpenGroupChat selects the group chat groupID, resolving the group from the
// loaded directory or the backend.
func (s *ChatService) OpenGroupChat(ctx context.Context, groupID string) error {
	const op = "open_group"
	if s.identity.CurrentUser() == nil {
		return domain.NotAuthenticated(op)
	}

	s.mu.Lock()
	idx := slices.IndexFunc(s.groups, func(g domain.Group) bool { return g.ID == groupID })
	var group *domain.Group
	if idx >= 0 {
		g := s.groups[idx]
		group = &g
	}
	s.mu.Unlock()

	if group == nil {
		g, err := s.backend.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if g == nil {
			return domain.ValidationError(op, "unknown group %q", groupID)
		}
		group = g
	}
	return s.SelectGroup(*group)
}

// SearchArchive searches the local archive of synced messages.
func (s *ChatService) SearchArchive(ctx context.Context, query string, limit int) ([]*domain.Message, error) {
	const op = "search"
	if strings.TrimSpace(query) == "" {
		return nil, domain.ValidationError(op, "query cannot be empty")
	}
	if s.archive == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.archive.Search(ctx, query, limit)
}

// History returns archived messages of the active chat, oldest first.
func (s *ChatService) History(ctx context.Context, limit int) ([]*domain.Message, error) {
	const op = "history"
	me := s.identity.CurrentUser()
	if me == nil {
		return nil, domain.NotAuthenticated(op)
	}
	chat, _ := s.current()
	if chat == nil {
		return nil, domain.ValidationError(op, "no active chat")
	}
	if s.archive == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	key := repository.GroupConversation(chat.ID())
	if chat.Kind == domain.ChatKindDirect {
		key = repository.DirectConversation(me.ID, chat.Peer.ID)
	}
	return s.archive.GetByConversation(ctx, key, limit)
}

// ActiveChat returns a copy of the current selection, or nil.
func (s *ChatService) ActiveChat() *domain.ActiveChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyChat(s.active)
}

func (s *ChatService) Snapshot() ChatView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ChatView{
		Chat:     copyChat(s.active),
		Status:   s.status,
		Messages: slices.Clone(s.messages),
		Err:      s.lastErr,
		SyncedAt: s.syncedAt,
		Users:    slices.Clone(s.users),
		Groups:   slices.Clone(s.groups),
	}
}

// HandleSessionChange resets the engine when the signed-in user goes away or
// changes. Register it with SessionService.AddListener.
func (s *ChatService) HandleSessionChange(user *domain.User) {
	s.mu.Lock()
	owner := s.owner
	if user != nil {
		s.owner = user.ID
	} else {
		s.owner = ""
	}
	s.mu.Unlock()

	if user == nil || (owner != "" && owner != user.ID) {
		s.Close()
	}
}

// Close stops polling, waits for every polling goroutine to exit and clears
// the view.
func (s *ChatService) Close() {
	s.mu.Lock()
	loop := s.loop
	s.loop = nil
	s.generation++
	hadChat := s.active != nil
	s.active = nil
	s.messages = nil
	s.lastErr = nil
	s.syncedAt = time.Time{}
	s.status = SyncIdle
	s.users = nil
	s.groups = nil
	if loop != nil {
		loop.stop()
	}
	s.mu.Unlock()

	s.loops.Wait()
	if hadChat {
		s.publish(domain.ActiveChatChangedEvent{EventTime: s.clock.Now()})
	}
}

func (s *ChatService) publish(event domain.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

func copyChat(c *domain.ActiveChat) *domain.ActiveChat {
	if c == nil {
		return nil
	}
	if c.Kind == domain.ChatKindGroup {
		return domain.NewGroupChat(*c.Group)
	}
	return domain.NewDirectChat(*c.Peer)
}

func excludeUser(users []domain.User, id string) []domain.User {
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.ID != id {
			out = append(out, u)
		}
	}
	return out
}

// newMessages returns the messages of next whose ids are not in prev.
func newMessages(prev, next []domain.Message) []domain.Message {
	seen := make(map[uint64]struct{}, len(prev))
	for _, m := range prev {
		seen[m.ID] = struct{}{}
	}
	var out []domain.Message
	for _, m := range next {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// ordered reports whether msgs are in non-decreasing timestamp order. The
// buffer keeps server order either way.
func ordered(msgs []domain.Message) bool {
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			return false
		}
	}
	return true
}

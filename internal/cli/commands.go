package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
	"github.com/clippy-oss/homie/canister-chat/internal/service"
)

// errQuit is returned by Execute for the quit command.
var errQuit = errors.New("quit")

// Connection reports backend reachability. *gateway.Gateway implements it.
type Connection interface {
	Health(ctx context.Context) (gateway.HealthStatus, error)
	Ready() bool
}

// CommandHandler handles CLI commands
type CommandHandler struct {
	session *service.SessionService
	chat    *service.ChatService
	conn    Connection
	bus     domain.EventBus
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(session *service.SessionService, chat *service.ChatService, conn Connection, bus domain.EventBus) *CommandHandler {
	return &CommandHandler{
		session: session,
		chat:    chat,
		conn:    conn,
		bus:     bus,
	}
}

// Command represents a parsed command
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a command string (e.g., "/send Hello there")
func ParseCommand(input string) (*Command, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty command")
	}

	if !strings.HasPrefix(input, "/") {
		return nil, fmt.Errorf("commands must start with /")
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	if name == "" {
		return nil, fmt.Errorf("empty command")
	}

	return &Command{Name: name, Args: parts[1:]}, nil
}

// Execute executes a command and returns the result
func (h *CommandHandler) Execute(ctx context.Context, cmd *Command) (any, error) {
	switch cmd.Name {
	case "help", "h":
		return h.cmdHelp()
	case "status", "s":
		return h.cmdStatus(), nil
	case "health":
		return h.cmdHealth(ctx)
	case "otp":
		return h.cmdOTP(ctx, cmd.Args)
	case "register":
		return h.cmdRegister(ctx, cmd.Args)
	case "login":
		return h.cmdLogin(ctx, cmd.Args)
	case "logout":
		return h.cmdLogout(ctx)
	case "profile":
		return h.cmdProfile(ctx, cmd.Args)
	case "users", "u":
		return h.cmdUsers(ctx)
	case "online":
		return h.cmdOnline(ctx)
	case "groups", "g":
		return h.cmdGroups(ctx)
	case "open", "o":
		return h.cmdOpen(ctx, cmd.Args)
	case "group":
		return h.cmdOpenGroup(ctx, cmd.Args)
	case "messages", "msg":
		return h.cmdMessages()
	case "refresh", "r":
		return h.cmdRefresh(ctx)
	case "send":
		return h.cmdSend(ctx, domain.MessageTypeText, cmd.Args)
	case "send-media":
		return h.cmdSendMedia(ctx, cmd.Args)
	case "create-group":
		return h.cmdCreateGroup(ctx, cmd.Args)
	case "add-member":
		return h.cmdAddMember(ctx, cmd.Args)
	case "read":
		return h.cmdRead(ctx, cmd.Args)
	case "delete":
		return h.cmdDelete(ctx, cmd.Args)
	case "unread":
		return h.cmdUnread(ctx)
	case "search":
		return h.cmdSearch(ctx, cmd.Args)
	case "history":
		return h.cmdHistory(ctx, cmd.Args)
	case "close":
		h.chat.Close()
		return map[string]string{"message": "Chat closed"}, nil
	case "quit", "exit", "q":
		return nil, errQuit
	default:
		return nil, fmt.Errorf("unknown command: %s. Type /help for available commands", cmd.Name)
	}
}

func (h *CommandHandler) cmdHelp() (any, error) {
	help := `Available commands:

Account:
  /status, /s                    Show session and connection status
  /health                        Probe the backend
  /otp <email>                   Request a one-time code
  /register <email> <code> <name>  Create an account with a one-time code
  /login <email>                 Sign in
  /logout                        Sign out
  /profile name <name>           Change your display name
  /profile avatar [url]          Change your avatar, or clear it

Directory:
  /users, /u                     List users
  /online                        List online users
  /groups, /g                    List your groups
  /unread                        Count unread direct messages

Chat:
  /open, /o <user_id>            Open a direct chat
  /group <group_id>              Open a group chat
  /messages, /msg                Show the active chat
  /refresh, /r                   Fetch the active chat now
  /send <text>                   Send a text message
  /send-media <image|document|file> <reference>  Send a media message
  /create-group <name> [user_id...]  Create a group
  /add-member <user_id>          Add a user to the active group
  /read <message_id>             Mark a message as read
  /delete <message_id>           Delete one of your messages
  /search <query> [limit]        Search synced messages
  /history [limit]               Show archived messages of the active chat
  /close                         Close the active chat

Other:
  /help, /h                      Show this help
  /quit, /exit, /q               Exit the CLI`

	return map[string]string{"help": help}, nil
}

func (h *CommandHandler) cmdStatus() SessionStatus {
	status := SessionStatus{
		State:     string(h.session.State()),
		Connected: h.conn != nil && h.conn.Ready(),
	}
	if u := h.session.CurrentUser(); u != nil {
		info := userInfo(*u)
		status.User = &info
	}
	if chat := h.chat.ActiveChat(); chat != nil {
		status.Chat = chat.Name()
	}
	return status
}

func (h *CommandHandler) cmdHealth(ctx context.Context) (any, error) {
	if h.conn == nil {
		return nil, fmt.Errorf("no backend connection configured")
	}
	return h.conn.Health(ctx)
}

func (h *CommandHandler) cmdOTP(ctx context.Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: /otp <email>")
	}
	code, err := h.session.RequestOTP(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return map[string]string{"message": "One-time code issued", "code": code}, nil
}

func (h *CommandHandler) cmdRegister(ctx context.Context, args []string) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("usage: /register <email> <code> <name>")
	}
	user, err := h.session.Register(ctx, args[0], strings.Join(args[2:], " "), args[1])
	if err != nil {
		return nil, err
	}
	return h.afterSignIn(ctx, user), nil
}

func (h *CommandHandler) cmdLogin(ctx context.Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: /login <email>")
	}
	user, err := h.session.Login(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return h.afterSignIn(ctx, user), nil
}

// afterSignIn loads the directory for the new session. A failure there does
// not undo the sign-in.
func (h *CommandHandler) afterSignIn(ctx context.Context, user *domain.User) UserInfo {
	_ = h.chat.LoadDirectory(ctx)
	return userInfo(*user)
}

func (h *CommandHandler) cmdLogout(ctx context.Context) (any, error) {
	if err := h.session.Logout(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"message": "Logged out"}, nil
}

func (h *CommandHandler) cmdProfile(ctx context.Context, args []string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: /profile name <name> | /profile avatar [url]")
	}
	value := strings.Join(args[1:], " ")

	var (
		user *domain.User
		err  error
	)
	switch args[0] {
	case "name":
		user, err = h.session.UpdateProfile(ctx, &value, nil)
	case "avatar":
		user, err = h.session.UpdateProfile(ctx, nil, &value)
	default:
		return nil, fmt.Errorf("usage: /profile name <name> | /profile avatar [url]")
	}
	if err != nil {
		return nil, err
	}
	return userInfo(*user), nil
}

func (h *CommandHandler) cmdUsers(ctx context.Context) (any, error) {
	users, err := h.chat.LoadUsers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"users": userInfos(users), "count": len(users)}, nil
}

func (h *CommandHandler) cmdOnline(ctx context.Context) (any, error) {
	users, err := h.chat.OnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"users": userInfos(users), "count": len(users)}, nil
}

func (h *CommandHandler) cmdGroups(ctx context.Context) (any, error) {
	groups, err := h.chat.LoadGroups(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"groups": groupInfos(groups), "count": len(groups)}, nil
}

func (h *CommandHandler) cmdOpen(ctx context.Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: /open <user_id>")
	}
	if err := h.chat.OpenDirectChat(ctx, args[0]); err != nil {
		return nil, err
	}
	return h.chatInfo(), nil
}

func (h *CommandHandler) cmdOpenGroup(ctx context.Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: /group <group_id>")
	}
	if err := h.chat.OpenGroupChat(ctx, args[0]); err != nil {
		return nil, err
	}
	return h.chatInfo(), nil
}

func (h *CommandHandler) cmdMessages() (any, error) {
	if h.chat.ActiveChat() == nil {
		return nil, fmt.Errorf("no active chat. Use /open or /group first")
	}
	return h.chatInfo(), nil
}

func (h *CommandHandler) cmdRefresh(ctx context.Context) (any, error) {
	if err := h.chat.Refresh(ctx); err != nil {
		return nil, err
	}
	return h.chatInfo(), nil
}

// chatInfo renders the current snapshot of the active chat.
func (h *CommandHandler) chatInfo() ChatInfo {
	view := h.chat.Snapshot()
	info := ChatInfo{
		Status:   string(view.Status),
		SyncedAt: view.SyncedAt,
		Messages: messageInfos(view.Messages, h.me()),
	}
	if view.Chat != nil {
		info.Kind = string(view.Chat.Kind)
		info.ID = view.Chat.ID()
		info.Name = view.Chat.Name()
	}
	if view.Err != nil {
		info.Error = view.Err.Error()
	}
	return info
}

func (h *CommandHandler) me() string {
	if u := h.session.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}

func (h *CommandHandler) cmdSend(ctx context.Context, msgType domain.MessageType, args []string) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /send <text>")
	}
	id, err := h.chat.Send(ctx, strings.Join(args, " "), msgType)
	if err != nil {
		return nil, err
	}
	result := map[string]any{"message": "Message sent", "message_id": id}
	if view := h.chat.Snapshot(); view.Err != nil {
		result["warning"] = view.Err.Error()
	}
	return result, nil
}

func (h *CommandHandler) cmdSendMedia(ctx context.Context, args []string) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: /send-media <image|document|file> <reference>")
	}
	msgType, err := domain.ParseMessageType(args[0])
	if err != nil {
		return nil, err
	}
	return h.cmdSend(ctx, msgType, args[1:])
}

func (h *CommandHandler) cmdCreateGroup(ctx context.Context, args []string) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /create-group <name> [user_id...]")
	}
	group, err := h.chat.CreateGroup(ctx, args[0], "", args[1:])
	if err != nil {
		return nil, err
	}
	return groupInfo(*group), nil
}

func (h *CommandHandler) cmdAddMember(ctx context.Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: /add-member <user_id>")
	}
	group, err := h.chat.AddMember(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return groupInfo(*group), nil
}

func parseMessageID(usage string, args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", args[0])
	}
	return id, nil
}

func (h *CommandHandler) cmdRead(ctx context.Context, args []string) (any, error) {
	id, err := parseMessageID("/read <message_id>", args)
	if err != nil {
		return nil, err
	}
	if err := h.chat.MarkRead(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Message marked as read", "message_id": id}, nil
}

func (h *CommandHandler) cmdDelete(ctx context.Context, args []string) (any, error) {
	id, err := parseMessageID("/delete <message_id>", args)
	if err != nil {
		return nil, err
	}
	if err := h.chat.DeleteMessage(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Message deleted", "message_id": id}, nil
}

func (h *CommandHandler) cmdUnread(ctx context.Context) (any, error) {
	n, err := h.chat.UnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"unread": n}, nil
}

func (h *CommandHandler) cmdSearch(ctx context.Context, args []string) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /search <query> [limit]")
	}

	query := strings.Join(args, " ")
	limit := 20

	// Check if last arg is a number (limit)
	if len(args) > 1 {
		if l, err := strconv.Atoi(args[len(args)-1]); err == nil && l > 0 {
			limit = l
			query = strings.Join(args[:len(args)-1], " ")
		}
	}

	messages, err := h.chat.SearchArchive(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	result := archived(messages, h.me())
	return map[string]any{"query": query, "messages": result, "count": len(result)}, nil
}

func (h *CommandHandler) cmdHistory(ctx context.Context, args []string) (any, error) {
	limit := 50
	if len(args) > 0 {
		if l, err := strconv.Atoi(args[0]); err == nil && l > 0 {
			limit = l
		}
	}
	messages, err := h.chat.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := archived(messages, h.me())
	return map[string]any{"messages": result, "count": len(result)}, nil
}

func archived(msgs []*domain.Message, me string) []MessageInfo {
	out := make([]MessageInfo, len(msgs))
	for i, m := range msgs {
		out[i] = messageInfo(*m, me)
	}
	return out
}

// SubscribeEvents forwards session and chat events as CLI events until ctx
// is done.
func (h *CommandHandler) SubscribeEvents(ctx context.Context) <-chan Event {
	domainChan := h.bus.Subscribe([]domain.EventType{
		domain.EventTypeSessionChanged,
		domain.EventTypeActiveChatChanged,
		domain.EventTypeMessagesSynced,
		domain.EventTypeSyncFailed,
		domain.EventTypeMessageSent,
	})

	resultChan := make(chan Event)

	go func() {
		defer close(resultChan)
		defer h.bus.Unsubscribe(domainChan)
		for {
			var evt domain.Event
			select {
			case <-ctx.Done():
				return
			case e, ok := <-domainChan:
				if !ok {
					return
				}
				evt = e
			}

			out, ok := h.translate(evt)
			if !ok {
				continue
			}
			select {
			case resultChan <- out:
			case <-ctx.Done():
				return
			}
		}
	}()

	return resultChan
}

func (h *CommandHandler) translate(evt domain.Event) (Event, bool) {
	out := Event{Timestamp: evt.Timestamp()}
	switch e := evt.(type) {
	case domain.SessionChangedEvent:
		out.Type = "session_changed"
		var data *UserInfo
		if e.User != nil {
			info := userInfo(*e.User)
			data = &info
		}
		out.Data = map[string]any{"user": data}
	case domain.ActiveChatChangedEvent:
		out.Type = "chat_changed"
		data := map[string]any{"chat": nil}
		if e.Chat != nil {
			data["chat"] = map[string]string{"kind": string(e.Chat.Kind), "id": e.Chat.ID(), "name": e.Chat.Name()}
		}
		out.Data = data
	case domain.MessagesSyncedEvent:
		if len(e.New) == 0 {
			return Event{}, false
		}
		out.Type = "new_messages"
		out.Data = map[string]any{
			"chat_id":  e.ChatID,
			"messages": messageInfos(e.New, h.me()),
			"total":    len(e.Messages),
		}
	case domain.SyncFailedEvent:
		out.Type = "sync_failed"
		out.Data = map[string]any{"chat_id": e.ChatID, "error": e.Err.Error()}
	case domain.MessageSentEvent:
		out.Type = "message_sent"
		out.Data = map[string]any{"chat_id": e.ChatID, "message_id": e.MessageID}
	default:
		return Event{}, false
	}
	return out, true
}

package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

const timeLayout = "2006-01-02 15:04"

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var result strings.Builder
	fmt.Fprintf(&result, "Session: %s\n", s.session.State())

	if u := s.session.CurrentUser(); u != nil {
		fmt.Fprintf(&result, "User: %s <%s>\n", u.DisplayName(), u.Email)
		fmt.Fprintf(&result, "User ID: %s\n", u.ID)
	}
	if chat := s.chat.ActiveChat(); chat != nil {
		fmt.Fprintf(&result, "Active chat: %s (%s, ID: %s)\n", chat.Name(), chat.Kind, chat.ID())
	}

	if s.conn != nil {
		fmt.Fprintf(&result, "Connected: %v\n", s.conn.Ready())
		if h, err := s.conn.Health(ctx); err != nil {
			fmt.Fprintf(&result, "Backend: unreachable (%v)\n", err)
		} else {
			fmt.Fprintf(&result, "Backend: %s\n", h.Status)
			if h.Warning != "" {
				fmt.Fprintf(&result, "Warning: %s\n", h.Warning)
			}
		}
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleLogin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email := request.GetString("email", "")
	if email == "" {
		return mcp.NewToolResultError("email is required"), nil
	}

	user, err := s.session.Login(ctx, email)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Login failed: %v", err)), nil
	}
	if err := s.chat.LoadDirectory(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to load directory after login")
	}

	return mcp.NewToolResultText(fmt.Sprintf("Signed in as %s <%s>\nID: %s",
		user.DisplayName(), user.Email, user.ID)), nil
}

func (s *Server) handleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.session.Logout(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Signed out locally, but: %v", err)), nil
	}
	return mcp.NewToolResultText("Signed out"), nil
}

func (s *Server) handleListUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		users []domain.User
		err   error
	)
	if request.GetBool("online_only", false) {
		users, err = s.chat.OnlineUsers(ctx)
	} else {
		users, err = s.chat.LoadUsers(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list users: %v", err)), nil
	}

	if len(users) == 0 {
		return mcp.NewToolResultText("No other users found."), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Found %d user(s):\n\n", len(users))
	for i, u := range users {
		presence := "offline"
		if u.IsOnline {
			presence = "online"
		}
		fmt.Fprintf(&result, "%d. %s <%s> [%s]\n", i+1, u.DisplayName(), u.Email, presence)
		fmt.Fprintf(&result, "   ID: %s\n\n", u.ID)
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleListGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := s.chat.LoadGroups(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list groups: %v", err)), nil
	}

	if len(groups) == 0 {
		return mcp.NewToolResultText("You are not a member of any group."), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Found %d group(s):\n\n", len(groups))
	for i, g := range groups {
		fmt.Fprintf(&result, "%d. %s (%d members)\n", i+1, g.Name, len(g.Members))
		if g.Description != "" {
			fmt.Fprintf(&result, "   %s\n", g.Description)
		}
		fmt.Fprintf(&result, "   ID: %s\n\n", g.ID)
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	groupID := request.GetString("group_id", "")

	var err error
	switch {
	case userID != "" && groupID != "":
		return mcp.NewToolResultError("give either user_id or group_id, not both"), nil
	case userID != "":
		err = s.chat.OpenDirectChat(ctx, userID)
	case groupID != "":
		err = s.chat.OpenGroupChat(ctx, groupID)
	default:
		return mcp.NewToolResultError("user_id or group_id is required"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open chat: %v", err)), nil
	}

	chat := s.chat.ActiveChat()
	return mcp.NewToolResultText(fmt.Sprintf("Opened %s chat with %s\nID: %s", chat.Kind, chat.Name(), chat.ID())), nil
}

func (s *Server) handleGetMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.chat.ActiveChat() == nil {
		return mcp.NewToolResultError("No active chat. Use chat_open first."), nil
	}

	limit := request.GetInt("limit", 50)
	if limit > 200 {
		limit = 200
	}
	if limit <= 0 {
		limit = 50
	}

	refreshErr := s.chat.Refresh(ctx)
	view := s.chat.Snapshot()
	if view.Chat == nil {
		return mcp.NewToolResultError("No active chat. Use chat_open first."), nil
	}

	messages := view.Messages
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	var result strings.Builder
	if refreshErr != nil {
		fmt.Fprintf(&result, "Warning: refresh failed, showing last known messages (%v)\n\n", refreshErr)
	}
	if len(messages) == 0 {
		fmt.Fprintf(&result, "No messages in chat with %s", view.Chat.Name())
		return mcp.NewToolResultText(result.String()), nil
	}

	names := s.names(view.Users)
	fmt.Fprintf(&result, "Messages with %s (%d of %d):\n\n", view.Chat.Name(), len(messages), len(view.Messages))
	for _, msg := range messages {
		readStatus := ""
		if msg.IsRead {
			readStatus = " [read]"
		}
		fmt.Fprintf(&result, "[%s] %s%s:\n", msg.Timestamp.Format(timeLayout), names(msg.SenderID), readStatus)
		writeContent(&result, msg)
		fmt.Fprintf(&result, "  ID: %d\n\n", msg.ID)
	}
	return mcp.NewToolResultText(result.String()), nil
}

func writeContent(b *strings.Builder, msg domain.Message) {
	switch msg.Type {
	case domain.MessageTypeImage:
		fmt.Fprintf(b, "  [Image] %s\n", msg.Content)
	case domain.MessageTypeDocument:
		fmt.Fprintf(b, "  [Document] %s\n", msg.Content)
	case domain.MessageTypeFile:
		fmt.Fprintf(b, "  [File] %s\n", msg.Content)
	default:
		fmt.Fprintf(b, "  %s\n", msg.Content)
	}
}

// names resolves sender ids to display names using the loaded directory.
func (s *Server) names(users []domain.User) func(id string) string {
	byID := make(map[string]string, len(users))
	for _, u := range users {
		byID[u.ID] = u.DisplayName()
	}
	var me string
	if u := s.session.CurrentUser(); u != nil {
		me = u.ID
	}
	return func(id string) string {
		if id == me {
			return "Me"
		}
		if name, ok := byID[id]; ok {
			return name
		}
		return id
	}
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	msgType := domain.MessageTypeText
	if t := request.GetString("type", ""); t != "" {
		parsed, err := domain.ParseMessageType(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		msgType = parsed
	}

	id, err := s.chat.Send(ctx, text, msgType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}

	chat := s.chat.ActiveChat()
	out := fmt.Sprintf("Message sent successfully!\nID: %d\nTo: %s", id, chat.Name())
	if view := s.chat.Snapshot(); view.Err != nil {
		out += fmt.Sprintf("\nWarning: refresh after send failed: %v", view.Err)
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleMarkRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageIDsStr := request.GetString("message_ids", "")
	if messageIDsStr == "" {
		return mcp.NewToolResultError("message_ids is required"), nil
	}

	var ids []uint64
	for _, raw := range strings.Split(messageIDsStr, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid message id %q", raw)), nil
		}
		ids = append(ids, id)
	}

	for i, id := range ids {
		if err := s.chat.MarkRead(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Marked %d message(s) as read, failed on %d: %v", i, id, err)), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("Marked %d message(s) as read", len(ids))), nil
}

func (s *Server) handleUnreadCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.chat.UnreadCount(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to count unread messages: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Unread messages: %d", n)), nil
}

func (s *Server) handleSearchMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	limit := request.GetInt("limit", 20)
	if limit > 100 {
		limit = 100
	}
	if limit <= 0 {
		limit = 20
	}

	messages, err := s.chat.SearchArchive(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	if len(messages) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No messages found matching '%s'", query)), nil
	}

	names := s.names(s.chat.Snapshot().Users)
	var result strings.Builder
	fmt.Fprintf(&result, "Search results for '%s' (%d found):\n\n", query, len(messages))
	for i, msg := range messages {
		fmt.Fprintf(&result, "%d. [%s] %s:\n", i+1, msg.Timestamp.Format(timeLayout), names(msg.SenderID))
		if msg.GroupID != "" {
			fmt.Fprintf(&result, "   Group: %s\n", msg.GroupID)
		}

		text := msg.Content
		if len(text) > 100 {
			text = text[:100] + "..."
		}
		fmt.Fprintf(&result, "   %s\n", text)
		fmt.Fprintf(&result, "   ID: %d\n\n", msg.ID)
	}
	return mcp.NewToolResultText(result.String()), nil
}

package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
	"github.com/clippy-oss/homie/canister-chat/internal/service"
)

// Connection reports backend reachability.
type Connection interface {
	Health(ctx context.Context) (gateway.HealthStatus, error)
	Ready() bool
}

type ServerConfig struct {
	Address string
	Version string
}

// Server exposes the chat session to MCP clients over SSE. All tools act as
// the signed-in user of the process.
type Server struct {
	mcpServer  *server.MCPServer
	sseServer  *server.SSEServer
	httpServer *http.Server
	session    *service.SessionService
	chat       *service.ChatService
	conn       Connection
	config     ServerConfig
	log        zerolog.Logger
}

func NewServer(
	session *service.SessionService,
	chat *service.ChatService,
	conn Connection,
	config ServerConfig,
) *Server {
	if config.Version == "" {
		config.Version = "dev"
	}
	s := &Server{
		session: session,
		chat:    chat,
		conn:    conn,
		config:  config,
		log:     logger.Module("mcp"),
	}

	s.mcpServer = server.NewMCPServer(
		"canister-chat",
		config.Version,
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	s.sseServer = server.NewSSEServer(s.mcpServer,
		server.WithKeepAliveInterval(30*time.Second),
	)

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("chat_status",
			mcp.WithDescription("Get the signed-in user, the active chat and backend connection state"),
		),
		s.handleStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_login",
			mcp.WithDescription("Sign in with the email of an existing account"),
			mcp.WithString("email",
				mcp.Required(),
				mcp.Description("Account email address"),
			),
		),
		s.handleLogin,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_logout",
			mcp.WithDescription("Sign out and stop syncing the active chat"),
		),
		s.handleLogout,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_list_users",
			mcp.WithDescription("List the other users of the chat service"),
			mcp.WithBoolean("online_only",
				mcp.Description("Only list users currently online"),
			),
		),
		s.handleListUsers,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_list_groups",
			mcp.WithDescription("List the groups the signed-in user belongs to"),
		),
		s.handleListGroups,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_open",
			mcp.WithDescription("Make a direct or group conversation the active chat. Give exactly one of user_id or group_id."),
			mcp.WithString("user_id",
				mcp.Description("User id for a direct conversation"),
			),
			mcp.WithString("group_id",
				mcp.Description("Group id for a group conversation"),
			),
		),
		s.handleOpen,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_get_messages",
			mcp.WithDescription("Get the messages of the active chat, refreshed from the backend"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of most recent messages to return (default 50, max 200)"),
			),
		),
		s.handleGetMessages,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_send_message",
			mcp.WithDescription("Send a message to the active chat"),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Message text, or the media reference for non-text types"),
			),
			mcp.WithString("type",
				mcp.Description("Message type: text (default), image, document or file"),
			),
		),
		s.handleSendMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_mark_read",
			mcp.WithDescription("Mark messages as read"),
			mcp.WithString("message_ids",
				mcp.Required(),
				mcp.Description("Comma-separated list of message IDs to mark as read"),
			),
		),
		s.handleMarkRead,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_unread_count",
			mcp.WithDescription("Count unread direct messages addressed to the signed-in user"),
		),
		s.handleUnreadCount,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("chat_search_messages",
			mcp.WithDescription("Search locally archived messages by text content"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query text"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum results to return (default 20, max 100)"),
			),
		),
		s.handleSearchMessages,
	)
}

// Handler serves the SSE transport and a health endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) Start() error {
	s.log.Info().Str("address", s.config.Address).Msg("MCP server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

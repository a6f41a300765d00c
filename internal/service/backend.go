package service

import (
	"context"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// Backend is the subset of the remote API the services depend on.
// *gateway.API implements it.
type Backend interface {
	GenerateOTP(ctx context.Context, email string) (string, error)
	RegisterUser(ctx context.Context, email, name, code string) (domain.User, error)
	LoginUser(ctx context.Context, email string) (domain.User, error)
	LogoutUser(ctx context.Context, userID string) error
	UpdateUserProfile(ctx context.Context, userID string, name, avatar *string) (domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	SendDirectMessage(ctx context.Context, senderID, receiverID, content string, msgType domain.MessageType) (uint64, error)
	SendGroupMessage(ctx context.Context, senderID, groupID, content string, msgType domain.MessageType) (uint64, error)
	CreateGroup(ctx context.Context, name, description, creatorID string, memberIDs []string) (domain.Group, error)
	AddMemberToGroup(ctx context.Context, groupID, newMemberID, addedBy string) (domain.Group, error)
	MarkMessageAsRead(ctx context.Context, messageID uint64, userID string) error
	DeleteMessage(ctx context.Context, messageID uint64, userID string) error

	GetAllUsers(ctx context.Context) ([]domain.User, error)
	GetOnlineUsers(ctx context.Context) ([]domain.User, error)
	GetDirectMessages(ctx context.Context, userA, userB string) ([]domain.Message, error)
	GetGroupMessages(ctx context.Context, groupID string) ([]domain.Message, error)
	GetUserGroups(ctx context.Context, userID string) ([]domain.Group, error)
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	GetUnreadMessageCount(ctx context.Context, userID string) (uint64, error)
}

// Identity reports the signed-in user. *SessionService implements it.
type Identity interface {
	CurrentUser() *domain.User
}

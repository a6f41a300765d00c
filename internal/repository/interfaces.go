package repository

import (
	"context"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// SessionRepository stores the single persisted session user.
type SessionRepository interface {
	// Load returns nil when no session is stored.
	Load(ctx context.Context) (*domain.User, error)
	Save(ctx context.Context, user *domain.User) error
	Clear(ctx context.Context) error
}

// MessageRepository is the local archive of messages seen during sync.
type MessageRepository interface {
	UpsertMany(ctx context.Context, msgs []domain.Message) error
	GetByConversation(ctx context.Context, conversation string, limit int) ([]*domain.Message, error)
	Search(ctx context.Context, query string, limit int) ([]*domain.Message, error)
	Delete(ctx context.Context, id uint64) error
}

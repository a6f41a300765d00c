package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { Close(db) })
	return db
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on empty store error = %v", err)
	}
	if got != nil {
		t.Fatalf("Load() on empty store = %+v, want nil", got)
	}

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	alice := &domain.User{ID: "u1", Name: "Alice", Email: "alice@example.com", CreatedAt: created}
	if err := repo.Save(ctx, alice); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err = repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "u1" || got.Email != "alice@example.com" || !got.CreatedAt.Equal(created) {
		t.Fatalf("Load() = %+v", got)
	}

	// Saving again replaces the single record.
	renamed := *alice
	renamed.Name = "Alice B"
	renamed.Avatar = "https://example.com/a.png"
	if err := repo.Save(ctx, &renamed); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.Load(ctx)
	if got.Name != "Alice B" || got.Avatar != "https://example.com/a.png" {
		t.Errorf("Load() after update = %+v", got)
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, err = repo.Load(ctx)
	if err != nil || got != nil {
		t.Errorf("Load() after Clear = %+v, %v; want nil, nil", got, err)
	}

	// Clearing an empty store is not an error.
	if err := repo.Clear(ctx); err != nil {
		t.Errorf("Clear() on empty store error = %v", err)
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewSessionRepository(db).Save(ctx, &domain.User{ID: "u1", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	Close(db)

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { Close(db) })

	got, err := NewSessionRepository(db).Load(ctx)
	if err != nil || got == nil || got.ID != "u1" {
		t.Fatalf("Load() after reopen = %+v, %v", got, err)
	}
}

func TestMessageRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msgs := []domain.Message{
		{ID: 1, SenderID: "u1", ReceiverID: "u2", Content: "hello bob", Type: domain.MessageTypeText, Timestamp: base},
		{ID: 2, SenderID: "u2", ReceiverID: "u1", Content: "hi alice", Type: domain.MessageTypeText, Timestamp: base.Add(time.Minute)},
		{ID: 3, SenderID: "u1", GroupID: "g1", Content: "100% done_ok", Type: domain.MessageTypeText, Timestamp: base.Add(2 * time.Minute)},
	}
	if err := repo.UpsertMany(ctx, msgs); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	direct, err := repo.GetByConversation(ctx, DirectConversation("u2", "u1"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(direct) != 2 || direct[0].ID != 1 || direct[1].ID != 2 {
		t.Fatalf("GetByConversation(direct) = %v, want ids [1 2]", ids(direct))
	}

	// Re-upserting updates the read flag instead of failing on the key.
	msgs[0].IsRead = true
	if err := repo.UpsertMany(ctx, msgs[:1]); err != nil {
		t.Fatal(err)
	}
	direct, _ = repo.GetByConversation(ctx, DirectConversation("u1", "u2"), 10)
	if !direct[0].IsRead {
		t.Error("upsert did not update is_read")
	}

	found, err := repo.Search(ctx, "100%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != 3 {
		t.Errorf("Search(100%%) = %v, want [3]", ids(found))
	}

	found, _ = repo.Search(ctx, "_", 10)
	if len(found) != 1 {
		t.Errorf("Search(_) matched %d messages, want literal match only", len(found))
	}

	if err := repo.Delete(ctx, 3); err != nil {
		t.Fatal(err)
	}
	group, _ := repo.GetByConversation(ctx, GroupConversation("g1"), 10)
	if len(group) != 0 {
		t.Errorf("group conversation still has %d messages after Delete", len(group))
	}
}

func TestConversationKey(t *testing.T) {
	a := ConversationKey(&domain.Message{SenderID: "u1", ReceiverID: "u2"})
	b := ConversationKey(&domain.Message{SenderID: "u2", ReceiverID: "u1"})
	if a != b {
		t.Errorf("direct keys differ by direction: %q vs %q", a, b)
	}
	if g := ConversationKey(&domain.Message{SenderID: "u1", GroupID: "g1"}); g != "group:g1" {
		t.Errorf("group key = %q", g)
	}
}

func ids(msgs []*domain.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

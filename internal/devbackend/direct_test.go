package devbackend

import (
	"context"
	"testing"
	"time"

	"github.com/clippy-oss/homie/canister-chat/internal/clock"
	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

func TestDirect(t *testing.T) {
	s := NewStore(clock.Fake(time.Unix(1700000000, 0)))
	d := NewDirect(s)
	ctx := context.Background()

	t.Run("rejection keeps backend text", func(t *testing.T) {
		_, err := d.LoginUser(ctx, "nobody@example.com")
		if !domain.IsKind(err, domain.KindRemoteRejected) || err.Error() != ErrUserNotFound.Error() {
			t.Errorf("LoginUser() error = %v, want remote rejection %q", err, ErrUserNotFound)
		}
	})

	t.Run("absent lookups are nil", func(t *testing.T) {
		u, err := d.GetUser(ctx, "missing")
		if err != nil || u != nil {
			t.Errorf("GetUser() = %v, %v, want nil, nil", u, err)
		}
		g, err := d.GetGroup(ctx, "missing")
		if err != nil || g != nil {
			t.Errorf("GetGroup() = %v, %v, want nil, nil", g, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		alice := register(t, s, "alice@example.com", "Alice")
		bob := register(t, s, "bob@example.com", "Bob")

		id, err := d.SendDirectMessage(ctx, alice.ID, bob.ID, "hi", domain.MessageTypeText)
		if err != nil {
			t.Fatalf("SendDirectMessage() error = %v", err)
		}
		msgs, err := d.GetDirectMessages(ctx, bob.ID, alice.ID)
		if err != nil || len(msgs) != 1 || msgs[0].ID != id {
			t.Fatalf("GetDirectMessages() = %+v, %v", msgs, err)
		}
		if n, _ := d.GetUnreadMessageCount(ctx, bob.ID); n != 1 {
			t.Errorf("GetUnreadMessageCount() = %d, want 1", n)
		}
		if err := d.DeleteMessage(ctx, id, bob.ID); !domain.IsKind(err, domain.KindRemoteRejected) {
			t.Errorf("DeleteMessage() by receiver error = %v, want remote rejection", err)
		}
	})

	if h, err := d.Health(ctx); err != nil || h.Status != "ok" || !d.Ready() {
		t.Errorf("Health() = %+v, %v", h, err)
	}
}

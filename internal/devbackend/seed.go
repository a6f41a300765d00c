package devbackend

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// DemoEmail is the account the seeded conversations revolve around.
const DemoEmail = "demo@example.com"

var (
	seedNames = []string{
		"Alice Johnson",
		"Bob Smith",
		"Charlie Brown",
		"Diana Prince",
		"Eve Wilson",
		"Frank Miller",
		"Grace Lee",
	}

	seedGroups = []string{
		"Family Group",
		"Work Team",
		"Book Club",
	}

	seedTexts = []string{
		"Hey! How are you doing?",
		"Can we meet tomorrow?",
		"Thanks for your help!",
		"See you later!",
		"That sounds great!",
		"Let me know when you're free",
		"Perfect! I'll be there",
		"What time works for you?",
		"I'll send it over shortly",
		"Looking forward to it!",
		"Let's catch up soon",
		"Can you send me that file?",
		"See you at the meeting",
	}
)

// SeedStats summarizes what Seed created.
type SeedStats struct {
	Users    int
	Groups   int
	Messages int
}

// Seed fills an empty store with a demo account, contacts, groups and a few
// days of backdated conversation.
func Seed(s *Store, rng *rand.Rand) SeedStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var stats SeedStats

	addUser := func(name, email string, online bool) *domain.User {
		u := &domain.User{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     email,
			IsOnline:  online,
			LastSeen:  now.Add(-time.Duration(rng.IntN(180)) * time.Minute),
			CreatedAt: now.Add(-30 * 24 * time.Hour),
		}
		s.users[u.ID] = u
		s.byEmail[email] = u.ID
		stats.Users++
		return u
	}

	demo := addUser("Demo User", DemoEmail, false)
	contacts := make([]*domain.User, 0, len(seedNames))
	for _, name := range seedNames {
		email := strings.ToLower(strings.Fields(name)[0]) + "@example.com"
		contacts = append(contacts, addUser(name, email, rng.Float32() < 0.4))
	}

	conversation := func(pick func() string, receiverID, groupID string) {
		n := 8 + rng.IntN(6)
		at := now.Add(-time.Duration(1+rng.IntN(3)) * 24 * time.Hour)
		for j := 0; j < n; j++ {
			if j > 0 {
				at = at.Add(time.Duration(10+rng.IntN(50)) * time.Minute)
				if at.After(now) {
					at = now.Add(-time.Duration(rng.IntN(30)) * time.Minute)
				}
			}
			sender := pick()
			m := &domain.Message{
				ID:        s.nextID,
				SenderID:  sender,
				GroupID:   groupID,
				Content:   seedTexts[rng.IntN(len(seedTexts))],
				Type:      domain.MessageTypeText,
				Timestamp: at,
				IsRead:    j < n-2 || sender == demo.ID,
			}
			if groupID == "" {
				m.ReceiverID = receiverID
				if sender != demo.ID {
					m.ReceiverID = demo.ID
				}
			}
			if rng.Float32() < 0.1 {
				m.Type = domain.MessageTypeImage
				m.Content = "https://example.com/photo.jpg"
			}
			s.nextID++
			s.messages = append(s.messages, m)
			stats.Messages++
		}
	}

	for _, c := range contacts[:5] {
		conversation(func() string {
			if rng.Float32() < 0.4 {
				return demo.ID
			}
			return c.ID
		}, c.ID, "")
	}

	for i, name := range seedGroups {
		members := []string{demo.ID}
		for _, c := range contacts[i : i+3] {
			members = append(members, c.ID)
		}
		g := &domain.Group{
			ID:          uuid.NewString(),
			Name:        name,
			Description: fmt.Sprintf("Seeded group %d", i+1),
			CreatedBy:   members[1],
			Members:     members,
			CreatedAt:   now.Add(-7 * 24 * time.Hour),
		}
		s.groups[g.ID] = g
		stats.Groups++
		conversation(func() string { return members[rng.IntN(len(members))] }, "", g.ID)
	}

	s.sortMessagesLocked()
	return stats
}

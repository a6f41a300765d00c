package domain

type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// ActiveChat is the one conversation currently displayed and synchronized.
// Exactly one of Peer and Group is set, matching Kind.
type ActiveChat struct {
	Kind  ChatKind
	Peer  *User
	Group *Group
}

func NewDirectChat(peer User) *ActiveChat {
	return &ActiveChat{Kind: ChatKindDirect, Peer: &peer}
}

func NewGroupChat(group Group) *ActiveChat {
	g := group
	g.Members = append([]string(nil), group.Members...)
	return &ActiveChat{Kind: ChatKindGroup, Group: &g}
}

// ID returns the peer user id or the group id.
func (c *ActiveChat) ID() string {
	if c == nil {
		return ""
	}
	if c.Kind == ChatKindGroup {
		return c.Group.ID
	}
	return c.Peer.ID
}

func (c *ActiveChat) Name() string {
	if c == nil {
		return ""
	}
	if c.Kind == ChatKindGroup {
		return c.Group.Name
	}
	return c.Peer.DisplayName()
}

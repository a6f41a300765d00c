package domain

import (
	"sync"
	"time"
)

type EventType string

const (
	EventTypeSessionChanged    EventType = "session.changed"
	EventTypeActiveChatChanged EventType = "chat.active_changed"
	EventTypeMessagesSynced    EventType = "chat.messages_synced"
	EventTypeSyncFailed        EventType = "chat.sync_failed"
	EventTypeMessageSent       EventType = "message.sent"
	EventTypeGroupsUpdated     EventType = "directory.groups_updated"
	EventTypeUsersUpdated      EventType = "directory.users_updated"
)

type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// SessionChangedEvent carries the new identity; User is nil after logout or a
// failed revalidation.
type SessionChangedEvent struct {
	User      *User
	EventTime time.Time
}

func (e SessionChangedEvent) Type() EventType      { return EventTypeSessionChanged }
func (e SessionChangedEvent) Timestamp() time.Time { return e.EventTime }

// ActiveChatChangedEvent: Chat is nil when the selection was cleared.
type ActiveChatChangedEvent struct {
	Chat      *ActiveChat
	EventTime time.Time
}

func (e ActiveChatChangedEvent) Type() EventType      { return EventTypeActiveChatChanged }
func (e ActiveChatChangedEvent) Timestamp() time.Time { return e.EventTime }

// MessagesSyncedEvent is published after a fetch replaced the buffer. New
// holds the messages whose ids were not in the previous buffer.
type MessagesSyncedEvent struct {
	ChatID    string
	Messages  []Message
	New       []Message
	EventTime time.Time
}

func (e MessagesSyncedEvent) Type() EventType      { return EventTypeMessagesSynced }
func (e MessagesSyncedEvent) Timestamp() time.Time { return e.EventTime }

type SyncFailedEvent struct {
	ChatID    string
	Err       error
	EventTime time.Time
}

func (e SyncFailedEvent) Type() EventType      { return EventTypeSyncFailed }
func (e SyncFailedEvent) Timestamp() time.Time { return e.EventTime }

type MessageSentEvent struct {
	ChatID    string
	MessageID uint64
	EventTime time.Time
}

func (e MessageSentEvent) Type() EventType      { return EventTypeMessageSent }
func (e MessageSentEvent) Timestamp() time.Time { return e.EventTime }

type GroupsUpdatedEvent struct {
	Groups    []Group
	EventTime time.Time
}

func (e GroupsUpdatedEvent) Type() EventType      { return EventTypeGroupsUpdated }
func (e GroupsUpdatedEvent) Timestamp() time.Time { return e.EventTime }

type UsersUpdatedEvent struct {
	Users     []User
	EventTime time.Time
}

func (e UsersUpdatedEvent) Type() EventType      { return EventTypeUsersUpdated }
func (e UsersUpdatedEvent) Timestamp() time.Time { return e.EventTime }

// EventBus provides pub/sub for session and chat events
type EventBus interface {
	Publish(event Event)
	Subscribe(eventTypes []EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
}

const subscriberBuffer = 100

// SimpleEventBus is an in-memory EventBus. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type SimpleEventBus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]subscription
}

type subscription struct {
	ch     chan Event
	filter map[EventType]struct{}
}

func (s subscription) wants(t EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

func NewEventBus() *SimpleEventBus {
	return &SimpleEventBus{
		subscribers: make(map[<-chan Event]subscription),
	}
}

func (b *SimpleEventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(event.Type()) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel receiving the given event types, or every event
// when eventTypes is empty.
func (b *SimpleEventBus) Subscribe(eventTypes []EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	filter := make(map[EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = struct{}{}
	}
	b.subscribers[ch] = subscription{ch: ch, filter: filter}
	return ch
}

func (b *SimpleEventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		close(sub.ch)
		delete(b.subscribers, ch)
	}
}

// Package chat implements the message-synchronization core: sender
// attribution, the optimistic outbox, the conversation session controller,
// and the roster synchronizer. All state in this package is mutated only
// from the UI event loop.
package chat

import (
	"sort"
	"time"

	"coachchat/internal/attach"
)

// Sender is the conversational role a message is attributed to.
type Sender string

const (
	SenderStudent Sender = "student"
	SenderCoach   Sender = "coach"
	SenderAdmin   Sender = "admin"
)

// Role is the locally logged-in role.
type Role string

const (
	RoleStudent Role = "student"
	RoleCoach   Role = "coach"
	RoleSupport Role = "support"
)

// Sender returns the sender this role authors messages as.
func (r Role) Sender() Sender {
	switch r {
	case RoleStudent:
		return SenderStudent
	case RoleSupport:
		return SenderAdmin
	default:
		return SenderCoach
	}
}

// Counterpart returns the sender for the other side of a two-party chat.
func (r Role) Counterpart() Sender {
	if r == RoleStudent {
		return SenderCoach
	}
	return SenderStudent
}

// ParticipantType maps the role onto the backend's participant taxonomy:
// students are "cliente", everyone on the team side is "equipo".
func (r Role) ParticipantType() string {
	if r == RoleStudent {
		return "cliente"
	}
	return "equipo"
}

// Message is a single chat entry as rendered. ID is a temporary
// client-generated id until the server confirms, then the server's.
type Message struct {
	ID          string
	Room        string
	Sender      Sender
	Text        string
	Attachments []attach.Attachment
	At          time.Time
	Delivered   bool
	Read        bool
	Failed      bool
	SessionTag  string

	// Rule records which attribution rule classified this message so a
	// later redelivery cannot overwrite a confident classification with a
	// worse guess.
	Rule Rule
}

// MessageList holds the rendered conversation. Each id appears at most
// once; Upsert merges, never duplicates.
type MessageList struct {
	messages []Message
	byID     map[string]int
}

func NewMessageList() *MessageList {
	return &MessageList{byID: make(map[string]int)}
}

// Len returns the number of messages.
func (l *MessageList) Len() int { return len(l.messages) }

// All returns the messages in render order. The returned slice is the
// list's backing storage; callers must not mutate it.
func (l *MessageList) All() []Message { return l.messages }

// Get returns the message with the given id.
func (l *MessageList) Get(id string) (Message, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return Message{}, false
	}
	return l.messages[idx], true
}

// Upsert inserts a message or merges it into the existing entry with the
// same id. Merging keeps the existing timestamp and sender when the
// incoming attribution is not more confident, preventing side flips and
// visual reordering on redelivery.
func (l *MessageList) Upsert(msg Message) {
	if idx, ok := l.byID[msg.ID]; ok {
		l.messages[idx] = mergeMessage(l.messages[idx], msg)
		return
	}
	l.insert(msg)
}

// Replace swaps an entry's id (optimistic client id to server id) and
// merges the rest of the incoming fields. A no-op if oldID is unknown.
func (l *MessageList) Replace(oldID string, msg Message) {
	idx, ok := l.byID[oldID]
	if !ok {
		l.Upsert(msg)
		return
	}
	delete(l.byID, oldID)
	l.messages[idx] = mergeMessage(l.messages[idx], msg)
	l.messages[idx].ID = msg.ID
	l.byID[msg.ID] = idx
}

// MarkRead flags every delivered message from the given sender as read.
func (l *MessageList) MarkRead(sender Sender) {
	for i := range l.messages {
		if l.messages[i].Sender == sender && l.messages[i].Delivered {
			l.messages[i].Read = true
		}
	}
}

// MarkFailed flags the entry with the given id as failed.
func (l *MessageList) MarkFailed(id string) {
	if idx, ok := l.byID[id]; ok {
		l.messages[idx].Failed = true
	}
}

// Clear wipes the list.
func (l *MessageList) Clear() {
	l.messages = nil
	l.byID = make(map[string]int)
}

func (l *MessageList) insert(msg Message) {
	// Messages with a usable timestamp keep chronological order; the rest
	// append at the tail. sort.SliceStable keeps arrival order for ties.
	l.messages = append(l.messages, msg)
	sort.SliceStable(l.messages, func(i, j int) bool {
		a, b := l.messages[i], l.messages[j]
		if a.At.IsZero() || b.At.IsZero() {
			return false
		}
		return a.At.Before(b.At)
	})
	l.reindex()
}

func (l *MessageList) reindex() {
	for i, msg := range l.messages {
		l.byID[msg.ID] = i
	}
}

func mergeMessage(existing, incoming Message) Message {
	merged := existing
	merged.Delivered = existing.Delivered || incoming.Delivered
	merged.Read = existing.Read || incoming.Read
	if merged.Text == "" {
		merged.Text = incoming.Text
	}
	if len(merged.Attachments) == 0 {
		merged.Attachments = incoming.Attachments
	}
	if merged.SessionTag == "" {
		merged.SessionTag = incoming.SessionTag
	}
	// The server's sender wins only when its attribution is strictly more
	// confident than the one already recorded.
	if incoming.Rule.MoreConfidentThan(existing.Rule) {
		merged.Sender = incoming.Sender
		merged.Rule = incoming.Rule
	}
	// Local timestamps are preserved on merge; adopting the server clock
	// would reorder the list under the user's cursor.
	if merged.At.IsZero() {
		merged.At = incoming.At
	}
	return merged
}

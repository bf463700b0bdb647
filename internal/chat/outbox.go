package chat

import (
	"time"

	"coachchat/internal/attach"
)

const (
	// outboxFailAfter is how long an unacknowledged send stays "sending"
	// before it is surfaced as failed. No automatic retry follows.
	outboxFailAfter = 30 * time.Second

	// outboxEvictAfter is how long an entry stays eligible for echo
	// matching at all.
	outboxEvictAfter = 45 * time.Second
)

// OutboxEntry is one locally-sent-but-unconfirmed message.
type OutboxEntry struct {
	ClientID      string
	Text          string
	Shape         attach.Shape
	HasAttachment bool
	SentAt        time.Time
	ParticipantID string
	SessionTag    string

	failReported bool
}

// Outbox indexes in-flight optimistic sends so server echoes can be merged
// back without duplication.
type Outbox struct {
	entries []*OutboxEntry
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Len returns the number of pending entries.
func (o *Outbox) Len() int { return len(o.entries) }

// Enqueue registers a send at the moment it is handed to the transport.
func (o *Outbox) Enqueue(entry *OutboxEntry) {
	o.entries = append(o.entries, entry)
}

// MatchSessionTag returns the pending entry authored under the given
// session tag, the strongest echo signal.
func (o *Outbox) MatchSessionTag(tag string) *OutboxEntry {
	if tag == "" {
		return nil
	}
	for _, entry := range o.entries {
		if entry.SessionTag == tag {
			return entry
		}
	}
	return nil
}

// MatchContent returns a pending entry with identical text and a matching
// attachment shape whose send time sits within the match window of the
// reference time. Session tags differing across entries cannot
// cross-contaminate because text plus shape plus window must all agree.
func (o *Outbox) MatchContent(text string, shape attach.Shape, reference time.Time) *OutboxEntry {
	for _, entry := range o.entries {
		if entry.Text != text {
			continue
		}
		if entry.HasAttachment != (shape.Count > 0) {
			continue
		}
		if entry.HasAttachment && !entry.Shape.Matches(shape) {
			continue
		}
		delta := reference.Sub(entry.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= outboxMatchWindow {
			return entry
		}
	}
	return nil
}

// Resolve removes a confirmed entry.
func (o *Outbox) Resolve(entry *OutboxEntry) {
	for i, e := range o.entries {
		if e == entry {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return
		}
	}
}

// ResolveClientID removes the entry with the given client id, if any.
func (o *Outbox) ResolveClientID(clientID string) {
	for _, entry := range o.entries {
		if entry.ClientID == clientID {
			o.Resolve(entry)
			return
		}
	}
}

// Sweep ages the outbox: entries past the fail deadline are reported once
// via the returned slice, entries past the eviction deadline are dropped
// and no longer eligible for matching.
func (o *Outbox) Sweep(now time.Time) (failed []*OutboxEntry) {
	kept := o.entries[:0]
	for _, entry := range o.entries {
		age := now.Sub(entry.SentAt)
		if age > outboxEvictAfter {
			continue
		}
		if age > outboxFailAfter && !entry.failReported {
			entry.failReported = true
			failed = append(failed, entry)
		}
		kept = append(kept, entry)
	}
	o.entries = kept
	return failed
}

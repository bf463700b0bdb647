package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachchat/internal/wire"
)

type memoryUnreadStore struct {
	counts   map[string]int
	lastRead map[string]time.Time
}

func newMemoryUnreadStore() *memoryUnreadStore {
	return &memoryUnreadStore{counts: make(map[string]int), lastRead: make(map[string]time.Time)}
}

func (m *memoryUnreadStore) Unread(_ context.Context, chatID string) (int, error) {
	return m.counts[chatID], nil
}

func (m *memoryUnreadStore) IncrementUnread(_ context.Context, chatID string) (int, error) {
	m.counts[chatID]++
	return m.counts[chatID], nil
}

func (m *memoryUnreadStore) ClearUnread(_ context.Context, chatID string) error {
	delete(m.counts, chatID)
	return nil
}

func (m *memoryUnreadStore) AllUnread(_ context.Context) (map[string]int, error) {
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func (m *memoryUnreadStore) SetLastRead(_ context.Context, chatID string, at time.Time) error {
	m.lastRead[chatID] = at
	return nil
}

func TestRosterNoteIncoming(t *testing.T) {
	store := newMemoryUnreadStore()
	roster := NewRoster(store)

	roster.NoteIncoming("chat-1", true)
	roster.NoteIncoming("chat-1", true)
	assert.Equal(t, 2, roster.Unread("chat-1"))
	assert.Equal(t, 2, store.counts["chat-1"])

	// Own messages never count.
	roster.NoteIncoming("chat-1", false)
	assert.Equal(t, 2, roster.Unread("chat-1"))

	// The open conversation never accumulates.
	roster.Open("chat-2")
	roster.NoteIncoming("chat-2", true)
	assert.Equal(t, 0, roster.Unread("chat-2"))
}

func TestRosterOpenClearsCounter(t *testing.T) {
	store := newMemoryUnreadStore()
	roster := NewRoster(store)
	roster.NoteIncoming("chat-1", true)

	roster.Open("chat-1")

	assert.Equal(t, 0, roster.Unread("chat-1"))
	assert.Equal(t, 0, store.counts["chat-1"])
	assert.False(t, store.lastRead["chat-1"].IsZero())
	assert.Equal(t, "chat-1", roster.OpenChatID())
}

func TestRosterLoadsPersistedCounters(t *testing.T) {
	store := newMemoryUnreadStore()
	store.counts["chat-1"] = 5

	roster := NewRoster(store)
	assert.Equal(t, 5, roster.Unread("chat-1"))
}

func TestRosterPublishSorts(t *testing.T) {
	now := time.Now()
	roster := NewRoster(nil)
	roster.Publish([]wire.ChatSummary{
		{ChatID: "old", LastActivity: now.Add(-time.Hour)},
		{ChatID: "new", LastActivity: now},
	})

	summaries := roster.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "new", summaries[0].ChatID)
}

func TestRosterEnrichTargets(t *testing.T) {
	roster := NewRoster(nil)

	var summaries []wire.ChatSummary
	for i := 0; i < 15; i++ {
		summaries = append(summaries, wire.ChatSummary{ChatID: string(rune('a' + i))})
	}
	roster.Publish(summaries)

	targets := roster.EnrichTargets()
	assert.Len(t, targets, enrichLimit)

	// Throttled: a refresh right after gets nothing.
	assert.Nil(t, roster.EnrichTargets())

	roster.ApplyEnrichment(targets[0], []wire.Participant{{ID: "p1", Type: "cliente"}})
	enriched := roster.Summaries()
	found := false
	for _, summary := range enriched {
		if summary.ChatID == targets[0] {
			found = true
			assert.Len(t, summary.Participants, 1)
		}
	}
	assert.True(t, found)
}

func TestRosterEnrichNothingWhenComplete(t *testing.T) {
	roster := NewRoster(nil)
	roster.Publish([]wire.ChatSummary{
		{ChatID: "a", Participants: []wire.Participant{{ID: "p1", Type: "cliente"}}},
	})
	assert.Nil(t, roster.EnrichTargets())
}

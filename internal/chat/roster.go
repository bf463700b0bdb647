package chat

import (
	"context"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"coachchat/internal/wire"
)

// enrichLimit caps how many summaries one refresh may enrich via join
// probes; the rest stay participant-less until a later sweep.
const enrichLimit = 10

// enrichEvery throttles enrichment sweeps per controller instance.
const enrichEvery = 20 * time.Second

// UnreadStore persists per-chat unread counters across runs. Counters are
// caches rebuildable from server state; last-writer-wins across instances.
type UnreadStore interface {
	Unread(ctx context.Context, chatID string) (int, error)
	IncrementUnread(ctx context.Context, chatID string) (int, error)
	ClearUnread(ctx context.Context, chatID string) error
	AllUnread(ctx context.Context) (map[string]int, error)
	SetLastRead(ctx context.Context, chatID string, at time.Time) error
}

// Roster maintains the sidebar conversation list: server summaries merged
// with locally-persisted unread counters.
type Roster struct {
	store UnreadStore

	summaries  []wire.ChatSummary
	unread     map[string]int
	openChatID string
	throttle   *rate.Limiter
}

func NewRoster(store UnreadStore) *Roster {
	r := &Roster{
		store:    store,
		unread:   make(map[string]int),
		throttle: rate.NewLimiter(rate.Every(enrichEvery), 1),
	}
	if store != nil {
		if counts, err := store.AllUnread(context.Background()); err != nil {
			glog.Warningf("roster: loading unread counters: %v", err)
		} else {
			r.unread = counts
		}
	}
	return r
}

// Publish replaces the summary list, most-recently-active first.
func (r *Roster) Publish(summaries []wire.ChatSummary) {
	SortSummaries(summaries)
	r.summaries = summaries
}

// Summaries returns the current list.
func (r *Roster) Summaries() []wire.ChatSummary { return r.summaries }

// EnrichTargets returns the chat ids a refresh should probe for their
// participant sets: nothing if every summary already carries participants,
// otherwise the most-recently-active incomplete ones, bounded and
// throttled.
func (r *Roster) EnrichTargets() []string {
	var incomplete []string
	for _, summary := range r.summaries {
		if len(summary.Participants) == 0 {
			incomplete = append(incomplete, summary.ChatID)
		}
		if len(incomplete) == enrichLimit {
			break
		}
	}
	if len(incomplete) == 0 {
		return nil
	}
	if !r.throttle.Allow() {
		return nil
	}
	return incomplete
}

// ApplyEnrichment fills in the participant set a join probe resolved.
func (r *Roster) ApplyEnrichment(chatID string, participants []wire.Participant) {
	for i := range r.summaries {
		if r.summaries[i].ChatID == chatID {
			r.summaries[i].Participants = participants
			return
		}
	}
}

// NoteIncoming bumps the unread counter for a message attributed to the
// other party in a chat that is not currently open. Own messages never
// count.
func (r *Roster) NoteIncoming(chatID string, fromOther bool) {
	if !fromOther || chatID == "" || chatID == r.openChatID {
		return
	}
	r.unread[chatID]++
	if r.store != nil {
		if _, err := r.store.IncrementUnread(context.Background(), chatID); err != nil {
			glog.Warningf("roster: persisting unread for %s: %v", chatID, err)
		}
	}
}

// Open marks a chat as the one on screen and zeroes its counter.
func (r *Roster) Open(chatID string) {
	r.openChatID = chatID
	r.clear(chatID)
	if r.store != nil {
		if err := r.store.SetLastRead(context.Background(), chatID, time.Now()); err != nil {
			glog.Warningf("roster: persisting last-read for %s: %v", chatID, err)
		}
	}
}

// HandleReadAll zeroes a chat's counter on a read-all event.
func (r *Roster) HandleReadAll(chatID string) {
	r.clear(chatID)
}

// Unread returns the locally-known unread count for a chat.
func (r *Roster) Unread(chatID string) int { return r.unread[chatID] }

// OpenChatID returns the chat currently on screen.
func (r *Roster) OpenChatID() string { return r.openChatID }

func (r *Roster) clear(chatID string) {
	if chatID == "" {
		return
	}
	delete(r.unread, chatID)
	if r.store != nil {
		if err := r.store.ClearUnread(context.Background(), chatID); err != nil {
			glog.Warningf("roster: clearing unread for %s: %v", chatID, err)
		}
	}
}

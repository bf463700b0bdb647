package chat

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"coachchat/internal/attach"
	"coachchat/internal/metrics"
	"coachchat/internal/wire"
)

// Channel partitions conversations by which part of the program they
// belong to. Purely a client-side filter.
const (
	ChannelSupport = "support"
	ChannelVSL     = "vsl"
)

// Phase is the session controller's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseCreating
	PhaseJoined
)

func (p Phase) String() string {
	switch p {
	case PhaseResolving:
		return "resolving"
	case PhaseCreating:
		return "creating"
	case PhaseJoined:
		return "joined"
	default:
		return "idle"
	}
}

// Poll cadence. Coaches watch more conversations, so they poll tighter.
const (
	pollIntervalTeam    = 1800 * time.Millisecond
	pollIntervalStudent = 4 * time.Second

	// realtimeQuietWindow suppresses a poll tick when a push arrived
	// recently, so polling does not race live events.
	realtimeQuietWindow = 1500 * time.Millisecond

	// JoinTimeout clears the joining indicator even without a response.
	// The request itself is not aborted.
	JoinTimeout = 5 * time.Second
)

// IngestResult reports what Ingest did with one message.
type IngestResult struct {
	Message    Message
	FromOther  bool
	Reconciled bool
}

// Session owns per-conversation state and drives attribution, the outbox,
// and the message list together. It is a plain state machine: the
// transport work happens elsewhere and feeds decoded results in.
type Session struct {
	Role       Role
	Channel    string
	SessionTag string

	phase           Phase
	chatID          string
	staleRoom       string
	myParticipantID string
	participants    []wire.Participant
	desired         []wire.Participant

	messages *MessageList
	outbox   *Outbox
	uploads  *attach.RecentUploads
	engine   *Engine

	lastRealtime time.Time
}

// NewSession creates a session for the given local role and channel. The
// session tag identifies this process instance for self-echo matching and
// is never a durable identity.
func NewSession(role Role, channel string) *Session {
	s := &Session{
		Role:       role,
		Channel:    channel,
		SessionTag: uuid.NewString(),
		messages:   NewMessageList(),
		outbox:     NewOutbox(),
		uploads:    &attach.RecentUploads{},
	}
	s.engine = &Engine{
		Role:       role,
		SessionTag: s.SessionTag,
		Outbox:     s.outbox,
		Uploads:    s.uploads,
		TwoParty:   s.isTwoParty,
	}
	return s
}

func (s *Session) Phase() Phase { return s.phase }

func (s *Session) ChatID() string { return s.chatID }

func (s *Session) MyParticipantID() string { return s.myParticipantID }

func (s *Session) Participants() []wire.Participant { return s.participants }

func (s *Session) Messages() *MessageList { return s.messages }

func (s *Session) Uploads() *attach.RecentUploads { return s.uploads }

func (s *Session) Desired() []wire.Participant { return s.desired }

// SetDesired switches the participant set the user wants to talk to. An
// already-loaded message list is preserved until the new resolution
// completes so the view does not flash empty.
func (s *Session) SetDesired(participants []wire.Participant) {
	s.desired = participants
	if s.chatID != "" {
		s.staleRoom = s.chatID
	}
	s.chatID = ""
	s.myParticipantID = ""
	s.engine.MyParticipantID = ""
	if s.messages.Len() == 0 {
		s.phase = PhaseIdle
	} else {
		s.phase = PhaseResolving
	}
}

// Resolve consumes a list response and decides the next step: join an
// existing conversation, create one, or wait. Students never create from
// navigation alone; their conversation is created at first send.
func (s *Session) Resolve(summaries []wire.ChatSummary) (chatID string, create bool) {
	s.phase = PhaseResolving
	if summary, ok := MatchConversation(s.desired, summaries); ok {
		return summary.ChatID, false
	}
	if s.creationPermitted() {
		s.phase = PhaseCreating
		return "", true
	}
	return "", false
}

func (s *Session) creationPermitted() bool {
	return s.Role != RoleStudent
}

// NeedsCreateOnSend reports whether the next send must first create the
// conversation (student role, no resolved chat).
func (s *Session) NeedsCreateOnSend() bool {
	return s.phase != PhaseJoined && s.chatID == "" && s.Role == RoleStudent && len(s.desired) > 0
}

// HandleCreate consumes a create ack and moves the session toward joining
// the new conversation.
func (s *Session) HandleCreate(resp *wire.CreateResponse) string {
	if resp == nil || resp.ChatID == "" {
		s.phase = PhaseIdle
		return ""
	}
	s.chatID = resp.ChatID
	if len(resp.Participants) > 0 {
		s.participants = resp.Participants
	}
	metrics.ChatsCreated.Inc()
	return resp.ChatID
}

// HandleJoin consumes a join response: resolves the local participant id,
// replaces the participant set, and ingests history through the shared
// reconciliation path. The periodic poll re-sync is the same call with
// CtxPoll. The old message list is kept when the join carries no history,
// so a re-join cannot wipe loaded state.
func (s *Session) HandleJoin(resp *wire.JoinResponse, ctx Context, now time.Time) {
	if resp == nil || resp.ChatID == "" {
		return
	}
	switching := (s.chatID != "" && s.chatID != resp.ChatID) ||
		(s.staleRoom != "" && s.staleRoom != resp.ChatID)
	s.staleRoom = ""
	s.chatID = resp.ChatID
	s.myParticipantID = resp.ParticipantID
	s.engine.MyParticipantID = resp.ParticipantID
	if len(resp.Participants) > 0 {
		s.participants = resp.Participants
	}
	if switching {
		s.messages.Clear()
	}
	s.phase = PhaseJoined
	for _, msg := range resp.Messages {
		s.Ingest(msg, ctx, now)
	}
	glog.V(2).Infof("session: joined chat %s as participant %s (%d messages)",
		s.chatID, s.myParticipantID, len(resp.Messages))
}

// Ingest is the single reconciliation path for every message regardless of
// how it arrived: join history, realtime push, or poll re-sync. It merges
// server echoes of local sends, attributes everything else, and upserts
// into the message list.
func (s *Session) Ingest(msg wire.Message, ctx Context, now time.Time) IngestResult {
	if ctx == CtxRealtime {
		s.lastRealtime = now
	}
	if msg.ChatID != "" && s.chatID != "" && msg.ChatID != s.chatID {
		return IngestResult{}
	}

	attachments := attach.Normalize(msg.Raw)
	shape := attach.ShapeOf(attachments)

	if entry := s.reconcileOutbox(msg, shape); entry != nil {
		rule := RuleOutbox
		if msg.EmitterID != "" && msg.EmitterID == s.myParticipantID {
			rule = RuleEmitterID
		}
		incoming := Message{
			ID:          serverOrSyntheticID(msg, entry.ClientID),
			Room:        s.chatID,
			Sender:      s.Role.Sender(),
			Text:        msg.Content,
			Attachments: attachments,
			At:          msg.At,
			Delivered:   true,
			SessionTag:  msg.ClientSession,
			Rule:        rule,
		}
		s.messages.Replace(entry.ClientID, incoming)
		s.outbox.Resolve(entry)
		metrics.Reconciliations.WithLabelValues(rule.String()).Inc()
		merged, _ := s.messages.Get(incoming.ID)
		return IngestResult{Message: merged, Reconciled: true}
	}

	sender, rule := s.engine.Attribute(msg, shape, ctx, now)
	message := Message{
		ID:          serverOrSyntheticID(msg, ""),
		Room:        s.chatID,
		Sender:      sender,
		Text:        msg.Content,
		Attachments: attachments,
		At:          msg.At,
		Delivered:   true,
		SessionTag:  msg.ClientSession,
		Rule:        rule,
	}
	if message.At.IsZero() {
		message.At = now
	}
	s.messages.Upsert(message)
	metrics.MessagesReceived.Inc()
	stored, _ := s.messages.Get(message.ID)
	return IngestResult{Message: stored, FromOther: stored.Sender != s.Role.Sender()}
}

// reconcileOutbox matches a server message against pending local sends.
// Tag equality with a live entry is the strongest signal; identical text
// plus attachment shape inside the match window is the fallback. Messages
// that explicitly carry someone else's emitter id or session tag are never
// candidates, so simultaneous identical texts from both sides cannot
// cross-contaminate.
func (s *Session) reconcileOutbox(msg wire.Message, shape attach.Shape) *OutboxEntry {
	if s.outbox.Len() == 0 {
		return nil
	}
	if msg.EmitterID != "" && s.myParticipantID != "" && msg.EmitterID != s.myParticipantID {
		return nil
	}
	if msg.ClientSession != "" && msg.ClientSession != s.SessionTag {
		return nil
	}
	if msg.ClientSession == s.SessionTag {
		if entry := s.outbox.MatchSessionTag(msg.ClientSession); entry != nil {
			if msg.Content == "" || entry.Text == "" || msg.Content == entry.Text {
				return entry
			}
		}
	}
	reference := msg.At
	if reference.IsZero() {
		reference = time.Now()
	}
	return s.outbox.MatchContent(msg.Content, shape, reference)
}

// QueueSend creates the optimistic entry for a local send and returns it.
// The caller hands the same client id to the transport so the ack can be
// routed back through HandleSendAck.
func (s *Session) QueueSend(text string, attachments []attach.Attachment, now time.Time) Message {
	clientID := "local-" + uuid.NewString()
	shape := attach.ShapeOf(attachments)
	s.outbox.Enqueue(&OutboxEntry{
		ClientID:      clientID,
		Text:          text,
		Shape:         shape,
		HasAttachment: shape.Count > 0,
		SentAt:        now,
		ParticipantID: s.myParticipantID,
		SessionTag:    s.SessionTag,
	})
	message := Message{
		ID:          clientID,
		Room:        s.chatID,
		Sender:      s.Role.Sender(),
		Text:        text,
		Attachments: attachments,
		At:          now,
		Delivered:   false,
		SessionTag:  s.SessionTag,
		Rule:        RuleLocalSend,
	}
	s.messages.Upsert(message)
	if shape.Count > 0 {
		s.uploads.Add(shape, now)
	}
	metrics.MessagesSent.Inc()
	return message
}

// HandleSendAck applies a send acknowledgement. An ack that carries the
// server id lets the optimistic entry adopt it immediately; an ack without
// one only flips the delivered flag and leaves the outbox entry live so
// the eventual echo can still be matched by tag.
func (s *Session) HandleSendAck(clientID string, ack *wire.SendAck) {
	if ack == nil || !ack.Success {
		s.messages.MarkFailed(clientID)
		glog.Warningf("session: send %s rejected: %s", clientID, ackError(ack))
		return
	}
	if ack.MessageID == "" {
		if existing, ok := s.messages.Get(clientID); ok {
			existing.Delivered = true
			s.messages.Upsert(existing)
		}
		return
	}
	confirmed := Message{
		ID:        ack.MessageID,
		Delivered: true,
		Rule:      RuleLocalSend,
		Sender:    s.Role.Sender(),
	}
	s.messages.Replace(clientID, confirmed)
	s.outbox.ResolveClientID(clientID)
}

func ackError(ack *wire.SendAck) string {
	if ack == nil {
		return "no acknowledgement"
	}
	if ack.Error != "" {
		return ack.Error
	}
	return "backend reported failure"
}

// HandleRead applies a read notice: the other side acknowledged reading,
// so every delivered local message flips to read.
func (s *Session) HandleRead(notice wire.ReadNotice) {
	if notice.ChatID != "" && notice.ChatID != s.chatID {
		return
	}
	s.messages.MarkRead(s.Role.Sender())
}

// SweepOutbox ages the outbox and marks timed-out sends failed in the
// rendered list. Returns the newly failed entries.
func (s *Session) SweepOutbox(now time.Time) []*OutboxEntry {
	failed := s.outbox.Sweep(now)
	for _, entry := range failed {
		s.messages.MarkFailed(entry.ClientID)
		glog.Warningf("session: send %s never acknowledged, marking failed", entry.ClientID)
	}
	return failed
}

// ShouldPoll reports whether a reconciliation poll is due. Ticks are
// skipped while realtime events are flowing.
func (s *Session) ShouldPoll(now time.Time) bool {
	if s.phase != PhaseJoined {
		return false
	}
	return now.Sub(s.lastRealtime) > realtimeQuietWindow
}

// PollInterval returns the role-dependent reconciliation poll cadence.
func (s *Session) PollInterval() time.Duration {
	if s.Role == RoleStudent {
		return pollIntervalStudent
	}
	return pollIntervalTeam
}

// Delete wipes the conversation client-side: messages, chat id, outbox.
// The controller returns to idle; the chat id is never rejoined by this
// session instance.
func (s *Session) Delete() {
	glog.V(2).Infof("session: deleting chat %s locally", s.chatID)
	s.chatID = ""
	s.staleRoom = ""
	s.myParticipantID = ""
	s.engine.MyParticipantID = ""
	s.participants = nil
	s.messages.Clear()
	s.outbox = NewOutbox()
	s.engine.Outbox = s.outbox
	s.phase = PhaseIdle
}

func (s *Session) isTwoParty() bool {
	var clientes, equipos int
	for _, p := range s.participants {
		switch p.Type {
		case wire.TypeCliente:
			clientes++
		case wire.TypeEquipo:
			equipos++
		}
	}
	return clientes == 1 && equipos == 1 && len(s.participants) == 2
}

// MatchConversation picks the conversation whose participant set matches
// the desired set. An exact set match wins; a subset match (every desired
// participant present remotely) is the fallback, tolerating chats that
// accrued extra participants server-side.
func MatchConversation(desired []wire.Participant, summaries []wire.ChatSummary) (wire.ChatSummary, bool) {
	if len(desired) == 0 {
		return wire.ChatSummary{}, false
	}
	var subset *wire.ChatSummary
	for i := range summaries {
		summary := summaries[i]
		if len(summary.Participants) == 0 {
			continue
		}
		if participantSetsEqual(desired, summary.Participants) {
			return summary, true
		}
		if subset == nil && participantSubset(desired, summary.Participants) {
			subset = &summaries[i]
		}
	}
	if subset != nil {
		return *subset, true
	}
	return wire.ChatSummary{}, false
}

func participantKey(p wire.Participant) string {
	return strings.ToLower(p.Type) + "/" + strings.ToLower(p.ExternalID)
}

func participantSetsEqual(a, b []wire.Participant) bool {
	if len(a) != len(b) {
		return false
	}
	return participantSubset(a, b)
}

func participantSubset(desired, remote []wire.Participant) bool {
	keys := make(map[string]bool, len(remote))
	for _, p := range remote {
		keys[participantKey(p)] = true
	}
	for _, p := range desired {
		if !keys[participantKey(p)] {
			return false
		}
	}
	return true
}

// serverOrSyntheticID picks the message id to index under: the server id
// when present, a supplied fallback, or a content-derived synthetic id so
// an id-less push still dedupes against its own redelivery.
func serverOrSyntheticID(msg wire.Message, fallback string) string {
	if msg.ID != "" {
		return msg.ID
	}
	if fallback != "" {
		return fallback
	}
	h := fnv.New64a()
	h.Write([]byte(msg.ChatID))
	h.Write([]byte(msg.Content))
	h.Write([]byte(msg.At.UTC().Format(time.RFC3339)))
	return fmt.Sprintf("synth-%x", h.Sum64())
}

// SortSummaries orders summaries most-recently-active first.
func SortSummaries(summaries []wire.ChatSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastActivity.After(summaries[j].LastActivity)
	})
}

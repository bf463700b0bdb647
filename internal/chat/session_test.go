package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachchat/internal/attach"
	"coachchat/internal/wire"
)

func joinedSession(t *testing.T, role Role) *Session {
	t.Helper()
	s := NewSession(role, ChannelSupport)
	s.HandleJoin(&wire.JoinResponse{
		ChatID:        "chat-1",
		ParticipantID: "me-1",
		Participants: []wire.Participant{
			{ID: "me-1", Type: "cliente", ExternalID: "stu-9"},
			{ID: "them-1", Type: "equipo", ExternalID: "coach-2"},
		},
	}, CtxJoin, time.Now())
	return s
}

func TestServerEchoDoesNotDuplicate(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()

	local := s.QueueSend("hola", nil, now)
	require.Equal(t, 1, s.Messages().Len())

	result := s.Ingest(wire.Message{
		ID:            "srv-1",
		ChatID:        "chat-1",
		Content:       "hola",
		ClientSession: s.SessionTag,
		At:            now.Add(time.Second),
	}, CtxRealtime, now.Add(time.Second))

	assert.True(t, result.Reconciled)
	assert.False(t, result.FromOther)
	assert.Equal(t, 1, s.Messages().Len())
	assert.Equal(t, 0, s.outbox.Len())

	merged, ok := s.Messages().Get("srv-1")
	require.True(t, ok)
	assert.Equal(t, SenderStudent, merged.Sender)
	assert.True(t, merged.Delivered)
	// The optimistic timestamp is preserved so the entry does not jump.
	assert.Equal(t, now, merged.At)

	_, stillThere := s.Messages().Get(local.ID)
	assert.False(t, stillThere)
}

func TestAckWithoutIDThenEcho(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()

	local := s.QueueSend("hola", nil, now)
	s.HandleSendAck(local.ID, &wire.SendAck{Success: true})

	pending, ok := s.Messages().Get(local.ID)
	require.True(t, ok)
	assert.True(t, pending.Delivered)
	assert.Equal(t, 1, s.outbox.Len(), "entry must stay live for the eventual echo")

	result := s.Ingest(wire.Message{
		ID:            "srv-1",
		ChatID:        "chat-1",
		Content:       "hola",
		ClientSession: s.SessionTag,
		At:            now.Add(2 * time.Second),
	}, CtxRealtime, now.Add(2*time.Second))

	assert.True(t, result.Reconciled)
	assert.Equal(t, 1, s.Messages().Len())
	assert.Equal(t, 0, s.outbox.Len())
}

func TestAckWithServerID(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	local := s.QueueSend("hola", nil, time.Now())

	s.HandleSendAck(local.ID, &wire.SendAck{Success: true, MessageID: "srv-1"})

	confirmed, ok := s.Messages().Get("srv-1")
	require.True(t, ok)
	assert.True(t, confirmed.Delivered)
	assert.Equal(t, "hola", confirmed.Text)
	assert.Equal(t, 0, s.outbox.Len())
	assert.Equal(t, 1, s.Messages().Len())
}

func TestAckFailureMarksFailed(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	local := s.QueueSend("hola", nil, time.Now())

	s.HandleSendAck(local.ID, &wire.SendAck{Success: false, Error: "rechazado"})

	failed, ok := s.Messages().Get(local.ID)
	require.True(t, ok)
	assert.True(t, failed.Failed)
}

func TestStaleSessionTagStaysOtherParty(t *testing.T) {
	// No pending send: a push wearing our tag must still land on the
	// other side of the conversation.
	s := joinedSession(t, RoleStudent)
	now := time.Now()

	result := s.Ingest(wire.Message{
		ID:            "srv-9",
		ChatID:        "chat-1",
		Content:       "mensaje ajeno",
		ClientSession: s.SessionTag,
	}, CtxRealtime, now)

	assert.False(t, result.Reconciled)
	assert.True(t, result.FromOther)
	assert.Equal(t, SenderCoach, result.Message.Sender)
}

func TestForeignEmitterCannotClaimOutbox(t *testing.T) {
	// Both sides send the identical text at the same moment. The echo
	// carrying the other party's emitter id must not consume our entry.
	s := joinedSession(t, RoleStudent)
	now := time.Now()
	s.QueueSend("ok", nil, now)

	result := s.Ingest(wire.Message{
		ID:        "srv-2",
		ChatID:    "chat-1",
		EmitterID: "them-1",
		Content:   "ok",
		At:        now,
	}, CtxRealtime, now)

	assert.False(t, result.Reconciled)
	assert.True(t, result.FromOther)
	assert.Equal(t, 1, s.outbox.Len())
	assert.Equal(t, 2, s.Messages().Len())
}

func TestForeignSessionTagCannotClaimOutbox(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()
	s.QueueSend("ok", nil, now)

	result := s.Ingest(wire.Message{
		ID:            "srv-3",
		ChatID:        "chat-1",
		Content:       "ok",
		ClientSession: "someone-elses-tag",
		At:            now,
	}, CtxRealtime, now)

	assert.False(t, result.Reconciled)
	assert.Equal(t, 1, s.outbox.Len())
}

func TestPollResyncReconcilesByContent(t *testing.T) {
	// The socket dropped before the ack arrived. The re-join after
	// reconnect carries the stored copy with a server id and no tag; it
	// must merge into the optimistic entry, not duplicate it.
	s := joinedSession(t, RoleStudent)
	now := time.Now()
	s.QueueSend("hola", nil, now)

	s.HandleJoin(&wire.JoinResponse{
		ChatID:        "chat-1",
		ParticipantID: "me-1",
		Messages: []wire.Message{
			{ID: "srv-1", ChatID: "chat-1", Content: "hola", At: now.Add(time.Second)},
		},
	}, CtxPoll, now.Add(3*time.Second))

	assert.Equal(t, 1, s.Messages().Len())
	merged, ok := s.Messages().Get("srv-1")
	require.True(t, ok)
	assert.Equal(t, SenderStudent, merged.Sender)
	assert.True(t, merged.Delivered)
	assert.Equal(t, 0, s.outbox.Len())
}

func TestJoinHistoryAttribution(t *testing.T) {
	s := NewSession(RoleStudent, ChannelSupport)
	now := time.Now()

	s.HandleJoin(&wire.JoinResponse{
		ChatID:        "chat-1",
		ParticipantID: "me-1",
		Participants: []wire.Participant{
			{ID: "me-1", Type: "cliente"},
			{ID: "them-1", Type: "equipo"},
		},
		Messages: []wire.Message{
			{ID: "m1", ChatID: "chat-1", EmitterID: "me-1", Content: "mine", At: now.Add(-2 * time.Minute)},
			{ID: "m2", ChatID: "chat-1", ParticipantType: "equipo", Content: "theirs", At: now.Add(-time.Minute)},
		},
	}, CtxJoin, now)

	require.Equal(t, 2, s.Messages().Len())
	mine, _ := s.Messages().Get("m1")
	theirs, _ := s.Messages().Get("m2")
	assert.Equal(t, SenderStudent, mine.Sender)
	assert.Equal(t, SenderCoach, theirs.Sender)
	assert.Equal(t, PhaseJoined, s.Phase())
}

func TestIngestFiltersForeignChat(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	result := s.Ingest(wire.Message{ID: "x", ChatID: "chat-other", Content: "hi"}, CtxRealtime, time.Now())
	assert.Empty(t, result.Message.ID)
	assert.Equal(t, 0, s.Messages().Len())
}

func TestRedeliveryCannotFlipConfidentSender(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()

	s.Ingest(wire.Message{ID: "m1", ChatID: "chat-1", EmitterID: "me-1", Content: "hola", At: now}, CtxJoin, now)
	first, _ := s.Messages().Get("m1")
	require.Equal(t, SenderStudent, first.Sender)

	// Redelivered via realtime without the emitter id: the fallback guess
	// must not override the earlier explicit attribution.
	s.Ingest(wire.Message{ID: "m1", ChatID: "chat-1", Content: "hola", At: now}, CtxRealtime, now.Add(time.Second))
	again, _ := s.Messages().Get("m1")
	assert.Equal(t, SenderStudent, again.Sender)
	assert.Equal(t, RuleEmitterID, again.Rule)
	assert.Equal(t, 1, s.Messages().Len())
}

func TestSweepOutboxMarksTimedOutSends(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()
	local := s.QueueSend("hola", nil, now)

	failed := s.SweepOutbox(now.Add(31 * time.Second))
	require.Len(t, failed, 1)

	m, ok := s.Messages().Get(local.ID)
	require.True(t, ok)
	assert.True(t, m.Failed)
}

func TestHandleReadFlipsOwnDelivered(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()
	local := s.QueueSend("hola", nil, now)
	s.HandleSendAck(local.ID, &wire.SendAck{Success: true, MessageID: "srv-1"})
	s.Ingest(wire.Message{ID: "m2", ChatID: "chat-1", ParticipantType: "equipo", Content: "re", At: now}, CtxRealtime, now)

	s.HandleRead(wire.ReadNotice{ChatID: "chat-1"})

	mine, _ := s.Messages().Get("srv-1")
	theirs, _ := s.Messages().Get("m2")
	assert.True(t, mine.Read)
	assert.False(t, theirs.Read)
}

func TestNeedsCreateOnSend(t *testing.T) {
	student := NewSession(RoleStudent, ChannelSupport)
	student.SetDesired([]wire.Participant{{Type: "equipo", ExternalID: "coach-2"}})
	assert.True(t, student.NeedsCreateOnSend())

	chatID, create := student.Resolve(nil)
	assert.Empty(t, chatID)
	assert.False(t, create, "students never create from navigation")

	coach := NewSession(RoleCoach, ChannelSupport)
	coach.SetDesired([]wire.Participant{{Type: "cliente", ExternalID: "stu-9"}})
	_, create = coach.Resolve(nil)
	assert.True(t, create)
	assert.False(t, coach.NeedsCreateOnSend())
}

func TestSetDesiredKeepsLoadedMessages(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	s.Ingest(wire.Message{ID: "m1", ChatID: "chat-1", Content: "hola"}, CtxJoin, time.Now())

	s.SetDesired([]wire.Participant{{Type: "equipo", ExternalID: "coach-3"}})
	assert.Equal(t, PhaseResolving, s.Phase())
	assert.Equal(t, 1, s.Messages().Len())

	// Joining the new conversation replaces the stale view.
	s.HandleJoin(&wire.JoinResponse{ChatID: "chat-2", ParticipantID: "me-1"}, CtxJoin, time.Now())
	assert.Equal(t, 0, s.Messages().Len())
}

func TestDeleteResetsSession(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	s.QueueSend("hola", nil, time.Now())

	s.Delete()
	assert.Empty(t, s.ChatID())
	assert.Equal(t, 0, s.Messages().Len())
	assert.Equal(t, 0, s.outbox.Len())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestShouldPoll(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()

	s.Ingest(wire.Message{ID: "m1", ChatID: "chat-1", Content: "hola"}, CtxRealtime, now)
	assert.False(t, s.ShouldPoll(now.Add(time.Second)))
	assert.True(t, s.ShouldPoll(now.Add(2*time.Second)))

	idle := NewSession(RoleStudent, ChannelSupport)
	assert.False(t, idle.ShouldPoll(now), "no poll before a join")
}

func TestPollIntervalByRole(t *testing.T) {
	assert.Less(t, NewSession(RoleCoach, ChannelSupport).PollInterval(),
		NewSession(RoleStudent, ChannelSupport).PollInterval())
}

func TestMatchConversation(t *testing.T) {
	desired := []wire.Participant{
		{Type: "cliente", ExternalID: "stu-9"},
		{Type: "equipo", ExternalID: "coach-2"},
	}
	summaries := []wire.ChatSummary{
		{ChatID: "empty"},
		{ChatID: "superset", Participants: append([]wire.Participant{
			{Type: "equipo", ExternalID: "coach-7"},
		}, desired...)},
		{ChatID: "exact", Participants: []wire.Participant{
			{Type: "equipo", ExternalID: "coach-2"},
			{Type: "cliente", ExternalID: "stu-9"},
		}},
	}

	match, ok := MatchConversation(desired, summaries)
	require.True(t, ok)
	assert.Equal(t, "exact", match.ChatID, "exact set match beats the earlier superset")

	match, ok = MatchConversation(desired, summaries[:2])
	require.True(t, ok)
	assert.Equal(t, "superset", match.ChatID)

	_, ok = MatchConversation(desired, summaries[:1])
	assert.False(t, ok)

	_, ok = MatchConversation(nil, summaries)
	assert.False(t, ok)
}

func TestQueueSendWithAttachmentsRecordsShape(t *testing.T) {
	s := joinedSession(t, RoleStudent)
	now := time.Now()

	s.QueueSend("", []attach.Attachment{
		{Name: "foto.png", MimeType: "image/png", SizeBytes: 2048},
	}, now)

	assert.Equal(t, 1, s.Uploads().Len())
	assert.Equal(t, 1, s.outbox.Len())
}

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coachchat/internal/attach"
	"coachchat/internal/wire"
)

func newTestEngine(role Role) *Engine {
	return &Engine{
		Role:            role,
		MyParticipantID: "me-1",
		SessionTag:      "tag-local",
		Outbox:          NewOutbox(),
		Uploads:         &attach.RecentUploads{},
		TwoParty:        func() bool { return true },
	}
}

func TestAttributeEmitterIDWinsEverywhere(t *testing.T) {
	engine := newTestEngine(RoleStudent)
	msg := wire.Message{EmitterID: "me-1", Content: "hola"}

	for _, ctx := range []Context{CtxRealtime, CtxJoin, CtxPoll, CtxUser} {
		sender, rule := engine.Attribute(msg, attach.Shape{}, ctx, time.Now())
		assert.Equal(t, SenderStudent, sender, "context %s", ctx)
		assert.Equal(t, RuleEmitterID, rule, "context %s", ctx)
	}
}

func TestAttributeRealtimeParticipantType(t *testing.T) {
	engine := newTestEngine(RoleStudent)
	now := time.Now()

	sender, rule := engine.Attribute(wire.Message{ParticipantType: "equipo"}, attach.Shape{}, CtxRealtime, now)
	assert.Equal(t, SenderCoach, sender)
	assert.Equal(t, RuleParticipantType, rule)

	sender, rule = engine.Attribute(wire.Message{ParticipantType: "cliente"}, attach.Shape{}, CtxRealtime, now)
	assert.Equal(t, SenderStudent, sender)
	assert.Equal(t, RuleParticipantType, rule)
}

func TestAttributeRealtimeIgnoresSessionTag(t *testing.T) {
	// Backends have echoed the receiver's own tag on messages authored by
	// the other side. A tag alone must never claim a message.
	engine := newTestEngine(RoleStudent)
	msg := wire.Message{Content: "hola", ClientSession: "tag-local"}

	sender, rule := engine.Attribute(msg, attach.Shape{}, CtxRealtime, time.Now())
	assert.Equal(t, SenderCoach, sender)
	assert.Equal(t, RuleFallback, rule)
}

func TestAttributeRealtimeSkipsHeuristics(t *testing.T) {
	now := time.Now()
	engine := newTestEngine(RoleStudent)
	engine.Outbox.Enqueue(&OutboxEntry{ClientID: "c1", Text: "hola", SentAt: now})

	// The same message in a join context matches the outbox; realtime
	// must not.
	msg := wire.Message{Content: "hola", At: now}
	sender, rule := engine.Attribute(msg, attach.Shape{}, CtxRealtime, now)
	assert.Equal(t, SenderCoach, sender)
	assert.Equal(t, RuleFallback, rule)

	sender, rule = engine.Attribute(msg, attach.Shape{}, CtxJoin, now)
	assert.Equal(t, SenderStudent, sender)
	assert.Equal(t, RuleOutbox, rule)
}

func TestAttributeJoinUploadShape(t *testing.T) {
	now := time.Now()
	engine := newTestEngine(RoleStudent)
	shape := attach.Shape{Count: 1, SizeBytes: 2048, Categories: []string{"image"}}
	engine.Uploads.Add(shape, now)

	msg := wire.Message{At: now}
	sender, rule := engine.Attribute(msg, shape, CtxJoin, now)
	assert.Equal(t, SenderStudent, sender)
	assert.Equal(t, RuleUploadShape, rule)

	// The hit was consumed; a second identical echo falls through.
	sender, rule = engine.Attribute(msg, shape, CtxJoin, now)
	assert.Equal(t, SenderCoach, sender)
	assert.Equal(t, RuleFallback, rule)
}

func TestAttributeTeamSideOfTeamRole(t *testing.T) {
	engine := newTestEngine(RoleCoach)
	sender, rule := engine.Attribute(wire.Message{ParticipantType: "equipo"}, attach.Shape{}, CtxJoin, time.Now())
	assert.Equal(t, SenderCoach, sender)
	assert.Equal(t, RuleParticipantType, rule)

	sender, _ = engine.Attribute(wire.Message{}, attach.Shape{}, CtxJoin, time.Now())
	assert.Equal(t, SenderStudent, sender)
}

func TestRuleConfidenceOrdering(t *testing.T) {
	ordered := []Rule{RuleNone, RuleFallback, RuleUploadShape, RuleOutbox, RuleLocalSend, RuleParticipantType, RuleEmitterID}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].MoreConfidentThan(ordered[i-1]),
			"%s should beat %s", ordered[i], ordered[i-1])
		assert.False(t, ordered[i-1].MoreConfidentThan(ordered[i]))
	}
}

package chat

import (
	"time"

	"github.com/golang/glog"

	"coachchat/internal/attach"
	"coachchat/internal/wire"
)

// Context tags the call site a message arrived through. The attribution
// rules diverge on it: realtime pushes are classified conservatively while
// join/poll/user paths may use the full heuristic bundle.
type Context int

const (
	CtxRealtime Context = iota
	CtxJoin
	CtxPoll
	CtxUser
)

func (c Context) String() string {
	switch c {
	case CtxRealtime:
		return "realtime"
	case CtxJoin:
		return "join"
	case CtxPoll:
		return "poll"
	default:
		return "user"
	}
}

// Rule identifies which attribution rule classified a message. Higher
// values are more confident; reconciliation never lets a lower-confidence
// attribution overwrite a higher one.
type Rule int

const (
	RuleNone Rule = iota
	RuleFallback
	RuleUploadShape
	RuleOutbox
	RuleLocalSend
	RuleParticipantType
	RuleEmitterID
)

func (r Rule) String() string {
	switch r {
	case RuleEmitterID:
		return "emitter-id"
	case RuleParticipantType:
		return "participant-type"
	case RuleLocalSend:
		return "local-send"
	case RuleOutbox:
		return "outbox"
	case RuleUploadShape:
		return "upload-shape"
	case RuleFallback:
		return "fallback"
	default:
		return "none"
	}
}

// MoreConfidentThan reports whether r should override other on merge.
func (r Rule) MoreConfidentThan(other Rule) bool { return r > other }

// outboxMatchWindow bounds how far a message timestamp may sit from a
// local send for the outbox text heuristic to claim it.
const outboxMatchWindow = 12 * time.Second

// Engine decides which conversational side a message belongs to. It holds
// the local context the rules consult; MyParticipantID and SessionTag are
// set by the session controller after the join handshake.
type Engine struct {
	Role            Role
	MyParticipantID string
	SessionTag      string
	Outbox          *Outbox
	Uploads         *attach.RecentUploads

	// TwoParty reports whether the current conversation is strictly one
	// cliente plus one equipo.
	TwoParty func() bool
}

// Attribute classifies a decoded message. The returned Rule records which
// rule fired. The decision procedure, first match wins:
//
//  1. An emitter id equal to the locally-resolved participant id is the
//     only fully trustworthy signal and always wins.
//  2. Realtime context additionally accepts only an explicit participant
//     type; everything else is assumed to be the other party. Session tags
//     and upload heuristics are not trusted here: backends have been seen
//     to echo a session tag that belongs to the receiving side, which
//     would flip every incoming push to "mine".
//  3. Join/poll/user contexts apply the heuristic bundle: outbox text
//     match, recent-upload shape match, participant type, then the
//     other-party fallback. A bare session-tag match is never trusted on
//     its own for the same reason as the realtime case.
func (e *Engine) Attribute(msg wire.Message, shape attach.Shape, ctx Context, now time.Time) (Sender, Rule) {
	sender, rule := e.attribute(msg, shape, ctx, now)
	if glog.V(5) {
		glog.Infof("attribute: ctx=%s rule=%s sender=%s id=%q", ctx, rule, sender, msg.ID)
	}
	return sender, rule
}

func (e *Engine) attribute(msg wire.Message, shape attach.Shape, ctx Context, now time.Time) (Sender, Rule) {
	if msg.EmitterID != "" && e.MyParticipantID != "" && msg.EmitterID == e.MyParticipantID {
		return e.Role.Sender(), RuleEmitterID
	}

	if ctx == CtxRealtime {
		if sender, ok := e.senderForType(msg.ParticipantType); ok {
			return sender, RuleParticipantType
		}
		return e.Role.Counterpart(), RuleFallback
	}

	if e.Outbox != nil && msg.Content != "" {
		reference := msg.At
		if reference.IsZero() {
			reference = now
		}
		if e.Outbox.MatchContent(msg.Content, shape, reference) != nil {
			return e.Role.Sender(), RuleOutbox
		}
	}

	if e.Uploads != nil && shape.Count > 0 && e.Uploads.Match(shape, now) {
		return e.Role.Sender(), RuleUploadShape
	}

	if sender, ok := e.senderForType(msg.ParticipantType); ok {
		return sender, RuleParticipantType
	}

	return e.Role.Counterpart(), RuleFallback
}

// senderForType maps the backend's participant taxonomy onto a sender,
// relative to the local role so the team side renders as whoever the
// counterpart actually is.
func (e *Engine) senderForType(participantType string) (Sender, bool) {
	switch participantType {
	case wire.TypeCliente:
		return SenderStudent, true
	case wire.TypeEquipo:
		if e.Role == RoleStudent {
			return SenderCoach, true
		}
		return e.Role.Sender(), true
	default:
		return "", false
	}
}

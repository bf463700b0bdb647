// Package wire decodes the payload shapes the coaching-platform backend
// puts on the socket. Field names follow the backend, not this client.
package wire

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Event names the backend emits or accepts. The create event has a legacy
// variant that older deployments still answer.
const (
	EventJoin         = "unirse_chat"
	EventSend         = "enviar_mensaje"
	EventTyping       = "escribiendo"
	EventList         = "listar_chats"
	EventCreate       = "crear_chat"
	EventCreateLegacy = "nuevo_chat"
	EventNewMessage   = "nuevo_mensaje"
	EventMessageRead  = "mensaje_leido"
	EventReadAll      = "leer_todo"
	EventChatCreated  = "chat_creado"
)

// Participant types as the backend names them.
const (
	TypeCliente = "cliente"
	TypeEquipo  = "equipo"
)

// Frame is the envelope every socket payload travels in. Requests carry a
// Seq; the matching ack carries it back in Ack. Pushes carry neither.
type Frame struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Ack   int64           `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Participant identifies one side of a conversation.
type Participant struct {
	ID         string `json:"id_participante"`
	Type       string `json:"tipo"`
	ExternalID string `json:"id_externo"`
}

// Message is a single decoded chat message as the backend delivered it.
// Every field except Raw is optional on the wire; callers must treat blank
// values as "not supplied", not as authoritative.
type Message struct {
	ID              string
	ChatID          string
	EmitterID       string
	ParticipantType string
	Content         string
	ClientSession   string
	At              time.Time

	// Raw keeps the original payload so attachment probing can see fields
	// this decoder does not model.
	Raw map[string]any
}

// JoinResponse is the ack payload for EventJoin.
type JoinResponse struct {
	ChatID        string        `json:"id_chat"`
	ParticipantID string        `json:"id_participante"`
	Participants  []Participant `json:"participantes"`
	Messages      []Message     `json:"-"`
}

// SendAck is the ack payload for EventSend.
type SendAck struct {
	Success   bool   `json:"exito"`
	MessageID string `json:"id_mensaje"`
	Error     string `json:"error,omitempty"`
}

// ChatSummary is one entry of a list response. Participants may be absent;
// the roster synchronizer enriches such summaries via join probes.
type ChatSummary struct {
	ChatID       string        `json:"id_chat"`
	Participants []Participant `json:"participantes,omitempty"`
	LastActivity time.Time     `json:"-"`
	Unread       int           `json:"no_leidos,omitempty"`
}

// ListFilter narrows a list request by participant type and external id.
type ListFilter struct {
	ParticipantType     string `json:"tipo,omitempty"`
	ExternalID          string `json:"id_externo,omitempty"`
	IncludeParticipants bool   `json:"incluir_participantes,omitempty"`
}

// CreateResponse is the ack payload for EventCreate.
type CreateResponse struct {
	ChatID       string        `json:"id_chat"`
	Participants []Participant `json:"participantes"`
}

// TypingNotice is the decoded form of an EventTyping push.
type TypingNotice struct {
	ChatID        string `json:"id_chat"`
	On            bool   `json:"activo"`
	ParticipantID string `json:"id_participante,omitempty"`
	ClientSession string `json:"client_session,omitempty"`
}

// ReadNotice is the decoded form of an EventMessageRead push.
type ReadNotice struct {
	ChatID    string `json:"id_chat"`
	MessageID string `json:"id_mensaje,omitempty"`
	All       bool   `json:"todo,omitempty"`
}

// IsFileEvent reports whether an event name suggests an attachment push.
// Deployments differ on the canonical name, so this is a substring match.
func IsFileEvent(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"file", "archivo", "upload", "adjunto", "audio"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Unwrap descends through one level of data/payload wrapping. The backend
// sometimes nests the useful object under either key.
func Unwrap(payload map[string]any) map[string]any {
	for _, key := range []string{"data", "payload"} {
		if inner, ok := payload[key].(map[string]any); ok {
			return inner
		}
	}
	return payload
}

// DecodeMessage turns a raw payload into a Message, tolerating the field
// aliases and wrapper shapes seen across backend versions.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Message{}, err
	}
	return DecodeMessageMap(payload), nil
}

// DecodeMessageMap decodes an already-unmarshalled payload.
func DecodeMessageMap(payload map[string]any) Message {
	inner := Unwrap(payload)
	msg := Message{
		ID:              stringField(inner, "id_mensaje", "id", "_id"),
		ChatID:          stringField(inner, "id_chat", "chat_id"),
		EmitterID:       stringField(inner, "id_participante", "emisor", "sender_id"),
		ParticipantType: stringField(inner, "tipo", "tipo_participante"),
		Content:         stringField(inner, "contenido", "content", "mensaje", "texto"),
		ClientSession:   stringField(inner, "client_session", "session"),
		At:              ParseTimestamp(inner["fecha"], inner["created_at"], inner["timestamp"]),
		Raw:             payload,
	}
	return msg
}

// DecodeJoinResponse decodes a join ack including its embedded history.
func DecodeJoinResponse(raw json.RawMessage) (*JoinResponse, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	inner := Unwrap(payload)

	resp := &JoinResponse{
		ChatID:        stringField(inner, "id_chat", "chat_id"),
		ParticipantID: stringField(inner, "id_participante", "mi_participante"),
	}
	resp.Participants = decodeParticipants(inner["participantes"])
	if list, ok := inner["mensajes"].([]any); ok {
		resp.Messages = decodeMessageList(list)
	} else if list, ok := inner["messages"].([]any); ok {
		resp.Messages = decodeMessageList(list)
	}
	return resp, nil
}

// DecodeList decodes a list ack into conversation summaries.
func DecodeList(raw json.RawMessage) ([]ChatSummary, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	var items []any
	switch v := payload.(type) {
	case []any:
		items = v
	case map[string]any:
		inner := Unwrap(v)
		for _, key := range []string{"chats", "conversaciones", "items"} {
			if list, ok := inner[key].([]any); ok {
				items = list
				break
			}
		}
	}
	summaries := make([]ChatSummary, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		summary := ChatSummary{
			ChatID:       stringField(entry, "id_chat", "id", "_id"),
			Participants: decodeParticipants(entry["participantes"]),
			LastActivity: ParseTimestamp(entry["ultima_actividad"], entry["updated_at"], entry["fecha"]),
			Unread:       intField(entry, "no_leidos", "unread"),
		}
		if summary.ChatID != "" {
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

// DecodeCreateResponse decodes a create ack from either event variant.
func DecodeCreateResponse(raw json.RawMessage) (*CreateResponse, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	inner := Unwrap(payload)
	return &CreateResponse{
		ChatID:       stringField(inner, "id_chat", "chat_id", "id"),
		Participants: decodeParticipants(inner["participantes"]),
	}, nil
}

func decodeMessageList(list []any) []Message {
	messages := make([]Message, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		messages = append(messages, DecodeMessageMap(entry))
	}
	return messages
}

func decodeParticipants(value any) []Participant {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	participants := make([]Participant, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		participant := Participant{
			ID:         stringField(entry, "id_participante", "id", "_id"),
			Type:       strings.ToLower(stringField(entry, "tipo", "type")),
			ExternalID: stringField(entry, "id_externo", "external_id"),
		}
		if participant.ID != "" || participant.ExternalID != "" {
			participants = append(participants, participant)
		}
	}
	return participants
}

// ParseTimestamp accepts the timestamp renditions the backend has been seen
// to use: RFC3339, a bare datetime, or unix seconds/millis as number or
// string. The zero time means "no usable timestamp".
func ParseTimestamp(candidates ...any) time.Time {
	for _, candidate := range candidates {
		switch v := candidate.(type) {
		case string:
			if v == "" {
				continue
			}
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts
				}
			}
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return fromUnix(n)
			}
		case float64:
			if v > 0 {
				return fromUnix(int64(v))
			}
		case int64:
			if v > 0 {
				return fromUnix(v)
			}
		}
	}
	return time.Time{}
}

func fromUnix(n int64) time.Time {
	// Millisecond timestamps are 13 digits; seconds are 10.
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func stringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

func intField(payload map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// Package transport maintains the authenticated socket connection to the
// coaching-platform backend and exposes typed requests plus a push event
// stream. One adapter per mounted chat view.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"coachchat/internal/wire"
)

var (
	ErrNoToken      = errors.New("no auth token available")
	ErrNotConnected = errors.New("socket not connected")
	ErrJoinInFlight = errors.New("join already in flight")
)

const (
	// Token resolution retries for a bounded window: the token may not be
	// on disk yet at mount time.
	tokenRetryInterval = 250 * time.Millisecond
	tokenRetryWindow   = 4 * time.Second

	callTimeout = 5 * time.Second

	// typingIdleClear auto-clears the typing state after inactivity.
	typingIdleClear = 1600 * time.Millisecond

	eventBuffer = 64
)

// TokenResolver produces the bearer token for the socket handshake. It is
// retried, so it must be cheap and side-effect free.
type TokenResolver func(ctx context.Context) (string, error)

// Event is one push from the backend, delivered undecoded; the session
// layer decodes by event name.
type Event struct {
	Name string
	Data json.RawMessage
}

// Adapter wraps one websocket connection. Requests are correlated with
// their acks by sequence number; everything else flows out on Events().
type Adapter struct {
	url string

	writeMu sync.Mutex
	conn    *websocket.Conn

	seq       atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage

	events    chan Event
	done      chan struct{}
	connected atomic.Bool
	joinBusy  atomic.Bool

	typingMu      sync.Mutex
	typingLimiter *rate.Limiter
	typingTimer   *time.Timer
}

// NewAdapter creates an adapter for the given websocket URL. Connect must
// be called before any request.
func NewAdapter(wsURL string) *Adapter {
	return &Adapter{
		url:           wsURL,
		pending:       make(map[int64]chan json.RawMessage),
		events:        make(chan Event, eventBuffer),
		done:          make(chan struct{}),
		typingLimiter: rate.NewLimiter(rate.Every(typingIdleClear), 1),
	}
}

// Connect resolves a token and dials the socket. Token resolution retries
// inside a bounded window; running out of it surfaces as ErrNoToken and
// the adapter stays disconnected.
func (a *Adapter) Connect(ctx context.Context, resolve TokenResolver) error {
	token, err := a.resolveToken(ctx, resolve)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.url, err)
	}

	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
	a.connected.Store(true)
	go a.readPump(conn)
	glog.V(2).Infof("transport: connected to %s", a.url)
	return nil
}

func (a *Adapter) resolveToken(ctx context.Context, resolve TokenResolver) (string, error) {
	deadline := time.Now().Add(tokenRetryWindow)
	for {
		token, err := resolve(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrNoToken
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(tokenRetryInterval):
		}
	}
}

// Connected reports whether the socket is up. The UI gates send
// affordances on it.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// Events returns the push event stream.
func (a *Adapter) Events() <-chan Event { return a.events }

// Done is closed when the connection drops for good.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Close tears the connection down.
func (a *Adapter) Close() {
	a.writeMu.Lock()
	conn := a.conn
	a.conn = nil
	a.writeMu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}

// Join performs the join handshake for a chat. Idempotent, but never
// concurrent: an in-flight guard rejects overlapping joins on the same
// adapter.
func (a *Adapter) Join(ctx context.Context, chatID string) (*wire.JoinResponse, error) {
	if !a.joinBusy.CompareAndSwap(false, true) {
		return nil, ErrJoinInFlight
	}
	defer a.joinBusy.Store(false)

	raw, err := a.call(ctx, wire.EventJoin, map[string]any{"id_chat": chatID})
	if err != nil {
		return nil, err
	}
	return wire.DecodeJoinResponse(raw)
}

// Send emits a message and waits for the ack. The ack may carry the
// server-assigned message id.
func (a *Adapter) Send(ctx context.Context, chatID, participantID, text, sessionTag string) (*wire.SendAck, error) {
	raw, err := a.call(ctx, wire.EventSend, map[string]any{
		"id_chat":         chatID,
		"id_participante": participantID,
		"contenido":       text,
		"client_session":  sessionTag,
	})
	if err != nil {
		return nil, err
	}
	var ack wire.SendAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// SendTyping emits a best-effort typing notice, throttled so keystrokes
// do not flood the socket, with an automatic clear after idle.
func (a *Adapter) SendTyping(chatID, participantID, sessionTag string) {
	a.typingMu.Lock()
	defer a.typingMu.Unlock()

	if a.typingLimiter.Allow() {
		a.fireAndForget(wire.EventTyping, map[string]any{
			"id_chat":         chatID,
			"activo":          true,
			"id_participante": participantID,
			"client_session":  sessionTag,
		})
	}
	if a.typingTimer != nil {
		a.typingTimer.Stop()
	}
	a.typingTimer = time.AfterFunc(typingIdleClear, func() {
		a.fireAndForget(wire.EventTyping, map[string]any{
			"id_chat":         chatID,
			"activo":          false,
			"id_participante": participantID,
			"client_session":  sessionTag,
		})
	})
}

// StopTyping clears the typing state immediately, used when a message is
// actually sent.
func (a *Adapter) StopTyping(chatID, participantID, sessionTag string) {
	a.typingMu.Lock()
	if a.typingTimer != nil {
		a.typingTimer.Stop()
		a.typingTimer = nil
	}
	a.typingMu.Unlock()
	a.fireAndForget(wire.EventTyping, map[string]any{
		"id_chat":         chatID,
		"activo":          false,
		"id_participante": participantID,
		"client_session":  sessionTag,
	})
}

// MarkRead emits a best-effort read-all notice for a chat. The backend
// broadcasts it back as a mensaje_leido push; no ack is awaited.
func (a *Adapter) MarkRead(chatID, participantID string) {
	a.fireAndForget(wire.EventReadAll, map[string]any{
		"id_chat":         chatID,
		"id_participante": participantID,
		"todo":            true,
	})
}

// List fetches conversation summaries matching the filter.
func (a *Adapter) List(ctx context.Context, filter wire.ListFilter) ([]wire.ChatSummary, error) {
	raw, err := a.call(ctx, wire.EventList, filter)
	if err != nil {
		return nil, err
	}
	return wire.DecodeList(raw)
}

// Create asks the backend for a new conversation. Older deployments answer
// a different event name, so the legacy variant is tried when the current
// one fails.
func (a *Adapter) Create(ctx context.Context, participants []wire.Participant) (*wire.CreateResponse, error) {
	payload := map[string]any{"participantes": participants}
	raw, err := a.call(ctx, wire.EventCreate, payload)
	if err != nil {
		glog.V(2).Infof("transport: %s failed (%v), trying %s", wire.EventCreate, err, wire.EventCreateLegacy)
		raw, err = a.call(ctx, wire.EventCreateLegacy, payload)
		if err != nil {
			return nil, err
		}
	}
	return wire.DecodeCreateResponse(raw)
}

func (a *Adapter) call(ctx context.Context, event string, data any) (json.RawMessage, error) {
	if !a.Connected() {
		return nil, ErrNotConnected
	}
	seq := a.seq.Add(1)
	respC := make(chan json.RawMessage, 1)
	a.pendingMu.Lock()
	a.pending[seq] = respC
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, seq)
		a.pendingMu.Unlock()
	}()

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := a.writeFrame(wire.Frame{Event: event, Seq: seq, Data: encoded}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case raw := <-respC:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("%s: ack timeout", event)
	}
}

func (a *Adapter) fireAndForget(event string, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := a.writeFrame(wire.Frame{Event: event, Data: encoded}); err != nil {
		glog.V(5).Infof("transport: %s write dropped: %v", event, err)
	}
}

func (a *Adapter) writeFrame(frame wire.Frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	return a.conn.WriteJSON(frame)
}

func (a *Adapter) readPump(conn *websocket.Conn) {
	defer func() {
		a.connected.Store(false)
		close(a.done)
	}()
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			glog.V(2).Infof("transport: read loop ended: %v", err)
			return
		}
		if frame.Ack != 0 {
			a.pendingMu.Lock()
			respC, ok := a.pending[frame.Ack]
			a.pendingMu.Unlock()
			if ok {
				respC <- frame.Data
			}
			continue
		}
		select {
		case a.events <- Event{Name: frame.Event, Data: frame.Data}:
		default:
			glog.Warningf("transport: event buffer full, dropping %s", frame.Event)
		}
	}
}

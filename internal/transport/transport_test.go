package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coachchat/internal/wire"
)

var testUpgrader = websocket.Upgrader{}

// startBackend runs a websocket endpoint that hands each connection to fn.
// Returns the ws:// URL.
func startBackend(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Errorf("missing bearer header, got %q", got)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func connectedAdapter(t *testing.T, fn func(conn *websocket.Conn)) *Adapter {
	t.Helper()
	adapter := NewAdapter(startBackend(t, fn))
	if err := adapter.Connect(context.Background(), StaticTokenResolver("tok")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(adapter.Close)
	return adapter
}

func TestCallCorrelatesAck(t *testing.T) {
	adapter := connectedAdapter(t, func(conn *websocket.Conn) {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Event != wire.EventList {
			t.Errorf("event = %q, want %q", frame.Event, wire.EventList)
		}
		data, _ := json.Marshal([]map[string]any{{"id_chat": "c1"}})
		conn.WriteJSON(wire.Frame{Ack: frame.Seq, Data: data})
		// Keep the connection open until the client is done.
		conn.ReadJSON(&wire.Frame{})
	})

	summaries, err := adapter.List(context.Background(), wire.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ChatID != "c1" {
		t.Fatalf("summaries = %+v", summaries)
	}
}

func TestSendPutsBackendFieldsOnTheWire(t *testing.T) {
	adapter := connectedAdapter(t, func(conn *websocket.Conn) {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		var payload map[string]any
		json.Unmarshal(frame.Data, &payload)
		for field, want := range map[string]string{
			"id_chat":         "c1",
			"id_participante": "p1",
			"contenido":       "hola",
			"client_session":  "tag-1",
		} {
			if payload[field] != want {
				t.Errorf("%s = %v, want %q", field, payload[field], want)
			}
		}
		data, _ := json.Marshal(map[string]any{"exito": true, "id_mensaje": "m1"})
		conn.WriteJSON(wire.Frame{Ack: frame.Seq, Data: data})
		conn.ReadJSON(&wire.Frame{})
	})

	ack, err := adapter.Send(context.Background(), "c1", "p1", "hola", "tag-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !ack.Success || ack.MessageID != "m1" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestPushEventsFlowToChannel(t *testing.T) {
	adapter := connectedAdapter(t, func(conn *websocket.Conn) {
		data, _ := json.Marshal(map[string]any{"id_mensaje": "m1", "contenido": "hola"})
		conn.WriteJSON(wire.Frame{Event: wire.EventNewMessage, Data: data})
		conn.ReadJSON(&wire.Frame{})
	})

	select {
	case event := <-adapter.Events():
		if event.Name != wire.EventNewMessage {
			t.Fatalf("event = %q", event.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no push delivered")
	}
}

func TestCreateFallsBackToLegacyEvent(t *testing.T) {
	adapter := connectedAdapter(t, func(conn *websocket.Conn) {
		for {
			var frame wire.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Event == wire.EventCreate {
				// Current event unanswered; the client times out and
				// retries with the legacy name.
				continue
			}
			if frame.Event == wire.EventCreateLegacy {
				data, _ := json.Marshal(map[string]any{"id_chat": "c9"})
				conn.WriteJSON(wire.Frame{Ack: frame.Seq, Data: data})
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	resp, err := adapter.Create(ctx, []wire.Participant{{Type: "cliente", ExternalID: "stu-9"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.ChatID != "c9" {
		t.Fatalf("chat id = %q", resp.ChatID)
	}
}

func TestCallWithoutConnection(t *testing.T) {
	adapter := NewAdapter("ws://127.0.0.1:1/never")
	_, err := adapter.List(context.Background(), wire.ListFilter{})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestTokenResolutionRetries(t *testing.T) {
	url := startBackend(t, func(conn *websocket.Conn) {
		conn.ReadJSON(&wire.Frame{})
	})

	calls := 0
	resolver := TokenResolver(func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "tok", nil
	})

	adapter := NewAdapter(url)
	if err := adapter.Connect(context.Background(), resolver); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer adapter.Close()
	if calls != 3 {
		t.Fatalf("resolver called %d times, want 3", calls)
	}
}

func TestTokenResolutionHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	adapter := NewAdapter("ws://127.0.0.1:1/never")
	err := adapter.Connect(ctx, TokenResolver(func(context.Context) (string, error) {
		return "", errors.New("never")
	}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
}

func TestDoneClosesWhenServerDrops(t *testing.T) {
	adapter := connectedAdapter(t, func(conn *websocket.Conn) {
		// Drop immediately.
	})

	select {
	case <-adapter.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done never closed")
	}
	if adapter.Connected() {
		t.Fatal("adapter still reports connected")
	}
}

func TestJoinInFlightGuard(t *testing.T) {
	release := make(chan struct{})
	adapter := connectedAdapter(t, func(conn *websocket.Conn) {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		<-release
		data, _ := json.Marshal(map[string]any{"id_chat": "c1", "id_participante": "p1"})
		conn.WriteJSON(wire.Frame{Ack: frame.Seq, Data: data})
		conn.ReadJSON(&wire.Frame{})
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := adapter.Join(context.Background(), "c1")
		firstDone <- err
	}()

	// Give the first join time to take the guard.
	time.Sleep(100 * time.Millisecond)
	_, err := adapter.Join(context.Background(), "c1")
	if !errors.Is(err, ErrJoinInFlight) {
		t.Fatalf("overlapping join: err = %v, want ErrJoinInFlight", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first join: %v", err)
	}
}

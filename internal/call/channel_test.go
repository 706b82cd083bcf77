package call

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justinchat/justinchat/internal/signaling"
)

// relayStub is a one-connection websocket endpoint recording everything the
// channel writes and exposing a way to push messages back.
type relayStub struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	cookies  []string
	received []signaling.Message
	dials    int
}

func newRelayStub(t *testing.T) (*relayStub, string) {
	t.Helper()

	stub := &relayStub{t: t}
	srv := httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(srv.Close)

	return stub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *relayStub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.cookies = append(s.cookies, r.Header.Get("Cookie"))
	s.dials++
	s.mu.Unlock()

	for {
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()
	}
}

func (s *relayStub) push(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.t.Fatal(err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatal("no connection to push on")
	}

	if err := conn.WriteJSON(signaling.Message{Type: msgType, Data: data}); err != nil {
		s.t.Fatal(err)
	}
}

func (s *relayStub) waitReceived(n int) []signaling.Message {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.received) >= n {
			out := make([]signaling.Message, len(s.received))
			copy(out, s.received)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	s.t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func TestChannelConnectIdempotent(t *testing.T) {
	stub, url := newRelayStub(t)

	ch := NewChannel(url, "session-token", discardLogger())
	t.Cleanup(func() { ch.Close() })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.dials != 1 {
		t.Fatalf("dials = %d, want 1", stub.dials)
	}
	if len(stub.cookies) != 1 || !strings.Contains(stub.cookies[0], "jwt=session-token") {
		t.Fatalf("cookies = %v, want session jwt", stub.cookies)
	}
}

func TestChannelConnectRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Never upgrades: every dial attempt fails.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	ch := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http"), "", discardLogger())
	ch.backoff = time.Millisecond

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to exhaust its retry budget")
	}
}

func TestChannelSendEnvelopes(t *testing.T) {
	stub, url := newRelayStub(t)

	ch := NewChannel(url, "", discardLogger())
	t.Cleanup(func() { ch.Close() })
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := ch.Join("m3x9k1a0-abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if err := ch.SendCall(signaling.CallEvent{Type: signaling.CallReady, CallingID: "m3x9k1a0-abcdefgh"}); err != nil {
		t.Fatal(err)
	}

	msgs := stub.waitReceived(2)

	if msgs[0].Type != signaling.MessageJoinRoom {
		t.Fatalf("first envelope = %q, want join_room", msgs[0].Type)
	}
	var join signaling.JoinRoomEvent
	if err := json.Unmarshal(msgs[0].Data, &join); err != nil {
		t.Fatal(err)
	}
	if join.RoomID != "m3x9k1a0-abcdefgh" {
		t.Fatalf("roomId = %q", join.RoomID)
	}

	if msgs[1].Type != signaling.MessageCall {
		t.Fatalf("second envelope = %q, want webrtc_call", msgs[1].Type)
	}
	var ev signaling.CallEvent
	if err := json.Unmarshal(msgs[1].Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != signaling.CallReady || ev.CallingID != "m3x9k1a0-abcdefgh" {
		t.Fatalf("call event = %+v", ev)
	}
}

func TestChannelDispatchesInbound(t *testing.T) {
	stub, url := newRelayStub(t)

	ch := NewChannel(url, "", discardLogger())
	t.Cleanup(func() { ch.Close() })
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	calls := make(chan signaling.CallEvent, 1)
	settings := make(chan signaling.SettingEvent, 1)

	detach, err := ch.Listen(
		func(ev signaling.CallEvent) { calls <- ev },
		func(ev signaling.SettingEvent) { settings <- ev },
	)
	if err != nil {
		t.Fatal(err)
	}

	stub.push(signaling.MessageCall, signaling.CallEvent{Type: signaling.CallOffer, SDP: "v=0\r\n"})

	select {
	case ev := <-calls:
		if ev.Type != signaling.CallOffer || ev.SDP != "v=0\r\n" {
			t.Fatalf("call event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call event")
	}

	stub.push(signaling.MessageSetting, signaling.SettingEvent{CallingID: "room"})

	select {
	case ev := <-settings:
		if ev.CallingID != "room" {
			t.Fatalf("setting event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for setting event")
	}

	// After detach nothing is delivered.
	detach()
	stub.push(signaling.MessageCall, signaling.CallEvent{Type: signaling.CallBye})

	select {
	case ev := <-calls:
		t.Fatalf("unexpected event after detach: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenRequiresConnection(t *testing.T) {
	ch := NewChannel("ws://127.0.0.1:1/ws", "", discardLogger())

	if _, err := ch.Listen(func(signaling.CallEvent) {}, func(signaling.SettingEvent) {}); err == nil {
		t.Fatal("expected listen before connect to fail")
	}
}

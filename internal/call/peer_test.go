package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/justinchat/justinchat/internal/signaling"
)

type eventSink struct {
	mu     sync.Mutex
	events []signaling.CallEvent
}

func (s *eventSink) send(ev signaling.CallEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) byType(typ string) []signaling.CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []signaling.CallEvent
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPeer(t *testing.T) (*PeerManager, *eventSink) {
	t.Helper()

	sink := &eventSink{}
	m := NewPeerManager(webrtc.Configuration{}, sink.send, nil, discardLogger())
	t.Cleanup(m.Hangup)

	return m, sink
}

// remoteOffer produces a real SDP offer from a throwaway peer connection.
func remoteOffer(t *testing.T) string {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatal(err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	return offer.SDP
}

func TestMakeCallRefusesExistingConnection(t *testing.T) {
	m, sink := newTestPeer(t)

	if err := m.MakeCall(); err != nil {
		t.Fatalf("first make call: %v", err)
	}
	if !m.Connected() {
		t.Fatal("expected a live peer connection")
	}
	if got := len(sink.byType(signaling.CallOffer)); got != 1 {
		t.Fatalf("offer events = %d, want 1", got)
	}

	if err := m.MakeCall(); !errors.Is(err, ErrExistingPeerConnection) {
		t.Fatalf("second make call err = %v, want ErrExistingPeerConnection", err)
	}
	if got := len(sink.byType(signaling.CallOffer)); got != 1 {
		t.Fatalf("offers after refused call = %d, want 1", got)
	}
}

func TestHandleOfferAnswers(t *testing.T) {
	m, sink := newTestPeer(t)

	m.HandleOffer(remoteOffer(t))

	if !m.Connected() {
		t.Fatal("expected a live peer connection")
	}
	answers := sink.byType(signaling.CallAnswer)
	if len(answers) != 1 {
		t.Fatalf("answer events = %d, want 1", len(answers))
	}
	if answers[0].SDP == "" {
		t.Fatal("answer must carry SDP")
	}
}

func TestHandleOfferDuplicateDropped(t *testing.T) {
	m, sink := newTestPeer(t)

	m.HandleOffer(remoteOffer(t))
	m.HandleOffer(remoteOffer(t))

	if got := len(sink.byType(signaling.CallAnswer)); got != 1 {
		t.Fatalf("answer events = %d, want 1", got)
	}
}

func TestHandleWithoutConnectionIgnored(t *testing.T) {
	m, sink := newTestPeer(t)

	m.HandleAnswer("v=0\r\n")
	m.HandleCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 1 typ host"})
	m.HandleCandidate(nil)

	if m.Connected() {
		t.Fatal("no connection may be created implicitly")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 0 {
		t.Fatalf("events = %v, want none", sink.events)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	m, _ := newTestPeer(t)

	media, err := Acquire(context.Background(), NewSyntheticSource(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(media.Stop)
	m.SetMedia(media)

	if err := m.MakeCall(); err != nil {
		t.Fatal(err)
	}

	mid := "0"
	var idx uint16
	m.HandleCandidate(&webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	m.HandleCandidate(nil) // end-of-candidates marker

	m.mu.Lock()
	buffered := len(m.pending)
	m.mu.Unlock()
	if buffered != 2 {
		t.Fatalf("buffered candidates = %d, want 2", buffered)
	}

	// Answer the offer from a real remote peer, then verify the buffer
	// drains once the remote description is in place.
	m.mu.Lock()
	local := m.pc.LocalDescription()
	m.mu.Unlock()
	if local == nil {
		t.Fatal("expected a local description after make call")
	}

	remote, rerr := webrtc.NewPeerConnection(webrtc.Configuration{})
	if rerr != nil {
		t.Fatal(rerr)
	}
	t.Cleanup(func() { remote.Close() })

	if err := remote.SetRemoteDescription(*local); err != nil {
		t.Fatal(err)
	}
	answer, err := remote.CreateAnswer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := remote.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}

	m.HandleAnswer(answer.SDP)

	m.mu.Lock()
	buffered = len(m.pending)
	remoteSet := m.remoteSet
	m.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("buffered candidates after answer = %d, want 0", buffered)
	}
	if !remoteSet {
		t.Fatal("remote description must be marked committed")
	}
}

func TestHangupIdempotent(t *testing.T) {
	m, _ := newTestPeer(t)

	if err := m.MakeCall(); err != nil {
		t.Fatal(err)
	}

	m.Hangup()
	if m.Connected() {
		t.Fatal("hangup must release the connection")
	}
	m.Hangup()

	// A new call after hangup starts clean.
	if err := m.MakeCall(); err != nil {
		t.Fatalf("make call after hangup: %v", err)
	}
}

func TestMakeCallWithLocalMedia(t *testing.T) {
	sink := &eventSink{}
	m := NewPeerManager(webrtc.Configuration{}, sink.send, nil, discardLogger())
	t.Cleanup(m.Hangup)

	media, err := Acquire(context.Background(), NewSyntheticSource(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(media.Stop)

	m.SetMedia(media)
	if err := m.MakeCall(); err != nil {
		t.Fatal(err)
	}

	offers := sink.byType(signaling.CallOffer)
	if len(offers) != 1 {
		t.Fatalf("offer events = %d, want 1", len(offers))
	}
	if offers[0].SDP == "" {
		t.Fatal("offer must carry SDP")
	}
}

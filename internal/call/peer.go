package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/signaling"
)

// ErrExistingPeerConnection is returned when a call is initiated while a
// peer connection already exists. The existing connection is left
// untouched.
var ErrExistingPeerConnection = errors.New("existing peerconnection")

// PeerManager owns the negotiation lifecycle of exactly one peer
// connection per call session. Inbound signaling failures are logged and
// dropped, never propagated: a missed candidate degrades the call, it does
// not tear it down.
//
// Candidates arriving before the remote description is committed are
// buffered and flushed after the commit.
type PeerManager struct {
	cfg  webrtc.Configuration
	send func(signaling.CallEvent)
	log  *slog.Logger

	// onRemoteTrack fires once per received track.
	onRemoteTrack func(*webrtc.TrackRemote)

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	media     *LocalMedia
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewPeerManager(
	cfg webrtc.Configuration,
	send func(signaling.CallEvent),
	onRemoteTrack func(*webrtc.TrackRemote),
	log *slog.Logger,
) *PeerManager {
	if log == nil {
		log = slog.Default()
	}

	return &PeerManager{
		cfg:           cfg,
		send:          send,
		onRemoteTrack: onRemoteTrack,
		log:           log,
	}
}

// Connected reports whether a peer connection currently exists.
func (m *PeerManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pc != nil
}

// SetMedia attaches the local capture used by subsequently created
// connections. The engine sets it when media becomes ready and clears it
// on hangup.
func (m *PeerManager) SetMedia(media *LocalMedia) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media = media
}

// MakeCall initiates the connection: creates the peer connection, attaches
// the local tracks, and relays an offer. Preconditions: local media ready,
// no existing connection.
func (m *PeerManager) MakeCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc != nil {
		return ErrExistingPeerConnection
	}

	pc, err := m.newConnectionLocked(m.media)
	if err != nil {
		return err
	}
	m.pc = pc

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.closeLocked()
		return fmt.Errorf("create offer: %w", err)
	}

	// Relay and local commit are both attempted even if one fails; neither
	// depends on the other completing first.
	m.send(signaling.CallEvent{Type: signaling.CallOffer, SDP: offer.SDP})

	if err := pc.SetLocalDescription(offer); err != nil {
		m.log.Error("set local offer", slog.Any(constant.Error, err))
	}

	return nil
}

// HandleOffer answers a received offer. A second offer while a connection
// exists is dropped, not queued.
func (m *PeerManager) HandleOffer(sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc != nil {
		m.log.Error("offer received with existing peerconnection, dropping")
		return
	}

	pc, err := m.newConnectionLocked(m.media)
	if err != nil {
		m.log.Error("create peer connection for offer", slog.Any(constant.Error, err))
		return
	}
	m.pc = pc

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		m.log.Error("set remote offer", slog.Any(constant.Error, err))
		m.closeLocked()
		return
	}
	m.remoteSet = true
	m.flushPendingLocked()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.log.Error("create answer", slog.Any(constant.Error, err))
		m.closeLocked()
		return
	}

	m.send(signaling.CallEvent{Type: signaling.CallAnswer, SDP: answer.SDP})

	if err := pc.SetLocalDescription(answer); err != nil {
		m.log.Error("set local answer", slog.Any(constant.Error, err))
	}
}

// HandleAnswer commits a received answer as the remote description.
// Caller side only; a no-op with a logged error if no connection exists.
func (m *PeerManager) HandleAnswer(sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		m.log.Error("answer received with no peerconnection")
		return
	}

	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		m.log.Error("set remote answer", slog.Any(constant.Error, err))
		return
	}
	m.remoteSet = true
	m.flushPendingLocked()
}

// HandleCandidate applies a trickled candidate, or buffers it while the
// remote description is not yet committed. A nil candidate is the
// end-of-candidates marker.
func (m *PeerManager) HandleCandidate(candidate *webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		m.log.Error("candidate received with no peerconnection")
		return
	}

	init := webrtc.ICECandidateInit{}
	if candidate != nil {
		init = *candidate
	}

	if !m.remoteSet {
		m.pending = append(m.pending, init)
		return
	}

	if err := m.pc.AddICECandidate(init); err != nil {
		m.log.Error("add ice candidate", slog.Any(constant.Error, err))
	}
}

// Hangup closes and releases the peer connection. Calling it with no
// active connection is a no-op.
func (m *PeerManager) Hangup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *PeerManager) flushPendingLocked() {
	for _, init := range m.pending {
		if err := m.pc.AddICECandidate(init); err != nil {
			m.log.Error("add buffered ice candidate", slog.Any(constant.Error, err))
		}
	}
	m.pending = nil
}

func (m *PeerManager) closeLocked() {
	if m.pc != nil {
		if err := m.pc.Close(); err != nil {
			m.log.Error("close peer connection", slog.Any(constant.Error, err))
		}
		m.pc = nil
	}
	m.remoteSet = false
	m.pending = nil
}

func (m *PeerManager) newConnectionLocked(media *LocalMedia) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if media != nil {
		for _, track := range media.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering: relay the null-candidate marker.
			m.send(signaling.CallEvent{Type: signaling.CallCandidate})
			return
		}

		j := c.ToJSON()
		m.send(signaling.CallEvent{
			Type:          signaling.CallCandidate,
			Candidate:     &j.Candidate,
			SDPMid:        j.SDPMid,
			SDPMLineIndex: j.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.log.Info("remote track received",
			slog.String("kind", track.Kind().String()),
			slog.String("codec", track.Codec().MimeType),
		)
		if m.onRemoteTrack != nil {
			m.onRemoteTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.log.Info("peer connection state", slog.String("state", state.String()))
	})

	return pc, nil
}

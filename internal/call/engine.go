// Package call implements the call-setup state machine and the peer
// connection manager for one Just In Chat call endpoint. Setup runs as an
// ordered pipeline of discrete, guarded steps; inbound signaling events
// are routed strictly by type once local media is ready.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/domain"
	"github.com/justinchat/justinchat/internal/invite"
	"github.com/justinchat/justinchat/internal/signaling"
)

// Step is the ordinal position in the setup pipeline. It only increases
// while a session is alive; a new call cycle after hangup re-runs from
// StepMediaReady.
type Step int

const (
	StepUnresolved Step = iota
	StepChannelConnecting
	StepListenersArmed
	StepIdentityVerified
	StepMediaReady
)

func (s Step) String() string {
	switch s {
	case StepUnresolved:
		return "unresolved"
	case StepChannelConnecting:
		return "channel_connecting"
	case StepListenersArmed:
		return "listeners_armed"
	case StepIdentityVerified:
		return "identity_verified"
	case StepMediaReady:
		return "media_ready"
	default:
		return "unknown"
	}
}

// InvitationResolver verifies a call-invitation token and decodes the
// session it admits to.
type InvitationResolver interface {
	Resolve(ctx context.Context, token string) (invite.Invitation, error)
}

// Options is the narrow configuration distinguishing the call variants:
// a well-known shared room versus an ad-hoc per-call room, and whether
// session metadata rides along on every signaling message.
type Options struct {
	// FixedRoom names a shared calling room. When set, a session may start
	// without an invitation token.
	FixedRoom string

	// Target, in fixed-room mode, is the party to call. Without a target
	// the endpoint waits passively, announcing presence with ready.
	Target *domain.Participant

	// AttachCallersInfo makes every outbound webrtc_call event carry the
	// session's callersInfo, for relays that keep no session context.
	AttachCallersInfo bool

	ICEServers []webrtc.ICEServer

	// OnRemoteTrack fires when the first remote media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote)
}

// Engine drives one call session end to end: token resolution, channel
// connection, listener arming, identity verification, media acquisition,
// and the role-based handshake, then routes relayed signaling into the
// peer connection manager.
type Engine struct {
	opts     Options
	ch       Transport
	resolver InvitationResolver
	ident    IdentityVerifier
	src      Source
	notify   Notifier
	log      *slog.Logger

	peer *PeerManager

	// meta guards the fields outbound messages are stamped with. It is a
	// separate lock so peer callbacks never contend with dispatch.
	meta struct {
		sync.Mutex
		callingID string
		info      *domain.CallersInfo
	}

	mu           sync.Mutex
	step         Step
	self         domain.Participant
	role         domain.Role
	passive      bool
	minted       bool
	pendingRoom  string
	callSet      bool
	media        *LocalMedia
	detach       func()
	peerSettings domain.MediaSettings
}

func NewEngine(
	ch Transport,
	resolver InvitationResolver,
	ident IdentityVerifier,
	src Source,
	notify Notifier,
	opts Options,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if notify == nil {
		notify = LogNotifier{Log: log}
	}

	e := &Engine{
		opts:     opts,
		ch:       ch,
		resolver: resolver,
		ident:    ident,
		src:      src,
		notify:   notify,
		log:      log,
	}

	e.peer = NewPeerManager(
		webrtc.Configuration{ICEServers: opts.ICEServers},
		e.relayOut,
		opts.OnRemoteTrack,
		log,
	)

	return e
}

// Start runs the setup pipeline. Steps execute in strict order; each
// advances only once its side effects have committed. Fatal failures tear
// the session down, surface a reason through the Notifier, and are
// returned to the caller.
func (e *Engine) Start(ctx context.Context, token string) error {
	if err := e.resolve(ctx, token); err != nil {
		e.fail(invitationReason(err), err)
		return err
	}

	e.advance(StepChannelConnecting)
	if err := e.ch.Connect(ctx); err != nil {
		e.fail(ReasonConnectFailed, err)
		return err
	}

	e.advance(StepListenersArmed)
	if err := e.armListeners(); err != nil {
		e.fail(ReasonConnectFailed, err)
		return err
	}
	if err := e.ch.Join(e.CallingID()); err != nil {
		e.fail(ReasonConnectFailed, err)
		return err
	}

	e.advance(StepIdentityVerified)
	self, err := e.ident.Verify(ctx)
	if err != nil {
		e.fail(credentialReason(err), err)
		return err
	}

	e.mu.Lock()
	e.self = self
	e.mu.Unlock()
	e.adoptTarget()
	e.deriveRole()

	e.advance(StepMediaReady)
	if err := e.beginCall(ctx); err != nil {
		e.fail(ReasonMediaFailed, err)
		return err
	}

	return nil
}

// Redial starts a new call cycle after a hangup, re-running the pipeline
// from media acquisition. The channel, listeners, and identity are reused.
func (e *Engine) Redial(ctx context.Context) error {
	e.mu.Lock()
	if e.callSet {
		e.mu.Unlock()
		return fmt.Errorf("call already active")
	}
	e.mu.Unlock()

	if err := e.beginCall(ctx); err != nil {
		e.fail(ReasonMediaFailed, err)
		return err
	}

	return nil
}

// Step reports the current pipeline position.
func (e *Engine) Step() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// CallingID is the room identifier the session is scoped to.
func (e *Engine) CallingID() string {
	e.meta.Lock()
	defer e.meta.Unlock()
	return e.meta.callingID
}

// PeerSettings returns the mirrored peer media flags.
func (e *Engine) PeerSettings() domain.MediaSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerSettings
}

// SetMic toggles the local microphone in place and mirrors the new flags
// to the peer on the side channel.
func (e *Engine) SetMic(on bool) {
	e.setMedia(func(m *LocalMedia) { m.SetMic(on) })
}

// SetVideo toggles the local camera in place and mirrors the new flags to
// the peer on the side channel.
func (e *Engine) SetVideo(on bool) {
	e.setMedia(func(m *LocalMedia) { m.SetVideo(on) })
}

// EndCall ends the call locally: announces bye to the room, tears down,
// and reports the local end to the Notifier.
func (e *Engine) EndCall() {
	e.mu.Lock()
	active := e.callSet
	e.mu.Unlock()

	if !active {
		return
	}

	e.relayOut(signaling.CallEvent{Type: signaling.CallBye})
	e.Hangup()
	e.notify.LocalEnded()
}

// Hangup releases the peer connection and the local capture and clears the
// call-set mark. Idempotent: a second invocation is a no-op.
func (e *Engine) Hangup() {
	e.peer.Hangup()
	e.peer.SetMedia(nil)

	e.mu.Lock()
	if e.media != nil {
		e.media.Stop()
		e.media = nil
	}
	e.callSet = false
	e.mu.Unlock()
}

// Close detaches listeners and releases the session. The transport itself
// is owned by the caller and may be shared; it is not closed here.
func (e *Engine) Close() {
	e.Hangup()

	e.mu.Lock()
	detach := e.detach
	e.detach = nil
	e.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (e *Engine) resolve(ctx context.Context, token string) error {
	if token == "" {
		if e.opts.FixedRoom == "" {
			return invite.ErrNoToken
		}

		e.setMeta(e.opts.FixedRoom, nil)

		e.mu.Lock()
		e.passive = e.opts.Target == nil
		if !e.passive {
			// Calling out of a shared room: mint an ad-hoc room now and
			// announce it with the call_request so the pair moves out of
			// the shared room together.
			e.pendingRoom = domain.NewCallingID()
		}
		e.mu.Unlock()
		return nil
	}

	if e.resolver == nil {
		return fmt.Errorf("%w: no invitation resolver configured", invite.ErrMalformedToken)
	}

	inv, err := e.resolver.Resolve(ctx, token)
	if err != nil {
		return err
	}

	callingID := inv.CallingID
	minted := false
	if inv.Fresh() {
		callingID = domain.NewCallingID()
		minted = true
	}

	info := inv.CallersInfo
	e.setMeta(callingID, &info)

	e.mu.Lock()
	e.minted = minted
	e.mu.Unlock()

	return nil
}

func (e *Engine) armListeners() error {
	// Detach before re-arming so a pipeline restart never leaves a second
	// registration behind.
	e.mu.Lock()
	if e.detach != nil {
		e.detach()
		e.detach = nil
	}
	e.mu.Unlock()

	detach, err := e.ch.Listen(e.handleCall, e.handleSetting)
	if err != nil {
		return fmt.Errorf("arm signaling listeners: %w", err)
	}

	e.mu.Lock()
	e.detach = detach
	e.mu.Unlock()

	return nil
}

func (e *Engine) deriveRole() {
	e.meta.Lock()
	info := e.meta.info
	e.meta.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if info == nil {
		e.role = domain.RoleCaller
		return
	}
	e.role = info.Role(e.self.ID)
}

// beginCall acquires local media and runs the role-based handshake: the
// callee announces presence with ready, the caller announces intent with
// call_request.
func (e *Engine) beginCall(ctx context.Context) error {
	media, err := Acquire(ctx, e.src, e.log)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.media = media
	e.callSet = true
	role := e.role
	passive := e.passive
	minted := e.minted
	pendingRoom := e.pendingRoom
	e.pendingRoom = ""
	e.mu.Unlock()

	e.peer.SetMedia(media)

	if passive || role == domain.RoleCallee {
		e.relayOut(signaling.CallEvent{Type: signaling.CallReady})
		return nil
	}

	e.meta.Lock()
	info := e.meta.info
	callingID := e.meta.callingID
	e.meta.Unlock()

	ev := signaling.CallEvent{
		Type:        signaling.CallRequest,
		CallersInfo: info,
	}
	switch {
	case minted:
		ev.NewCallingID = callingID
	case pendingRoom != "":
		ev.NewCallingID = pendingRoom
	}
	e.relayOut(ev)

	if pendingRoom != "" {
		e.moveRoom(pendingRoom)
	}

	return nil
}

// handleCall routes one relayed webrtc_call event. Events arriving before
// local media is ready are ignored entirely, not queued: that is the
// ordering guard keeping negotiation behind MediaReady.
func (e *Engine) handleCall(ev signaling.CallEvent) {
	e.mu.Lock()
	ready := e.callSet
	e.mu.Unlock()

	if !ready {
		return
	}

	switch ev.Type {
	case signaling.CallReady:
		if e.peer.Connected() {
			e.log.Error("ready received with existing peerconnection, ignoring")
			return
		}
		if err := e.peer.MakeCall(); err != nil {
			e.log.Error("make call", slog.Any(constant.Error, err))
		}

	case signaling.CallRequest:
		// call_request fans out to the whole room; only the named callee
		// answers it. Anyone else stays where they are.
		info := ev.CallersInfo
		if info == nil {
			e.meta.Lock()
			info = e.meta.info
			e.meta.Unlock()
		}
		e.mu.Lock()
		selfID := e.self.ID
		e.mu.Unlock()
		if info == nil || info.Callee.ID != selfID {
			e.log.Error("call_request addressed to another user, ignoring")
			return
		}
		if ev.CallersInfo != nil {
			e.adoptInfo(*ev.CallersInfo)
		}
		if ev.NewCallingID != "" {
			e.moveRoom(ev.NewCallingID)
		}
		if e.peer.Connected() {
			e.log.Error("call_request received with existing peerconnection, ignoring")
			return
		}
		if err := e.peer.MakeCall(); err != nil {
			e.log.Error("make call", slog.Any(constant.Error, err))
		}

	case signaling.CallOffer:
		e.peer.HandleOffer(ev.SDP)

	case signaling.CallAnswer:
		e.peer.HandleAnswer(ev.SDP)

	case signaling.CallCandidate:
		var init *webrtc.ICECandidateInit
		if ev.Candidate != nil {
			init = &webrtc.ICECandidateInit{
				Candidate:     *ev.Candidate,
				SDPMid:        ev.SDPMid,
				SDPMLineIndex: ev.SDPMLineIndex,
			}
		}
		e.peer.HandleCandidate(init)

	case signaling.CallBye:
		if !e.peer.Connected() {
			e.log.Error("bye received with no peerconnection, ignoring")
			return
		}
		e.Hangup()
		e.notify.PeerEnded()

	default:
		e.log.Error("unknown webrtc_call type, dropping", slog.String(constant.EventType, ev.Type))
	}
}

// handleSetting updates the mirrored peer flags. Side-channel only: it
// never touches negotiation state.
func (e *Engine) handleSetting(ev signaling.SettingEvent) {
	e.mu.Lock()
	e.peerSettings = ev.Value
	e.mu.Unlock()

	e.notify.PeerSettings(ev.Value)
}

// adoptTarget builds the session identities for a fixed-room outgoing
// call, where no invitation supplies them.
func (e *Engine) adoptTarget() {
	if e.opts.Target == nil {
		return
	}

	e.meta.Lock()
	hasInfo := e.meta.info != nil
	e.meta.Unlock()
	if hasInfo {
		return
	}

	e.mu.Lock()
	self := e.self
	e.mu.Unlock()

	e.meta.Lock()
	e.meta.info = &domain.CallersInfo{Caller: self, Callee: *e.opts.Target}
	e.meta.Unlock()
}

// adoptInfo installs session identities learned from a relayed
// call_request and re-derives the local role.
func (e *Engine) adoptInfo(info domain.CallersInfo) {
	e.meta.Lock()
	e.meta.info = &info
	e.meta.Unlock()

	e.deriveRole()
}

// moveRoom follows a caller minting an ad-hoc room from a shared one.
func (e *Engine) moveRoom(callingID string) {
	e.meta.Lock()
	current := e.meta.callingID
	if callingID == current {
		e.meta.Unlock()
		return
	}
	e.meta.callingID = callingID
	e.meta.Unlock()

	if err := e.ch.Join(callingID); err != nil {
		e.log.Error("join ad-hoc room", slog.Any(constant.Error, err), slog.String(constant.CallingID, callingID))
	}
}

// relayOut stamps an outbound event with the session's room and, when
// configured, its callersInfo, then relays it. Send failures degrade the
// call and are logged, never propagated.
func (e *Engine) relayOut(ev signaling.CallEvent) {
	e.meta.Lock()
	ev.CallingID = e.meta.callingID
	if e.opts.AttachCallersInfo && ev.CallersInfo == nil {
		ev.CallersInfo = e.meta.info
	}
	e.meta.Unlock()

	if err := e.ch.SendCall(ev); err != nil {
		e.log.Error("relay signaling event",
			slog.Any(constant.Error, err),
			slog.String(constant.EventType, ev.Type),
		)
	}
}

func (e *Engine) setMedia(apply func(*LocalMedia)) {
	e.mu.Lock()
	media := e.media
	e.mu.Unlock()

	if media == nil {
		return
	}
	apply(media)

	ev := signaling.SettingEvent{
		CallingID: e.CallingID(),
		Value:     media.Settings(),
	}
	if err := e.ch.SendSetting(ev); err != nil {
		e.log.Error("relay call settings", slog.Any(constant.Error, err))
	}
}

func (e *Engine) setMeta(callingID string, info *domain.CallersInfo) {
	e.meta.Lock()
	e.meta.callingID = callingID
	e.meta.info = info
	e.meta.Unlock()
}

func (e *Engine) advance(step Step) {
	e.mu.Lock()
	e.step = step
	e.mu.Unlock()

	e.log.Debug("setup step", slog.String(constant.Step, step.String()))
}

// fail aborts the session: teardown, listener detach, and a user-facing
// reason through the Notifier.
func (e *Engine) fail(reason FatalReason, err error) {
	e.Close()
	e.notify.Fatal(reason, err)
}

func invitationReason(err error) FatalReason {
	switch {
	case errors.Is(err, invite.ErrNoToken):
		return ReasonTokenMissing
	case errors.Is(err, invite.ErrExpiredToken):
		return ReasonTokenExpired
	default:
		return ReasonTokenMalformed
	}
}

func credentialReason(err error) FatalReason {
	switch {
	case errors.Is(err, ErrNoCredential):
		return ReasonNoCredential
	case errors.Is(err, ErrExpiredCredential):
		return ReasonExpiredCredential
	default:
		return ReasonBadCredential
	}
}

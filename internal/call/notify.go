package call

import (
	"log/slog"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/domain"
)

// FatalReason names the failure category surfaced when a call session is
// aborted. Every fatal path ends with the user returned to a safe landing
// context carrying one of these.
type FatalReason int

const (
	ReasonTokenMissing FatalReason = iota
	ReasonTokenMalformed
	ReasonTokenExpired
	ReasonConnectFailed
	ReasonNoCredential
	ReasonBadCredential
	ReasonExpiredCredential
	ReasonMediaFailed
)

func (r FatalReason) String() string {
	switch r {
	case ReasonTokenMissing:
		return "call info not found"
	case ReasonTokenMalformed:
		return "call link malformed"
	case ReasonTokenExpired:
		return "call link expired"
	case ReasonConnectFailed:
		return "connection failed"
	case ReasonNoCredential:
		return "not logged in"
	case ReasonBadCredential:
		return "session malformed"
	case ReasonExpiredCredential:
		return "session expired"
	case ReasonMediaFailed:
		return "camera or microphone unavailable"
	default:
		return "call failed"
	}
}

// Notifier receives user-facing session notices. It is the engine's only
// outlet for toast-style messaging; it carries no signaling logic.
type Notifier interface {
	// Fatal reports an aborted session. The engine has already torn down.
	Fatal(reason FatalReason, err error)

	// PeerEnded reports that the other party ended the call.
	PeerEnded()

	// LocalEnded reports that this endpoint ended the call.
	LocalEnded()

	// PeerSettings mirrors the peer's mute/video flags.
	PeerSettings(settings domain.MediaSettings)
}

// LogNotifier is the default Notifier, writing notices to slog.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

func (n LogNotifier) Fatal(reason FatalReason, err error) {
	n.logger().Error("call aborted",
		slog.String("reason", reason.String()),
		slog.Any(constant.Error, err),
	)
}

func (n LogNotifier) PeerEnded() {
	n.logger().Info("the other party ended the call")
}

func (n LogNotifier) LocalEnded() {
	n.logger().Info("you ended the call")
}

func (n LogNotifier) PeerSettings(settings domain.MediaSettings) {
	n.logger().Info("peer call settings changed",
		slog.Bool("video_on", settings.VideoOn),
		slog.Bool("mic_on", settings.MicOn),
	)
}

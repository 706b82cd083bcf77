package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/domain"
)

// Source is a local capture device: it produces RTP packets for one audio
// and one video stream. Open may block on device acquisition and is the
// media-permission analogue; its failure aborts call setup.
type Source interface {
	Open(ctx context.Context) error
	ReadAudio(ctx context.Context) (*rtp.Packet, error)
	ReadVideo(ctx context.Context) (*rtp.Packet, error)
	Close() error
}

// LocalMedia owns the local capture for one call session: an Opus audio
// track and a VP8 video track fed from a Source. Mute and video-off are
// implemented in place by gating the pump, never by renegotiation.
type LocalMedia struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	src Source
	log *slog.Logger

	micOn   atomic.Bool
	videoOn atomic.Bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Acquire opens the capture source and starts the track pumps. The video
// track starts disabled: the camera is captured but not shown until the
// user opts in. Audio starts enabled.
func Acquire(ctx context.Context, src Source, log *slog.Logger) (*LocalMedia, error) {
	if src == nil {
		return nil, fmt.Errorf("acquire media: no capture source")
	}
	if log == nil {
		log = slog.Default()
	}

	if err := src.Open(ctx); err != nil {
		return nil, fmt.Errorf("acquire media: %w", err)
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "justinchat",
	)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "justinchat",
	)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m := &LocalMedia{
		audio:  audio,
		video:  video,
		src:    src,
		log:    log,
		cancel: cancel,
	}
	m.micOn.Store(true)

	m.wg.Add(2)
	go m.pump(pumpCtx, m.audio, src.ReadAudio, &m.micOn)
	go m.pump(pumpCtx, m.video, src.ReadVideo, &m.videoOn)

	return m, nil
}

func (m *LocalMedia) pump(
	ctx context.Context,
	track *webrtc.TrackLocalStaticRTP,
	read func(context.Context) (*rtp.Packet, error),
	on *atomic.Bool,
) {
	defer m.wg.Done()

	for {
		pkt, err := read(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				m.log.Error("media source read", slog.Any(constant.Error, err))
			}
			return
		}

		// Disabled tracks drop packets in place; the track stays attached.
		if !on.Load() {
			continue
		}

		if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			m.log.Error("write local track", slog.Any(constant.Error, err))
		}
	}
}

// Tracks returns the local tracks to attach to a peer connection.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *LocalMedia) SetMic(on bool) {
	m.micOn.Store(on)
}

func (m *LocalMedia) SetVideo(on bool) {
	m.videoOn.Store(on)
}

func (m *LocalMedia) Settings() domain.MediaSettings {
	return domain.MediaSettings{
		VideoOn: m.videoOn.Load(),
		MicOn:   m.micOn.Load(),
	}
}

// Stop releases the capture. Safe to call more than once.
func (m *LocalMedia) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		if err := m.src.Close(); err != nil {
			m.log.Error("close media source", slog.Any(constant.Error, err))
		}
		m.wg.Wait()
	})
}

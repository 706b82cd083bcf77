package call

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// opusSilence is a minimal Opus frame decoding to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Blank is a VP8 payload descriptor followed by an empty frame; enough
// for receivers that only count packets.
var vp8Blank = []byte{0x10, 0x00, 0x00}

// SyntheticSource is a capture source producing silent audio and blank
// video at a fixed frame interval. The headless endpoint and the tests use
// it in place of real devices.
type SyntheticSource struct {
	// FailOpen makes Open fail, standing in for a denied device permission.
	FailOpen error

	// Interval between frames. Zero means 20ms.
	Interval time.Duration

	audioSeq atomic.Uint32
	videoSeq atomic.Uint32
	audioSSRC uint32
	videoSSRC uint32

	closed chan struct{}
	once   atomic.Bool
}

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{
		audioSSRC: rand.Uint32(),
		videoSSRC: rand.Uint32(),
		closed:    make(chan struct{}),
	}
}

func (s *SyntheticSource) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return 20 * time.Millisecond
}

func (s *SyntheticSource) Open(ctx context.Context) error {
	return s.FailOpen
}

func (s *SyntheticSource) ReadAudio(ctx context.Context) (*rtp.Packet, error) {
	return s.next(ctx, &s.audioSeq, s.audioSSRC, 111, 960, opusSilence)
}

func (s *SyntheticSource) ReadVideo(ctx context.Context) (*rtp.Packet, error) {
	return s.next(ctx, &s.videoSeq, s.videoSSRC, 96, 3000, vp8Blank)
}

func (s *SyntheticSource) next(
	ctx context.Context,
	seq *atomic.Uint32,
	ssrc uint32,
	payloadType uint8,
	tsStep uint32,
	payload []byte,
) (*rtp.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, context.Canceled
	case <-time.After(s.interval()):
	}

	n := seq.Add(1)

	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: uint16(n),
			Timestamp:      n * tsStep,
			SSRC:           ssrc,
		},
		Payload: payload,
	}, nil
}

func (s *SyntheticSource) Close() error {
	if s.once.CompareAndSwap(false, true) {
		close(s.closed)
	}
	return nil
}

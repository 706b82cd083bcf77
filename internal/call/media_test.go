package call

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireDefaults(t *testing.T) {
	media, err := Acquire(context.Background(), NewSyntheticSource(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(media.Stop)

	settings := media.Settings()
	if !settings.MicOn {
		t.Fatal("mic must start enabled")
	}
	if settings.VideoOn {
		t.Fatal("video must start disabled")
	}

	if got := len(media.Tracks()); got != 2 {
		t.Fatalf("tracks = %d, want audio and video", got)
	}
}

func TestAcquireOpenFailure(t *testing.T) {
	src := NewSyntheticSource()
	src.FailOpen = errors.New("device busy")

	if _, err := Acquire(context.Background(), src, discardLogger()); err == nil {
		t.Fatal("expected acquire to fail")
	}
}

func TestTogglesFlipInPlace(t *testing.T) {
	media, err := Acquire(context.Background(), NewSyntheticSource(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(media.Stop)

	media.SetVideo(true)
	media.SetMic(false)

	settings := media.Settings()
	if !settings.VideoOn || settings.MicOn {
		t.Fatalf("settings = %+v", settings)
	}

	// Toggling must not tear anything down: the same tracks keep serving.
	if got := len(media.Tracks()); got != 2 {
		t.Fatalf("tracks after toggle = %d, want 2", got)
	}
}

func TestStopIdempotent(t *testing.T) {
	src := NewSyntheticSource()
	src.Interval = time.Millisecond

	media, err := Acquire(context.Background(), src, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	media.Stop()
	media.Stop()
}

func TestSyntheticSourceProducesPackets(t *testing.T) {
	src := NewSyntheticSource()
	src.Interval = time.Millisecond
	t.Cleanup(func() { src.Close() })

	if err := src.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	audio, err := src.ReadAudio(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if audio.PayloadType != 111 || len(audio.Payload) == 0 {
		t.Fatalf("audio packet = %+v", audio.Header)
	}

	video, err := src.ReadVideo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if video.PayloadType != 96 || len(video.Payload) == 0 {
		t.Fatalf("video packet = %+v", video.Header)
	}
}

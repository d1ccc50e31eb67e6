package peer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/session"
)

func TestCodecParameters(t *testing.T) {
	params, err := codecParameters([]string{"video/vp8", webrtc.MimeTypeH264, webrtc.MimeTypeVP8})
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 2 || params[0].MimeType != webrtc.MimeTypeVP8 || params[1].MimeType != webrtc.MimeTypeH264 {
		t.Fatalf("unexpected order %v", params)
	}

	params, err = codecParameters(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != len(DefaultCodecs) || params[0].MimeType != webrtc.MimeTypeH264 {
		t.Fatalf("unexpected defaults %v", params)
	}

	if _, err := codecParameters([]string{"video/AV1X"}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("got %v, want ErrUnsupportedCodec", err)
	}
}

func TestUnwrap(t *testing.T) {
	var u unwrapper
	in := []uint32{4294964296, 0, 3000, 6000}
	want := []int64{0, 3000, 6000, 9000}
	for i, ts := range in {
		if got := u.unwrap(ts); got != want[i] {
			t.Fatalf("step %d: got %d, want %d", i, got, want[i])
		}
	}
	if got := u.unwrap(3000); got != 6000 {
		t.Fatalf("reordered timestamp: got %d, want 6000", got)
	}
}

func TestVP8Keyframe(t *testing.T) {
	if !vp8Keyframe([]byte{0x10, 0x02}) {
		t.Fatal("cleared P bit is a keyframe")
	}
	if vp8Keyframe([]byte{0x11}) || vp8Keyframe(nil) {
		t.Fatal("set P bit or empty frame is not a keyframe")
	}
}

func TestOfferCodecOrder(t *testing.T) {
	logger := zerolog.Nop()
	p, err := New(WebRTCConfigOptions{Codecs: []string{webrtc.MimeTypeH264, webrtc.MimeTypeVP8}}, &logger)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.AddVideoTrack(webrtc.MimeTypeH264); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AddVideoTrack("video/VP9"); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("got %v, want ErrUnsupportedCodec", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := p.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if offer.Type != session.SDPTypeOffer {
		t.Fatalf("got %q, want offer", offer.Type)
	}
	if err := session.ValidateOffer(offer); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(offer.SDP, "m=video 9 UDP/TLS/RTP/SAVPF 102 96") {
		t.Fatalf("codecs not in preference order:\n%s", offer.SDP)
	}
	if !strings.Contains(offer.SDP, "a=sendonly") {
		t.Fatalf("video should be send-only:\n%s", offer.SDP)
	}
}

func TestSaysGoodbye(t *testing.T) {
	bye := &rtcp.Goodbye{Sources: []uint32{7, 42}}
	if !saysGoodbye(bye, 42) {
		t.Fatal("listed source should say goodbye")
	}
	if saysGoodbye(bye, 8) || saysGoodbye(&rtcp.Goodbye{}, 42) {
		t.Fatal("unlisted source should not say goodbye")
	}
}

func TestEndedRemoteReadsEOF(t *testing.T) {
	stops := 0
	r := &remoteVideo{
		builder: samplebuilder.New(maxLate, &codecs.H264Packet{}, 90000),
		ended:   make(chan struct{}),
		stop: func() error {
			stops++
			return nil
		},
	}
	r.end()
	r.end()
	if stops != 1 {
		t.Fatalf("receiver stopped %d times, want 1", stops)
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

// TestRemoteTrackEndsWhenSenderCloses connects two pion peers on this host and
// checks that closing the sending side ends the received track.
func TestRemoteTrackEndsWhenSenderCloses(t *testing.T) {
	logger := zerolog.Nop()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sending, err := New(WebRTCConfigOptions{}, &logger)
	if err != nil {
		t.Fatal(err)
	}
	receiving, err := New(WebRTCConfigOptions{}, &logger)
	if err != nil {
		t.Fatal(err)
	}
	defer receiving.Close()

	tracks := make(chan RemoteTrack, 1)
	receiving.OnRemoteTrack(func(rt RemoteTrack) { tracks <- rt })

	local, err := sending.AddVideoTrack(webrtc.MimeTypeH264)
	if err != nil {
		t.Fatal(err)
	}
	offer, err := sending.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	answer, err := receiving.CreateAnswer(ctx, offer)
	if err != nil {
		t.Fatal(err)
	}
	if err := sending.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}

	device, err := capture.Open(ctx, capture.DeviceConfig{Kind: capture.KindTestSource, Width: 320, Height: 240, FrameRate: 30}, &logger)
	if err != nil {
		t.Fatal(err)
	}
	defer device.Close()
	writing := make(chan struct{})
	stopWriting := make(chan struct{})
	go func() {
		defer close(writing)
		for {
			select {
			case <-stopWriting:
				return
			default:
			}
			f, err := device.Read(ctx)
			if err != nil {
				return
			}
			if err := local.WriteFrame(f, device.Config().FrameInterval()); err != nil {
				return
			}
		}
	}()

	var rt RemoteTrack
	select {
	case rt = <-tracks:
	case <-ctx.Done():
		t.Fatal("no remote track")
	}
	for i := 0; i < 5; i++ {
		if _, err := rt.ReadFrame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	close(stopWriting)
	<-writing
	if err := sending.Close(); err != nil {
		t.Fatal(err)
	}

	ended := make(chan error, 1)
	go func() {
		for {
			if _, err := rt.ReadFrame(); err != nil {
				ended <- err
				return
			}
		}
	}()
	select {
	case err := <-ended:
		if err != io.EOF {
			t.Fatalf("got %v, want io.EOF", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("remote track did not end after the sender closed")
	}
}

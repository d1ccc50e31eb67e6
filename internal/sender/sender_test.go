package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/session"
)

type fakeLocal struct {
	mu     sync.Mutex
	frames []capture.Frame
}

func (l *fakeLocal) ID() string { return "video" }

func (l *fakeLocal) WriteFrame(f capture.Frame, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	return nil
}

func (l *fakeLocal) written() []capture.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capture.Frame(nil), l.frames...)
}

type fakePeer struct {
	local  *fakeLocal
	mu     sync.Mutex
	closed bool
}

func (p *fakePeer) CreateOffer(context.Context) (session.Description, error) {
	return session.Description{Type: session.SDPTypeOffer, SDP: "v=0\r\n"}, nil
}

func (p *fakePeer) CreateAnswer(context.Context, session.Description) (session.Description, error) {
	return session.Description{}, errors.New("sender does not answer")
}

func (p *fakePeer) SetRemoteDescription(session.Description) error { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) AddVideoTrack(string) (peer.LocalTrack, error) { return p.local, nil }
func (p *fakePeer) OnFailure(func(error))                        {}

type signalerFunc func(context.Context, session.Description) (session.Description, error)

func (f signalerFunc) SendOffer(ctx context.Context, offer session.Description) (session.Description, error) {
	return f(ctx, offer)
}

var answering = signalerFunc(func(context.Context, session.Description) (session.Description, error) {
	return session.Description{Type: session.SDPTypeAnswer, SDP: "v=0\r\n"}, nil
})

type trackedDevice struct {
	capture.FrameSource
	closed chan struct{}
	once   sync.Once
}

func (d *trackedDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return d.FrameSource.Close()
}

var testConfig = ConfigOptions{
	Device: capture.DeviceConfig{
		Kind:      capture.KindTestSource,
		Width:     640,
		Height:    480,
		FrameRate: 30,
	},
	Duration: 300 * time.Millisecond,
}

func TestRunWindow(t *testing.T) {
	local := &fakeLocal{}
	p := &fakePeer{local: local}
	reg := session.NewRegistry()

	var dev *trackedDevice
	opener := func(ctx context.Context, config capture.DeviceConfig, logger *zerolog.Logger) (capture.FrameSource, error) {
		src, err := capture.Open(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		dev = &trackedDevice{FrameSource: src, closed: make(chan struct{})}
		return dev, nil
	}

	s := New(context.Background(), testConfig, answering, reg,
		WithPeerFactory(func() (Peer, error) { return p, nil }),
		WithDeviceOpener(opener),
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	frames := local.written()
	if len(frames) < 3 {
		t.Fatalf("sent %d frames in the window", len(frames))
	}
	for i, f := range frames {
		if f.Width != 640 || f.Height != 480 {
			t.Fatalf("frame %d: got %dx%d", i, f.Width, f.Height)
		}
		if i > 0 && f.PTS <= frames[i-1].PTS {
			t.Fatalf("frame %d: pts %d not after %d", i, f.PTS, frames[i-1].PTS)
		}
	}
	select {
	case <-dev.closed:
	default:
		t.Fatal("device should be closed")
	}
	if reg.Len() != 0 {
		t.Fatalf("registry has %d entries, want 0", reg.Len())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		t.Fatal("peer should be closed")
	}
}

func TestRunSignalingRejected(t *testing.T) {
	local := &fakeLocal{}
	reg := session.NewRegistry()
	rejecting := signalerFunc(func(context.Context, session.Description) (session.Description, error) {
		return session.Description{}, session.ErrSignalingRejected
	})

	s := New(context.Background(), testConfig, rejecting, reg,
		WithPeerFactory(func() (Peer, error) { return &fakePeer{local: local}, nil }),
	)
	err := s.Run(context.Background())
	if !errors.Is(err, session.ErrSignalingRejected) {
		t.Fatalf("got %v, want ErrSignalingRejected", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry has %d entries, want 0", reg.Len())
	}
	if len(local.written()) != 0 {
		t.Fatal("no frame should be sent without a session")
	}
}

func TestRunDeviceUnavailable(t *testing.T) {
	config := testConfig
	config.Device.Kind = "webcam"

	s := New(context.Background(), config, answering, session.NewRegistry(),
		WithPeerFactory(func() (Peer, error) {
			t.Fatal("peer must not be created without a device")
			return nil, nil
		}),
	)
	if err := s.Run(context.Background()); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("got %v, want ErrDeviceUnavailable", err)
	}
}

type failingDevice struct {
	config capture.DeviceConfig
	reads  int
}

func (d *failingDevice) Read(context.Context) (capture.Frame, error) {
	d.reads++
	if d.reads > 3 {
		return capture.Frame{}, capture.ErrCaptureFailure
	}
	return capture.Frame{Payload: []byte{0}}, nil
}

func (d *failingDevice) Config() capture.DeviceConfig { return d.config }
func (d *failingDevice) Close() error                 { return nil }

func TestRunCaptureFailure(t *testing.T) {
	local := &fakeLocal{}
	s := New(context.Background(), testConfig, answering, session.NewRegistry(),
		WithPeerFactory(func() (Peer, error) { return &fakePeer{local: local}, nil }),
		WithDeviceOpener(func(context.Context, capture.DeviceConfig, *zerolog.Logger) (capture.FrameSource, error) {
			return &failingDevice{config: testConfig.Device}, nil
		}),
	)
	err := s.Run(context.Background())
	if !errors.Is(err, capture.ErrCaptureFailure) {
		t.Fatalf("got %v, want ErrCaptureFailure", err)
	}
	if len(local.written()) != 3 {
		t.Fatalf("sent %d frames, want 3", len(local.written()))
	}
}

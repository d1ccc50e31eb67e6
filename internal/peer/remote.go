package peer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"

	"github.com/SB-IM/camlink/internal/capture"
)

// maxLate is how many packets the sample builder waits for a missing one.
const maxLate = 256

// RemoteTrack is a video track received from the remote peer. ReadFrame returns
// io.EOF once the remote ended the track.
type RemoteTrack interface {
	ID() string
	MimeType() string
	ReadFrame() (capture.Frame, error)
	Close() error
}

type remoteVideo struct {
	remote   *webrtc.TrackRemote
	mimeType string
	timeBase capture.TimeBase
	builder  *samplebuilder.SampleBuilder
	ts       unwrapper

	// stop unblocks a pending ReadRTP.
	stop    func() error
	ended   chan struct{}
	endOnce sync.Once

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newRemoteVideo(remote *webrtc.TrackRemote, stop func() error, cancel context.CancelFunc) (*remoteVideo, error) {
	codec := remote.Codec()
	depacketizer, err := depacketizer(codec.MimeType)
	if err != nil {
		return nil, err
	}
	clockRate := codec.ClockRate
	if clockRate == 0 {
		clockRate = capture.VideoTimeBase.Den
	}
	return &remoteVideo{
		remote:   remote,
		mimeType: codec.MimeType,
		timeBase: capture.TimeBase{Num: 1, Den: clockRate},
		builder:  samplebuilder.New(maxLate, depacketizer, clockRate),
		stop:     stop,
		ended:    make(chan struct{}),
		cancel:   cancel,
	}, nil
}

// end makes ReadFrame return io.EOF.
func (r *remoteVideo) end() {
	r.endOnce.Do(func() {
		close(r.ended)
		if r.stop != nil {
			_ = r.stop()
		}
	})
}

func (r *remoteVideo) isEnded() bool {
	select {
	case <-r.ended:
		return true
	default:
		return false
	}
}

func (r *remoteVideo) ID() string       { return r.remote.ID() }
func (r *remoteVideo) MimeType() string { return r.mimeType }

// ReadFrame reassembles the next frame from RTP packets.
func (r *remoteVideo) ReadFrame() (capture.Frame, error) {
	for {
		if r.isEnded() {
			return capture.Frame{}, io.EOF
		}
		if sample, ts := r.builder.PopWithTimestamp(); sample != nil {
			f := capture.Frame{
				Payload:    sample.Data,
				PTS:        r.ts.unwrap(ts),
				TimeBase:   r.timeBase,
				CapturedAt: time.Now(),
			}
			if strings.EqualFold(r.mimeType, webrtc.MimeTypeVP8) {
				f.Keyframe = vp8Keyframe(sample.Data)
			}
			return f, nil
		}

		pkt, _, err := r.remote.ReadRTP()
		if err != nil {
			if r.isEnded() || errors.Is(err, io.EOF) {
				return capture.Frame{}, io.EOF
			}
			return capture.Frame{}, err
		}
		r.builder.Push(pkt)
	}
}

// Close stops keyframe requests for the track.
func (r *remoteVideo) Close() error {
	r.closeOnce.Do(r.cancel)
	return nil
}

package peer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pion/randutil"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/SB-IM/camlink/internal/capture"
)

const idRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// LocalTrack is a video track sent to the remote peer.
type LocalTrack interface {
	ID() string
	// WriteFrame sends f, which lasts for duration.
	WriteFrame(f capture.Frame, duration time.Duration) error
}

type localVideo struct {
	track *webrtc.TrackLocalStaticSample
}

func (l *localVideo) ID() string {
	return l.track.ID()
}

func (l *localVideo) WriteFrame(f capture.Frame, duration time.Duration) error {
	err := l.track.WriteSample(media.Sample{Data: f.Payload, Duration: duration})
	// ErrClosedPipe means no remote is bound yet.
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// AddVideoTrack adds a send-only video track encoded as mimeType. The track's
// transceiver offers codecs in the configured preference order.
func (p *Peer) AddVideoTrack(mimeType string) (LocalTrack, error) {
	var codec *webrtc.RTPCodecParameters
	for i := range p.codecs {
		if strings.EqualFold(p.codecs[i].MimeType, mimeType) {
			codec = &p.codecs[i]
			break
		}
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: %s is not in the codec preference list", ErrUnsupportedCodec, mimeType)
	}

	id, err := randutil.GenerateCryptoRandomString(16, idRunes)
	if err != nil {
		return nil, fmt.Errorf("could not generate track id: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec.RTPCodecCapability, "video-"+id, "camlink-"+id)
	if err != nil {
		return nil, fmt.Errorf("could not create local track: %w", err)
	}

	transceiver, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, fmt.Errorf("could not add transceiver: %w", err)
	}
	if err := transceiver.SetCodecPreferences(p.codecs); err != nil {
		return nil, fmt.Errorf("could not set codec preferences: %w", err)
	}
	go p.processRTCP(transceiver.Sender())

	p.logger.Info().Str("track_id", track.ID()).Str("codec", codec.MimeType).Msg("added local video track")
	return &localVideo{track: track}, nil
}

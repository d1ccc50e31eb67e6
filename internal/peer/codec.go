package peer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// ErrUnsupportedCodec is returned for codecs without a registered payloader.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// DefaultCodecs is the preference list used when none is configured.
var DefaultCodecs = []string{webrtc.MimeTypeH264, webrtc.MimeTypeVP8}

var videoRTCPFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

var videoCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 102,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 96,
	},
}

// codecParameters resolves an ordered MIME type list, dropping duplicates.
func codecParameters(mimeTypes []string) ([]webrtc.RTPCodecParameters, error) {
	if len(mimeTypes) == 0 {
		mimeTypes = DefaultCodecs
	}
	params := make([]webrtc.RTPCodecParameters, 0, len(mimeTypes))
	seen := make(map[string]bool, len(mimeTypes))
	for _, mimeType := range mimeTypes {
		found := false
		for _, c := range videoCodecs {
			if !strings.EqualFold(c.MimeType, mimeType) {
				continue
			}
			found = true
			if !seen[c.MimeType] {
				seen[c.MimeType] = true
				params = append(params, c)
			}
			break
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mimeType)
		}
	}
	return params, nil
}

func registerCodecs(m *webrtc.MediaEngine, params []webrtc.RTPCodecParameters) error {
	for _, p := range params {
		if err := m.RegisterCodec(p, webrtc.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("could not register codec %s: %w", p.MimeType, err)
		}
	}
	return nil
}

func depacketizer(mimeType string) (rtp.Depacketizer, error) {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return &codecs.H264Packet{}, nil
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mimeType)
	}
}

// vp8Keyframe reports whether a VP8 frame is a key frame, signalled by a cleared
// P bit in the first byte of the frame tag.
func vp8Keyframe(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/deepch/vdk/format/rtspv2"
	"github.com/rs/zerolog"
)

const rtspTimeout = 3 * time.Second

// rtspSource pulls H.264 from an IP camera. The camera paces the stream,
// so reads are not throttled here.
type rtspSource struct {
	config DeviceConfig
	client *rtspv2.RTSPClient
	codec  h264parser.CodecData
	logger zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func openRTSP(ctx context.Context, config DeviceConfig, logger *zerolog.Logger) (*rtspSource, error) {
	logger.Info().Str("address", config.Path).Msg("dialing RTSP server")
	client, err := rtspv2.Dial(rtspv2.RTSPClientOptions{
		URL:              config.Path,
		DialTimeout:      rtspTimeout,
		ReadWriteTimeout: rtspTimeout,
		DisableAudio:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rtsp dial error: %v", ErrDeviceUnavailable, err)
	}

	codecs := client.CodecData
	for i, t := range codecs {
		logger.Debug().Int("i", i).Str("type", t.Type().String()).Msg("stream codec")
	}
	if len(codecs) == 0 || codecs[0].Type() != av.H264 {
		client.Close()
		return nil, fmt.Errorf("%w: RTSP feed must begin with a H264 codec", ErrDeviceUnavailable)
	}
	if len(codecs) != 1 {
		logger.Info().Msg("ignoring all but the first stream")
	}
	codec := codecs[0].(h264parser.CodecData)

	negotiated := config
	negotiated.Width = codec.Width()
	negotiated.Height = codec.Height()

	select {
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	default:
	}

	return &rtspSource{
		config: negotiated,
		client: client,
		codec:  codec,
		logger: *logger,
		done:   make(chan struct{}),
	}, nil
}

func (s *rtspSource) Read(ctx context.Context) (Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.done:
			return Frame{}, errDeviceClosed
		case signal := <-s.client.Signals:
			if signal == rtspv2.SignalStreamRTPStop {
				return Frame{}, fmt.Errorf("%w: rtsp stream stopped", ErrCaptureFailure)
			}
		case pkt, ok := <-s.client.OutgoingPacketQueue:
			if !ok {
				return Frame{}, fmt.Errorf("%w: rtsp packet queue closed", ErrCaptureFailure)
			}
			if pkt.Idx != 0 {
				// audio or other stream, skip it
				continue
			}
			return s.frame(pkt), nil
		}
	}
}

// frame converts an AVC packet to Annex-B, keyframes get SPS and PPS in front.
func (s *rtspSource) frame(pkt *av.Packet) Frame {
	nalus, _ := h264parser.SplitNALUs(pkt.Data)
	if pkt.IsKeyFrame {
		nalus = append([][]byte{s.codec.SPS(), s.codec.PPS()}, nalus...)
	}
	return Frame{
		Payload:    joinAnnexB(nalus),
		Width:      s.config.Width,
		Height:     s.config.Height,
		Keyframe:   pkt.IsKeyFrame,
		CapturedAt: time.Now(),
	}
}

func (s *rtspSource) Config() DeviceConfig {
	return s.config
}

func (s *rtspSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.Close()
		s.logger.Info().Msg("closed RTSP client")
	})
	return nil
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/deepch/vdk/codec/h264parser"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// rtmpFrameBuffer is how many frames may queue up between the RTMP publisher and
// the reader before frames get dropped.
const rtmpFrameBuffer = 30

// rtmpPublishTimeout bounds how long Open waits for a publisher's AVC sequence
// header.
const rtmpPublishTimeout = 30 * time.Second

// rtmpSource accepts a single RTMP publisher (an encoder or a camera pushing RTMP)
// and turns its AVC video into Annex-B frames.
type rtmpSource struct {
	listener net.Listener
	server   *rtmp.Server
	frames   chan Frame
	serveErr chan error
	logger   zerolog.Logger

	mu     sync.Mutex
	config DeviceConfig

	// negotiated is closed when the first sequence header set the size.
	negotiated     chan struct{}
	negotiatedOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// openRTMP listens for a publisher and returns once it announced its stream
// parameters, so Config reports the publisher's size.
func openRTMP(ctx context.Context, config DeviceConfig, logger *zerolog.Logger) (*rtmpSource, error) {
	s, err := listenRTMP(config, logger)
	if err != nil {
		return nil, err
	}
	if err := s.awaitPublisher(ctx, rtmpPublishTimeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func listenRTMP(config DeviceConfig, logger *zerolog.Logger) (*rtmpSource, error) {
	l, err := net.Listen("tcp", config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen tcp at %s: %v", ErrDeviceUnavailable, config.Path, err)
	}

	s := &rtmpSource{
		listener: l,
		frames:   make(chan Frame, rtmpFrameBuffer),
		serveErr:   make(chan error, 1),
		logger:     *logger,
		config:     config,
		negotiated: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.server = rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpHandler{source: s},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024 / 8,
				},
				Logger: logrus.StandardLogger(),
			}
		},
	})

	go func() {
		s.logger.Info().Str("address", l.Addr().String()).Msg("starting rtmp server")
		s.serveErr <- s.server.Serve(l)
	}()

	return s, nil
}

func (s *rtmpSource) awaitPublisher(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.negotiated:
		cfg := s.Config()
		s.logger.Info().Int("width", cfg.Width).Int("height", cfg.Height).Msg("publisher announced stream")
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no rtmp publisher within %s", ErrDeviceUnavailable, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, ctx.Err())
	case err := <-s.serveErr:
		return fmt.Errorf("%w: rtmp server stopped: %v", ErrDeviceUnavailable, err)
	}
}

func (s *rtmpSource) Read(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		return Frame{}, errDeviceClosed
	case err := <-s.serveErr:
		return Frame{}, fmt.Errorf("%w: rtmp server stopped: %v", ErrCaptureFailure, err)
	case f := <-s.frames:
		return f, nil
	}
}

func (s *rtmpSource) Config() DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *rtmpSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if err = s.server.Close(); err != nil {
			s.logger.Err(err).Msg("could not close rtmp server")
		}
		_ = s.listener.Close()
	})
	return err
}

func (s *rtmpSource) setSize(width, height int) {
	s.mu.Lock()
	s.config.Width, s.config.Height = width, height
	s.mu.Unlock()
	s.negotiatedOnce.Do(func() { close(s.negotiated) })
}

func (s *rtmpSource) push(f Frame) {
	select {
	case s.frames <- f:
	default:
		s.logger.Warn().Msg("frame buffer full, dropping frame")
	}
}

type rtmpHandler struct {
	rtmp.DefaultHandler

	source *rtmpSource
	codec  *h264parser.CodecData
}

func (h *rtmpHandler) OnConnect(timestamp uint32, _ *rtmpmsg.NetConnectionConnect) error {
	h.source.logger.Info().Msg("client is connecting")
	return nil
}

func (h *rtmpHandler) OnCreateStream(timestamp uint32, _ *rtmpmsg.NetConnectionCreateStream) error {
	h.source.logger.Info().Msg("client is creating stream")
	return nil
}

func (h *rtmpHandler) OnPublish(ctx *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	if cmd.PublishingName == "" {
		return errors.New("PublishingName is empty")
	}
	h.source.logger.Info().Str("name", cmd.PublishingName).Msg("client is publishing stream")
	return nil
}

func (h *rtmpHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return err
	}

	data := new(bytes.Buffer)
	if _, err := io.Copy(data, video.Data); err != nil {
		return err
	}

	switch video.AVCPacketType {
	case flvtag.AVCPacketTypeSequenceHeader:
		codec, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(data.Bytes())
		if err != nil {
			return fmt.Errorf("could not parse AVC decoder configuration: %w", err)
		}
		h.codec = &codec
		h.source.setSize(codec.Width(), codec.Height())
		return nil
	case flvtag.AVCPacketTypeNALU:
	default:
		h.source.logger.Warn().Uint8("AVCPacketType", uint8(video.AVCPacketType)).Msg("unknown type")
		return nil
	}

	nalus, _ := h264parser.SplitNALUs(data.Bytes())
	keyframe := video.FrameType == flvtag.FrameTypeKeyFrame
	hasParameterSets := false
	for _, nalu := range nalus {
		if len(nalu) > 0 && nalu[0]&0x1f == naluTypeSPS {
			hasParameterSets = true
		}
	}
	// We have an unadorned keyframe, prepend SPS/PPS.
	if keyframe && !hasParameterSets && h.codec != nil {
		nalus = append([][]byte{h.codec.SPS(), h.codec.PPS()}, nalus...)
	}

	cfg := h.source.Config()
	h.source.push(Frame{
		Payload:    joinAnnexB(nalus),
		Width:      cfg.Width,
		Height:     cfg.Height,
		Keyframe:   keyframe,
		CapturedAt: time.Now(),
	})
	return nil
}

func (h *rtmpHandler) OnClose() {
	h.source.logger.Info().Msg("closing client connection")
}

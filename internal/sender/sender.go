// Package sender is the capture endpoint. It opens a device, performs the
// offer/answer handshake with the receiver and streams frames for a bounded window.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/session"
	"github.com/SB-IM/camlink/internal/track"
)

// Peer is the transport of the sending connection.
type Peer interface {
	session.Negotiator
	AddVideoTrack(mimeType string) (peer.LocalTrack, error)
	OnFailure(func(error))
}

// NewPeerFunc creates the transport.
type NewPeerFunc func() (Peer, error)

// OpenDeviceFunc opens the capture device.
type OpenDeviceFunc func(ctx context.Context, config capture.DeviceConfig, logger *zerolog.Logger) (capture.FrameSource, error)

// Option customizes a Service.
type Option func(*Service)

// WithPeerFactory replaces the pion transport.
func WithPeerFactory(fn NewPeerFunc) Option {
	return func(s *Service) {
		s.newPeer = fn
	}
}

// WithDeviceOpener replaces capture.Open.
func WithDeviceOpener(fn OpenDeviceFunc) Option {
	return func(s *Service) {
		s.openDevice = fn
	}
}

// Service runs one sending connection.
type Service struct {
	config     ConfigOptions
	logger     zerolog.Logger
	signaler   session.Signaler
	registry   *session.Registry
	newPeer    NewPeerFunc
	openDevice OpenDeviceFunc
}

// New returns a Service sending its offer through signaler.
func New(ctx context.Context, config ConfigOptions, signaler session.Signaler, registry *session.Registry, opts ...Option) *Service {
	s := &Service{
		config:     config,
		logger:     log.Ctx(ctx).With().Str("component", "sender").Logger(),
		signaler:   signaler,
		registry:   registry,
		openDevice: capture.Open,
	}
	s.newPeer = func() (Peer, error) {
		return peer.New(config.WebRTC, &s.logger)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run streams frames until the configured window elapsed or ctx is done, then
// stops producing and closes the connection. It returns the first failure.
func (s *Service) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.logger.Err(err).Str("category", session.Category(err)).Msg("sender failed")
		}
	}()

	src, err := s.openDevice(ctx, s.config.Device, &s.logger)
	if err != nil {
		return err
	}
	negotiated := src.Config()
	s.logger.Info().
		Str("device", negotiated.Kind).
		Int("width", negotiated.Width).
		Int("height", negotiated.Height).
		Float64("frame_rate", negotiated.FrameRate).
		Msg("opened capture device")

	p, err := s.newPeer()
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("could not create peer: %w", err)
	}
	local, err := p.AddVideoTrack(webrtc.MimeTypeH264)
	if err != nil {
		_ = src.Close()
		_ = p.Close()
		return err
	}

	conn := session.New(ctx, session.Options{
		Role:       session.RoleSender,
		Negotiator: p,
		Signaler:   s.signaler,
		Registry:   s.registry,
		Logger:     &s.logger,
	})
	p.OnFailure(func(err error) {
		conn.Fail(err)
	})
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := conn.Handshake(ctx); err != nil {
		_ = src.Close()
		return err
	}
	s.logger.Info().Str("connection_id", conn.ID()).Msg("negotiated session")

	t := track.New(local.ID(), track.KindVideo, track.DirectionSend)
	if err := conn.AttachTrack(t); err != nil {
		_ = src.Close()
		return err
	}
	producer := track.NewProducer(t, src, &s.logger)

	runCtx, cancel := s.window(conn.Context())
	defer cancel()

	err = s.pump(runCtx, producer, local)
	if stopErr := producer.Stop(); stopErr != nil {
		s.logger.Err(stopErr).Msg("could not stop producer")
	}
	s.logger.Info().Uint64("sent", producer.Count()).Msg("stopped producing")

	if connErr := conn.Err(); connErr != nil {
		return connErr
	}
	return err
}

func (s *Service) window(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Duration <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.Duration)
}

// pump sends frames until production stops. Reaching the end of the window
// is not an error.
func (s *Service) pump(ctx context.Context, producer *track.Producer, local peer.LocalTrack) error {
	for {
		f, err := producer.Produce(ctx)
		if err != nil {
			if errors.Is(err, track.ErrTrackClosed) {
				return nil
			}
			return err
		}
		if err := local.WriteFrame(f, producer.FrameDuration()); err != nil {
			return fmt.Errorf("could not write frame: %w", err)
		}
		s.logger.Info().
			Uint64("frame_index", producer.Count()-1).
			Str("wall_clock", track.WallClock(time.Now())).
			Int64("pts", f.PTS).
			Msg("sent a frame")
	}
}

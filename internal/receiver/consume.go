package receiver

import (
	"errors"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/session"
	"github.com/SB-IM/camlink/internal/track"
)

// consume supervises a received track until it times out or ends.
func (s *Service) consume(conn *session.Connection, rt peer.RemoteTrack) {
	logger := s.logger.With().Str("connection_id", conn.ID()).Str("track_id", rt.ID()).Logger()

	t := track.New(rt.ID(), track.KindVideo, track.DirectionReceive)
	if err := conn.AttachTrack(t); err != nil {
		logger.Err(err).Str("category", session.Category(err)).Msg("could not attach track")
		_ = rt.Close()
		return
	}

	var decoder track.Decoder
	if strings.EqualFold(rt.MimeType(), webrtc.MimeTypeH264) {
		decoder = capture.NewH264Decoder()
	}
	c := track.NewConsumer(t, rt, track.ConsumerConfig{
		Timeout: s.config.Timeout,
		Decoder: decoder,
	}, &logger)

	go func() {
		logger.Info().Str("codec", rt.MimeType()).Msg("waiting for frames")
		err := c.Run(conn.Context(), func(f capture.Frame) {
			logger.Info().
				Uint64("frame_index", c.Received()-1).
				Str("wall_clock", track.WallClock(time.Now())).
				Int64("pts", f.PTS).
				Int("width", f.Width).
				Int("height", f.Height).
				Bool("keyframe", f.Keyframe).
				Msg("received a frame")
		})
		if errors.Is(err, track.ErrInactivityTimeout) {
			logger.Error().Err(err).Str("category", session.Category(err)).Msg("track failed")
		} else {
			logger.Info().Str("category", session.Category(err)).Str("reason", err.Error()).Msg("track ended")
		}
		logger.Info().Uint64("received", c.Received()).Msg("this connection closed")
	}()
}

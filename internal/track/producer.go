package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/capture"
)

// Producer pulls frames from a capture device for a sending track and stamps
// them with strictly increasing presentation timestamps.
type Producer struct {
	track    *Track
	source   capture.FrameSource
	timeBase capture.TimeBase
	interval time.Duration
	step     int64
	logger   zerolog.Logger

	mu    sync.Mutex
	next  int64
	count uint64
}

// NewProducer returns a Producer for t reading from source. The timestamp step is
// derived from the frame rate the device negotiated, not the one requested.
func NewProducer(t *Track, source capture.FrameSource, logger *zerolog.Logger) *Producer {
	interval := source.Config().FrameInterval()
	step := capture.VideoTimeBase.Ticks(interval)
	if step < 1 {
		step = 1
	}
	return &Producer{
		track:    t,
		source:   source,
		timeBase: capture.VideoTimeBase,
		interval: interval,
		step:     step,
		logger:   logger.With().Str("component", "producer").Str("track_id", t.ID()).Logger(),
	}
}

// Produce reads the next frame. A capture failure ends the track, so do
// cancellation of ctx, which is reported as ErrTrackClosed.
func (p *Producer) Produce(ctx context.Context) (capture.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track.State() != StateActive {
		return capture.Frame{}, closedError(p.track)
	}

	pts := p.next
	frame, err := p.source.Read(ctx)
	if err != nil {
		p.track.End()
		if ctx.Err() != nil && !errors.Is(err, capture.ErrCaptureFailure) {
			return capture.Frame{}, fmt.Errorf("%w: %v", ErrTrackClosed, ctx.Err())
		}
		if !errors.Is(err, capture.ErrCaptureFailure) {
			err = fmt.Errorf("%w: %v", capture.ErrCaptureFailure, err)
		}
		return capture.Frame{}, fmt.Errorf("could not read frame %d: %w", p.count+1, err)
	}

	frame.PTS = pts
	frame.TimeBase = p.timeBase
	p.next += p.step
	p.count++

	p.logger.Debug().Uint64("frame", p.count).Int64("pts", pts).Msg("produced a frame")
	return frame, nil
}

// Count returns the number of frames produced so far.
func (p *Producer) Count() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// FrameDuration is the nominal duration of one produced frame.
func (p *Producer) FrameDuration() time.Duration {
	return p.interval
}

// Stop ends the track and releases the capture device.
func (p *Producer) Stop() error {
	p.track.End()
	if err := p.source.Close(); err != nil {
		return fmt.Errorf("could not close capture device: %w", err)
	}
	return nil
}

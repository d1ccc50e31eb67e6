package track

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/capture"
)

// DefaultTimeout is the liveness deadline used when none is configured.
const DefaultTimeout = 10 * time.Second

// Source delivers frames of a receiving track. ReadFrame blocks until a frame
// arrives and returns io.EOF once the transport ended the track.
type Source interface {
	ReadFrame() (capture.Frame, error)
}

// Decoder turns a delivered frame into its decoded form.
type Decoder interface {
	Decode(capture.Frame) capture.Frame
	Reset()
}

type passthrough struct{}

func (passthrough) Decode(f capture.Frame) capture.Frame { return f }
func (passthrough) Reset()                               {}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Timeout is the longest tolerated gap between two frames.
	Timeout time.Duration
	// Decoder defaults to passing frames through unchanged.
	Decoder Decoder
}

type delivery struct {
	frame capture.Frame
	err   error
}

// Consumer drains a receiving track. Reads from the Source run on their own
// goroutine so that every wait can be raced against the liveness deadline.
type Consumer struct {
	track   *Track
	source  Source
	timeout time.Duration
	decoder Decoder
	logger  zerolog.Logger

	deliveries chan delivery
	stop       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once

	mu       sync.Mutex
	received uint64
	lastPTS  int64
	hasLast  bool
}

// NewConsumer returns a Consumer for t reading from source.
func NewConsumer(t *Track, source Source, config ConsumerConfig, logger *zerolog.Logger) *Consumer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Decoder == nil {
		config.Decoder = passthrough{}
	}
	return &Consumer{
		track:      t,
		source:     source,
		timeout:    config.Timeout,
		decoder:    config.Decoder,
		logger:     logger.With().Str("component", "consumer").Str("track_id", t.ID()).Logger(),
		deliveries: make(chan delivery),
		stop:       make(chan struct{}),
	}
}

func (c *Consumer) pump() {
	for {
		f, err := c.source.ReadFrame()
		select {
		case c.deliveries <- delivery{frame: f, err: err}:
		case <-c.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Consume waits for the next frame for at most the configured timeout.
// When the deadline passes first the track times out and ErrInactivityTimeout is
// returned. When the transport ends the track, or ctx is done, the track ends and
// an error matching ErrTrackClosed is returned.
func (c *Consumer) Consume(ctx context.Context) (capture.Frame, error) {
	if c.track.State() != StateActive {
		return capture.Frame{}, closedError(c.track)
	}
	c.startOnce.Do(func() { go c.pump() })

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case d := <-c.deliveries:
		if d.err != nil {
			c.track.End()
			if errors.Is(d.err, io.EOF) || errors.Is(d.err, ErrTrackClosed) {
				return capture.Frame{}, ErrTrackClosed
			}
			return capture.Frame{}, fmt.Errorf("%w: %v", ErrTrackClosed, d.err)
		}
		return c.accept(d.frame)
	case <-timer.C:
		if !c.track.TimeOut() {
			return capture.Frame{}, closedError(c.track)
		}
		return capture.Frame{}, fmt.Errorf("%w: no frame for %s", ErrInactivityTimeout, c.timeout)
	case <-ctx.Done():
		c.track.End()
		return capture.Frame{}, fmt.Errorf("%w: %v", ErrTrackClosed, ctx.Err())
	case <-c.track.Done():
		return capture.Frame{}, closedError(c.track)
	}
}

func (c *Consumer) accept(f capture.Frame) (capture.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLast && f.PTS <= c.lastPTS {
		c.track.End()
		return capture.Frame{}, fmt.Errorf("%w: pts %d after %d", ErrOutOfOrder, f.PTS, c.lastPTS)
	}
	c.lastPTS, c.hasLast = f.PTS, true
	c.received++

	return c.decoder.Decode(f), nil
}

// Received returns the number of frames consumed so far.
func (c *Consumer) Received() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Run consumes frames and hands each to handle until the first failure, which it
// returns. Whatever the failure, the track is left terminal and the decoder and
// source are released before Run returns.
func (c *Consumer) Run(ctx context.Context, handle func(capture.Frame)) error {
	defer c.release()

	for {
		f, err := c.Consume(ctx)
		if err != nil {
			return err
		}
		if handle != nil {
			handle(f)
		}
	}
}

func (c *Consumer) release() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.track.End()
		c.decoder.Reset()
		if closer, ok := c.source.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				c.logger.Err(err).Msg("could not close track source")
			}
		}
		c.logger.Debug().Uint64("received", c.Received()).Str("state", c.track.State().String()).Msg("released consumer")
	})
}

// Package capture opens video capture devices and reads timestamped frames from them.
// A device is opened with requested parameters, the values it actually negotiated are
// reported by FrameSource.Config and must be used for any pacing math.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrDeviceUnavailable is returned by Open when the device can't be opened.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrCaptureFailure is returned by Read when the device failed irrecoverably.
	ErrCaptureFailure = errors.New("capture failure")
)

// Device kinds.
const (
	KindTestSource = "testsrc"
	KindFile       = "file"
	KindRTSP       = "rtsp"
	KindRTMP       = "rtmp"
)

// TimeBase is the duration of one timestamp tick, Num/Den seconds.
type TimeBase struct {
	Num uint32
	Den uint32
}

// VideoTimeBase is the 90 kHz RTP video clock.
var VideoTimeBase = TimeBase{Num: 1, Den: 90000}

// Ticks converts d into the number of ticks of this time base, rounded to nearest.
func (tb TimeBase) Ticks(d time.Duration) int64 {
	if tb.Num == 0 || tb.Den == 0 {
		return 0
	}
	return int64(math.Round(d.Seconds() * float64(tb.Den) / float64(tb.Num)))
}

// Duration converts ticks of this time base into a time.Duration.
func (tb TimeBase) Duration(ticks int64) time.Duration {
	if tb.Den == 0 {
		return 0
	}
	return time.Duration(float64(ticks) * float64(tb.Num) / float64(tb.Den) * float64(time.Second))
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// Frame is a single captured video frame. Payload is never modified after the frame
// leaves the device that produced it.
type Frame struct {
	Payload []byte
	Width   int
	Height  int

	// PTS is the presentation timestamp in units of TimeBase.
	PTS      int64
	TimeBase TimeBase

	Keyframe   bool
	CapturedAt time.Time
}

// DeviceConfig describes a capture device. Width, Height and FrameRate are requests,
// the device reports what it settled on through FrameSource.Config.
type DeviceConfig struct {
	Kind string

	// Path is the file path for file devices, the stream URL for rtsp devices
	// and the listening address for rtmp devices.
	Path string

	Width     int
	Height    int
	FrameRate float64
}

// FrameInterval returns the time between two frames at FrameRate.
func (c DeviceConfig) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// FrameSource is an opened capture device.
type FrameSource interface {
	// Read blocks until the next frame is available. A returned error other than
	// ctx.Err() wraps ErrCaptureFailure and is final.
	Read(ctx context.Context) (Frame, error)

	// Config returns the negotiated device parameters.
	Config() DeviceConfig

	// Close releases the device and unblocks a pending Read.
	Close() error
}

// Open opens the capture device described by config.
func Open(ctx context.Context, config DeviceConfig, logger *zerolog.Logger) (FrameSource, error) {
	l := logger.With().Str("component", "capture").Str("device", config.Kind).Logger()

	if config.FrameRate <= 0 {
		return nil, fmt.Errorf("%w: invalid frame rate %v", ErrDeviceUnavailable, config.FrameRate)
	}

	var (
		src FrameSource
		err error
	)
	switch config.Kind {
	case KindTestSource:
		src, err = openTestSource(config)
	case KindFile:
		src, err = openFile(config)
	case KindRTSP:
		src, err = openRTSP(ctx, config, &l)
	case KindRTMP:
		src, err = openRTMP(ctx, config, &l)
	default:
		return nil, fmt.Errorf("%w: unknown device kind %q", ErrDeviceUnavailable, config.Kind)
	}
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, err
	}

	negotiated := src.Config()
	l.Info().
		Int("width", negotiated.Width).
		Int("height", negotiated.Height).
		Float64("frame_rate", negotiated.FrameRate).
		Msg("opened capture device")

	return src, nil
}

// Category names the failure class of err for logging.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrDeviceUnavailable):
		return "DeviceUnavailable"
	case errors.Is(err, ErrCaptureFailure):
		return "CaptureFailure"
	default:
		return ""
	}
}

// captureFailure wraps err as a capture failure unless it already is one.
func captureFailure(err error) error {
	if errors.Is(err, ErrCaptureFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCaptureFailure, err)
}

var errDeviceClosed = fmt.Errorf("%w: device closed", ErrCaptureFailure)

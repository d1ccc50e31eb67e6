// Package track supervises single media streams. A Track carries the liveness state
// of one stream, a Producer feeds a sending track from a capture device and a
// Consumer drains a receiving track while enforcing an inactivity deadline.
package track

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInactivityTimeout is returned when no frame arrived before the liveness deadline.
	ErrInactivityTimeout = errors.New("inactivity timeout")
	// ErrTrackClosed is returned once a track has ended. It is normal teardown.
	ErrTrackClosed = errors.New("track closed")
	// ErrOutOfOrder is returned when a frame's timestamp does not advance.
	// It ends the track and matches ErrTrackClosed.
	ErrOutOfOrder = fmt.Errorf("%w: out-of-order frame", ErrTrackClosed)
)

// Kind is the media kind of a track.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Direction tells whether the local side sends or receives on a track.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// State is the liveness state of a track.
type State int

const (
	StateActive State = iota
	StateTimedOut
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTimedOut:
		return "timed-out"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Track is one directional media stream. Its state leaves active at most once.
type Track struct {
	id        string
	kind      Kind
	direction Direction

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// New returns an active track.
func New(id string, kind Kind, direction Direction) *Track {
	return &Track{
		id:        id,
		kind:      kind,
		direction: direction,
		state:     StateActive,
		done:      make(chan struct{}),
	}
}

func (t *Track) ID() string           { return t.id }
func (t *Track) Kind() Kind           { return t.kind }
func (t *Track) Direction() Direction { return t.direction }

// State returns the current liveness state.
func (t *Track) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the track leaves the active state.
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// End moves an active track to ended. It reports whether the state changed.
func (t *Track) End() bool {
	return t.finish(StateEnded)
}

// TimeOut moves an active track to timed-out. It reports whether the state changed.
func (t *Track) TimeOut() bool {
	return t.finish(StateTimedOut)
}

func (t *Track) finish(to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return false
	}
	t.state = to
	close(t.done)
	return true
}

// Category names the failure class of err for logging.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrInactivityTimeout):
		return "InactivityTimeout"
	case errors.Is(err, ErrTrackClosed):
		return "TrackClosed"
	default:
		return ""
	}
}

// closedError reports the terminal error matching the track's state.
func closedError(t *Track) error {
	if t.State() == StateTimedOut {
		return ErrInactivityTimeout
	}
	return ErrTrackClosed
}

// WallClock formats t as unix seconds with microsecond precision.
func WallClock(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

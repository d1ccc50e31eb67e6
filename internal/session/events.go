package session

import "time"

// EventType is the kind of a connection event.
type EventType string

const (
	EventState         EventType = "state"
	EventTrackAttached EventType = "track-attached"
	EventTrackEnded    EventType = "track-ended"
)

// eventBuffer bounds the events kept for a slow reader. Events beyond it are dropped.
const eventBuffer = 64

// Event is a state-transition notification of a connection.
type Event struct {
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id"`
	Role         Role      `json:"role"`
	State        State     `json:"state,omitempty"`
	TrackID      string    `json:"track_id,omitempty"`
	TrackState   string    `json:"track_state,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// emit must be called with c.mu held.
func (c *Connection) emit(e Event) {
	if c.eventsClosed {
		return
	}
	e.ConnectionID = c.id
	e.Role = c.role
	e.Time = time.Now()
	select {
	case c.events <- e:
	default:
		c.logger.Warn().Str("connection_id", c.id).Str("event", string(e.Type)).Msg("dropped connection event")
	}
}

// setState must be called with c.mu held.
func (c *Connection) setState(s State) {
	c.state = s
	e := Event{Type: EventState, State: s}
	if s == StateFailed && c.err != nil {
		e.Error = c.err.Error()
	}
	c.emit(e)
	c.logger.Debug().Str("connection_id", c.id).Str("state", string(s)).Msg("connection state has changed")
}

func (c *Connection) closeEvents() {
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}

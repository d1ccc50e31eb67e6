// Package session drives the offer/answer handshake of a point-to-point
// connection and keeps track of live connections.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/track"
)

var (
	// ErrSignalingUnreachable is returned when the remote signaling endpoint can't be reached.
	ErrSignalingUnreachable = errors.New("signaling unreachable")
	// ErrSignalingRejected is returned when the remote signaling endpoint refused the offer.
	ErrSignalingRejected = errors.New("signaling rejected")
	// ErrMalformedOffer is returned when a received offer is not a valid session description.
	ErrMalformedOffer = errors.New("malformed offer")
	// ErrRenegotiationNotSupported is returned on a second handshake for an established connection.
	ErrRenegotiationNotSupported = errors.New("renegotiation not supported")
	// ErrNotFound is returned by registry lookups of unknown ids.
	ErrNotFound = errors.New("connection not found")
	// ErrInvalidState is returned when an operation does not fit the connection state.
	ErrInvalidState = errors.New("invalid connection state")
	// ErrOfferOutstanding is returned when a local offer is still waiting for its answer.
	ErrOfferOutstanding = errors.New("offer outstanding")
)

// Category names the failure class of err for logging. Errors of the track and
// capture packages are named as well.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSignalingUnreachable):
		return "SignalingUnreachable"
	case errors.Is(err, ErrSignalingRejected):
		return "SignalingRejected"
	case errors.Is(err, ErrMalformedOffer):
		return "MalformedOffer"
	case errors.Is(err, ErrRenegotiationNotSupported):
		return "RenegotiationNotSupported"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrOfferOutstanding):
		return "OfferOutstanding"
	}
	if c := track.Category(err); c != "" {
		return c
	}
	if c := capture.Category(err); c != "" {
		return c
	}
	return "Internal"
}

// SDPType is the kind of a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// Description is a session description as exchanged over signaling.
type Description struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ValidateOffer checks that d is an offer carrying a parsable SDP body with at
// least one media section.
func ValidateOffer(d Description) error {
	if d.Type != SDPTypeOffer {
		return fmt.Errorf("%w: unexpected type %q", ErrMalformedOffer, d.Type)
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(d.SDP)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOffer, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrMalformedOffer)
	}
	return nil
}

// Negotiator produces and applies session descriptions for one peer connection.
type Negotiator interface {
	// CreateOffer creates the local offer and sets it as local description.
	CreateOffer(ctx context.Context) (Description, error)
	// CreateAnswer applies the remote offer and returns the local answer.
	CreateAnswer(ctx context.Context, offer Description) (Description, error)
	// SetRemoteDescription applies the remote answer.
	SetRemoteDescription(answer Description) error
	// Close releases the transport.
	Close() error
}

// Signaler carries an offer to the remote peer and returns its answer.
type Signaler interface {
	SendOffer(ctx context.Context, offer Description) (Description, error)
}

// Role is the side of the handshake a connection plays.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// State is the lifecycle state of a connection.
type State string

const (
	StateNew         State = "new"
	StateNegotiating State = "negotiating"
	StateEstablished State = "established"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

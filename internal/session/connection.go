package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/track"
)

// Options configures a Connection.
type Options struct {
	// ID defaults to a random uuid.
	ID         string
	Role       Role
	Negotiator Negotiator
	// Signaler is required for the sender role only.
	Signaler Signaler
	// Registry, when set, receives the connection once its handshake produced a
	// local description.
	Registry *Registry
	Logger   *zerolog.Logger
}

// TrackInfo describes a track owned by a connection.
type TrackInfo struct {
	ID        string          `json:"id"`
	Kind      track.Kind      `json:"kind"`
	Direction track.Direction `json:"direction"`
	State     string          `json:"state"`
}

// Connection is one peer connection and the tracks it owns. It performs exactly
// one offer/answer round trip in its lifetime.
type Connection struct {
	role       Role
	negotiator Negotiator
	signaler   Signaler
	registry   *Registry
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	id           string
	state        State
	err          error
	local        *Description
	remote       *Description
	tracks       map[string]*track.Track
	events       chan Event
	eventsClosed bool
	hooks        []func()
	// done is closed once a terminal state is reached and teardown finished.
	done chan struct{}
}

// New returns a connection in the new state. Its context is derived from ctx and
// is cancelled when the connection closes or fails.
func New(ctx context.Context, opts Options) *Connection {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Connection{
		role:       opts.Role,
		negotiator: opts.Negotiator,
		signaler:   opts.Signaler,
		registry:   opts.Registry,
		logger:     logger.With().Str("component", "session").Str("role", string(opts.Role)).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		id:         opts.ID,
		state:      StateNew,
		tracks:     make(map[string]*track.Track),
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Connection) Role() Role { return c.role }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that failed the connection, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Context is done once the connection leaves the established state for good.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Events returns the connection's event stream. It is closed after the
// connection reached a terminal state.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// LocalDescription returns the local description, nil before the handshake produced one.
func (c *Connection) LocalDescription() *Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// RemoteDescription returns the remote description, nil until it was applied.
func (c *Connection) RemoteDescription() *Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Tracks returns the tracks currently owned by the connection ordered by id.
func (c *Connection) Tracks() []TrackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]TrackInfo, 0, len(c.tracks))
	for _, t := range c.tracks {
		infos = append(infos, TrackInfo{
			ID:        t.ID(),
			Kind:      t.Kind(),
			Direction: t.Direction(),
			State:     t.State().String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// beginHandshake moves a new connection to negotiating.
func (c *Connection) beginHandshake(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != role {
		return fmt.Errorf("%w: %s connection can't act as %s", ErrInvalidState, c.role, role)
	}
	switch c.state {
	case StateNew:
	case StateEstablished:
		return ErrRenegotiationNotSupported
	case StateNegotiating:
		return ErrOfferOutstanding
	default:
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	c.setState(StateNegotiating)
	return nil
}

// CreateOffer creates the local offer of a sender connection. On success the
// connection is registered.
func (c *Connection) CreateOffer(ctx context.Context) (Description, error) {
	if err := c.beginHandshake(RoleSender); err != nil {
		return Description{}, err
	}

	offer, err := c.negotiator.CreateOffer(ctx)
	if err != nil {
		err = fmt.Errorf("could not create offer: %w", err)
		c.Fail(err)
		return Description{}, err
	}

	c.mu.Lock()
	c.local = &offer
	c.mu.Unlock()

	c.register()
	return offer, nil
}

// SendOffer posts offer over the signaling channel and returns the answer.
// A signaling error fails the connection.
func (c *Connection) SendOffer(ctx context.Context, offer Description) (Description, error) {
	c.mu.Lock()
	if c.state != StateNegotiating || c.local == nil {
		state := c.state
		c.mu.Unlock()
		return Description{}, fmt.Errorf("%w: no outstanding offer in %s", ErrInvalidState, state)
	}
	c.mu.Unlock()

	answer, err := c.signaler.SendOffer(ctx, offer)
	if err != nil {
		err = fmt.Errorf("could not send offer: %w", err)
		c.Fail(err)
		return Description{}, err
	}
	if answer.Type != SDPTypeAnswer {
		err = fmt.Errorf("%w: remote replied with %q", ErrSignalingRejected, answer.Type)
		c.Fail(err)
		return Description{}, err
	}
	return answer, nil
}

// SetRemoteAnswer applies the remote answer and establishes the connection.
func (c *Connection) SetRemoteAnswer(answer Description) error {
	c.mu.Lock()
	if c.state != StateNegotiating || c.local == nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: no outstanding offer in %s", ErrInvalidState, state)
	}
	c.mu.Unlock()

	if answer.Type != SDPTypeAnswer {
		err := fmt.Errorf("%w: expected answer, got %q", ErrSignalingRejected, answer.Type)
		c.Fail(err)
		return err
	}
	if err := c.negotiator.SetRemoteDescription(answer); err != nil {
		err = fmt.Errorf("could not set remote answer: %w", err)
		c.Fail(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNegotiating {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	c.remote = &answer
	c.setState(StateEstablished)
	return nil
}

// Handshake runs the sender side of the offer/answer round trip.
func (c *Connection) Handshake(ctx context.Context) error {
	offer, err := c.CreateOffer(ctx)
	if err != nil {
		return err
	}
	answer, err := c.SendOffer(ctx, offer)
	if err != nil {
		return err
	}
	return c.SetRemoteAnswer(answer)
}

// AcceptOffer validates the remote offer of a receiver connection and returns
// the local answer. A malformed offer leaves the connection untouched.
func (c *Connection) AcceptOffer(ctx context.Context, offer Description) (Description, error) {
	if err := ValidateOffer(offer); err != nil {
		return Description{}, err
	}
	if err := c.beginHandshake(RoleReceiver); err != nil {
		return Description{}, err
	}

	answer, err := c.negotiator.CreateAnswer(ctx, offer)
	if err != nil {
		err = fmt.Errorf("could not create answer: %w", err)
		c.Fail(err)
		return Description{}, err
	}

	c.mu.Lock()
	if c.state != StateNegotiating {
		state := c.state
		c.mu.Unlock()
		return Description{}, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	c.remote = &offer
	c.local = &answer
	c.setState(StateEstablished)
	c.mu.Unlock()

	c.register()
	return answer, nil
}

func (c *Connection) register() {
	if c.registry == nil {
		return
	}
	id := c.registry.Register(c)
	c.logger.Info().Str("connection_id", id).Msg("registered connection")
}

// AttachTrack hands t to the connection. A track that times out fails the
// connection, the connection closes once its last track ended.
func (c *Connection) AttachTrack(t *track.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNegotiating && c.state != StateEstablished {
		return fmt.Errorf("%w: can't attach track in %s", ErrInvalidState, c.state)
	}
	if _, ok := c.tracks[t.ID()]; ok {
		return fmt.Errorf("%w: track %s already attached", ErrInvalidState, t.ID())
	}
	c.tracks[t.ID()] = t
	c.emit(Event{Type: EventTrackAttached, TrackID: t.ID(), TrackState: t.State().String()})

	go c.watch(t)
	return nil
}

func (c *Connection) watch(t *track.Track) {
	select {
	case <-t.Done():
	case <-c.ctx.Done():
		return
	}

	c.mu.Lock()
	if _, ok := c.tracks[t.ID()]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.tracks, t.ID())
	c.emit(Event{Type: EventTrackEnded, TrackID: t.ID(), TrackState: t.State().String()})
	remaining := len(c.tracks)
	c.mu.Unlock()

	if t.State() == track.StateTimedOut {
		c.Fail(fmt.Errorf("track %s: %w", t.ID(), track.ErrInactivityTimeout))
		return
	}
	if remaining == 0 {
		if err := c.Close(); err != nil {
			c.logger.Err(err).Str("category", Category(err)).Msg("could not close connection")
		}
	}
}

// Done is closed after the connection reached a terminal state and released its
// transport.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close releases every owned track and the transport, then moves the connection
// to closed. If the connection is already closing or failing, Close waits for
// that teardown to finish.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosing || c.state.Terminal() {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.setState(StateClosing)
	c.mu.Unlock()

	err := c.release()

	c.mu.Lock()
	c.setState(StateClosed)
	c.closeEvents()
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	close(c.done)
	c.logger.Info().Str("connection_id", c.ID()).Msg("connection closed")
	return err
}

// Fail moves a negotiating or established connection to failed and releases its
// resources. It reports whether the connection was failed by this call.
func (c *Connection) Fail(cause error) bool {
	c.mu.Lock()
	if c.state != StateNegotiating && c.state != StateEstablished {
		c.mu.Unlock()
		return false
	}
	c.err = cause
	c.setState(StateFailed)
	id := c.id
	c.mu.Unlock()

	c.logger.Error().Err(cause).Str("connection_id", id).Str("category", Category(cause)).Msg("connection failed")

	if err := c.release(); err != nil {
		c.logger.Err(err).Str("connection_id", id).Msg("could not release connection")
	}

	c.mu.Lock()
	c.closeEvents()
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	close(c.done)
	return true
}

// release cancels the connection context, ends every owned track and closes the
// transport.
func (c *Connection) release() error {
	c.cancel()

	c.mu.Lock()
	tracks := make([]*track.Track, 0, len(c.tracks))
	for id, t := range c.tracks {
		tracks = append(tracks, t)
		delete(c.tracks, id)
	}
	for _, t := range tracks {
		t.End()
		c.emit(Event{Type: EventTrackEnded, TrackID: t.ID(), TrackState: t.State().String()})
	}
	c.mu.Unlock()

	if c.negotiator == nil {
		return nil
	}
	if err := c.negotiator.Close(); err != nil {
		return fmt.Errorf("could not close peer connection: %w", err)
	}
	return nil
}

// onTerminal runs fn once the connection is closed or failed, immediately if it
// already is.
func (c *Connection) onTerminal(fn func()) {
	c.mu.Lock()
	if !c.state.Terminal() || !c.eventsClosed {
		c.hooks = append(c.hooks, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

func (c *Connection) setID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

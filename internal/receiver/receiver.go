// Package receiver is the viewing endpoint. It answers offers posted to /offer,
// supervises every received track and exposes the live connections.
package receiver

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/session"
	"github.com/SB-IM/camlink/internal/signal"
	"github.com/SB-IM/camlink/pkg/mqttclient"
)

const shutdownTimeout = 5 * time.Second

var errCreatePeer = errors.New("could not create peer")

//go:embed static
var static embed.FS

// Peer is the transport of one received connection.
type Peer interface {
	session.Negotiator
	OnRemoteTrack(func(peer.RemoteTrack))
	OnFailure(func(error))
}

// NewPeerFunc creates the transport for a new connection.
type NewPeerFunc func() (Peer, error)

// Option customizes a Service.
type Option func(*Service)

// WithPeerFactory replaces the pion transport.
func WithPeerFactory(fn NewPeerFunc) Option {
	return func(s *Service) {
		s.newPeer = fn
	}
}

// Service answers offers and consumes the received tracks.
type Service struct {
	ctx      context.Context
	config   ConfigOptions
	logger   zerolog.Logger
	registry *session.Registry
	broker   *broker
	newPeer  NewPeerFunc
	client   mqtt.Client
}

// New returns a Service. Connections it accepts live at most as long as ctx.
// The MQTT client, if answering over MQTT is enabled, is taken from ctx.
func New(ctx context.Context, config ConfigOptions, registry *session.Registry, opts ...Option) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	logger := log.Ctx(ctx).With().Str("component", "receiver").Logger()
	s := &Service{
		ctx:      ctx,
		config:   config,
		logger:   logger,
		registry: registry,
		broker:   newBroker(),
		client:   mqttclient.FromContext(ctx),
	}
	s.newPeer = func() (Peer, error) {
		return peer.New(config.WebRTC, &s.logger)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the receiver.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/offer", s.handleOffer()).Methods(http.MethodPost)
	r.HandleFunc("/v1/events", s.handleEvents()).Methods(http.MethodGet)
	r.HandleFunc("/v1/connections", s.handleConnections()).Methods(http.MethodGet)
	r.HandleFunc("/v1/connections/{id}", s.handleCloseConnection()).Methods(http.MethodDelete)

	page, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/", http.FileServer(http.FS(page))).Methods(http.MethodGet)
	return r
}

// Serve listens for offers until ctx is done, then closes every live connection.
func (s *Service) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errc := make(chan error, 2)
	go func() {
		s.logger.Info().Str("host", s.config.Host).Int("port", s.config.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("could not serve HTTP: %w", err)
		}
	}()

	if s.config.MQTT {
		if s.client == nil {
			return errors.New("no MQTT client in context")
		}
		answerer := signal.NewMQTTAnswerer(s.client, s.config.MQTTOptions, s.answerMQTT, &s.logger)
		go func() {
			if err := answerer.Serve(ctx); err != nil {
				errc <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		s.logger.Err(shutdownErr).Msg("could not shut down HTTP server")
	}
	if closeErr := s.registry.CloseAll(); closeErr != nil {
		s.logger.Err(closeErr).Msg("could not close connections")
	}
	s.logger.Info().Msg("stopped serving")
	return err
}

// accept creates a connection for offer and returns its answer.
func (s *Service) accept(ctx context.Context, offer session.Description) (*session.Connection, session.Description, error) {
	if err := session.ValidateOffer(offer); err != nil {
		return nil, session.Description{}, err
	}

	p, err := s.newPeer()
	if err != nil {
		return nil, session.Description{}, fmt.Errorf("%w: %v", errCreatePeer, err)
	}
	conn := session.New(s.ctx, session.Options{
		Role:       session.RoleReceiver,
		Negotiator: p,
		Registry:   s.registry,
		Logger:     &s.logger,
	})
	go s.broker.forward(conn.Events())

	p.OnRemoteTrack(func(rt peer.RemoteTrack) {
		s.consume(conn, rt)
	})
	p.OnFailure(func(err error) {
		conn.Fail(err)
	})

	answer, err := conn.AcceptOffer(ctx, offer)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			s.logger.Err(closeErr).Msg("could not close connection")
		}
		return nil, session.Description{}, err
	}
	return conn, answer, nil
}

func (s *Service) answerMQTT(ctx context.Context, senderID string, offer session.Description) (session.Description, error) {
	conn, answer, err := s.accept(ctx, offer)
	if err != nil {
		return session.Description{}, err
	}
	s.logger.Info().Str("connection_id", conn.ID()).Str("sender_id", senderID).Msg("answered offer over MQTT")
	return answer, nil
}

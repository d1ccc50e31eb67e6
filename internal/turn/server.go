// Package turn runs a TURN relay for WebRTC peers behind NAT.
package turn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/pion/turn/v2"
	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/pkg/pionlog"
)

var errInvalidConfig = errors.New("invalid turn config")

// Server is a TURN relay listening on UDP.
type Server struct {
	config ConfigOptions
	logger zerolog.Logger
	conn   net.PacketConn
	server *turn.Server
}

// New validates config and starts listening.
func New(config ConfigOptions, logger *zerolog.Logger) (*Server, error) {
	publicIP := net.ParseIP(config.PublicIP)
	if publicIP == nil {
		return nil, fmt.Errorf("%w: public ip %q", errInvalidConfig, config.PublicIP)
	}
	if config.RelayMinPort == 0 || config.RelayMinPort > config.RelayMaxPort || config.RelayMaxPort > 65535 {
		return nil, fmt.Errorf("%w: relay ports %d-%d", errInvalidConfig, config.RelayMinPort, config.RelayMaxPort)
	}
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}

	s := &Server{
		config: config,
		logger: logger.With().Str("component", "turn").Logger(),
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create udp4 listener: %w", err)
	}
	s.conn = conn
	s.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("created udp4 listener")

	s.server, err = turn.NewServer(turn.ServerConfig{
		LoggerFactory: pionlog.New(&s.logger),
		Realm:         config.Realm,
		AuthHandler:   authHandler(config),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					RelayAddress: publicIP,
					Address:      config.Host,
					MinPort:      uint16(config.RelayMinPort),
					MaxPort:      uint16(config.RelayMaxPort),
				},
			},
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not create TURN server: %w", err)
	}
	s.logger.Info().
		Uint("min_port", config.RelayMinPort).
		Uint("max_port", config.RelayMaxPort).
		Str("public_ip", config.PublicIP).
		Msg("started turn server")
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve relays until ctx is done, then closes the server.
func (s *Server) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.logger.Info().Msg("stopping turn server")
	return s.server.Close()
}

// authHandler accepts the single configured long-term credential.
func authHandler(config ConfigOptions) turn.AuthHandler {
	key := turn.GenerateAuthKey(config.Username, config.Realm, config.Password)
	return func(username, realm string, _ net.Addr) ([]byte, bool) {
		if username != config.Username || realm != config.Realm {
			return nil, false
		}
		return key, true
	}
}

// Package mqttclient builds paho MQTT clients for signaling. Clients keep their
// session across reconnects so offers published while a peer reconnects are
// not lost.
package mqttclient

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const clientKey = contextKey("mqtt_client")

const (
	writeTimeout = 1 * time.Second
	pingTimeout  = 10 * time.Second
)

// ConfigOptions is config options for an MQTT client.
type ConfigOptions struct {
	Server   string
	ClientID string
	Username string
	Password string
	// Debug routes paho's internal logging to the client logger.
	Debug bool
}

// NewClient returns an unconnected client. Its logger is taken from ctx.
func NewClient(ctx context.Context, config ConfigOptions) mqtt.Client {
	logger := log.Ctx(ctx).With().Str("component", "mqtt-client").Logger()
	if config.Debug {
		mqtt.ERROR = pahoLogger{logger, zerolog.ErrorLevel}
		mqtt.CRITICAL = pahoLogger{logger, zerolog.ErrorLevel}
		mqtt.WARN = pahoLogger{logger, zerolog.WarnLevel}
		mqtt.DEBUG = pahoLogger{logger, zerolog.DebugLevel}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Server)
	opts.SetClientID(config.ClientID + "-" + uuid.NewString())

	// Ordered delivery would block the router on slow handlers.
	opts.SetOrderMatters(false)
	opts.SetCleanSession(false)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		logger.Info().Str("topic", msg.Topic()).Int("size", len(msg.Payload())).Msg("received an unrouted message")
	})
	opts.OnConnect = func(mqtt.Client) {
		logger.Info().Str("server", config.Server).Msg("connected to broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("connection lost")
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info().Msg("attempting to reconnect")
	}

	opts.WriteTimeout = writeTimeout
	opts.PingTimeout = pingTimeout
	opts.ConnectRetry = true

	return mqtt.NewClient(opts)
}

// CheckConnectivity connects client, waiting at most timeout.
func CheckConnectivity(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("could not connect to broker within %s", timeout)
	}
	return token.Error()
}

// WithContext returns a copy of ctx carrying client.
func WithContext(ctx context.Context, client mqtt.Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// FromContext returns the MQTT client stored in ctx, or nil.
func FromContext(ctx context.Context) mqtt.Client {
	if client, ok := ctx.Value(clientKey).(mqtt.Client); ok {
		return client
	}
	return nil
}

// pahoLogger adapts zerolog to paho's logger interface.
type pahoLogger struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.logger.WithLevel(l.level).Str("scope", "paho").Msg(fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.logger.WithLevel(l.level).Str("scope", "paho").Msgf(format, v...)
}

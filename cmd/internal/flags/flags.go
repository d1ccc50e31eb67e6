// Package flags holds the flags and setup shared by the sub-commands.
package flags

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	"github.com/williamlsh/logging"

	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/signal"
	"github.com/SB-IM/camlink/pkg/mqttclient"
)

// ConfigFlagName is the flag naming the TOML config file.
const ConfigFlagName = "config"

// Codecs is the name of the codec preference flag.
const Codecs = "webrtc.codecs"

// Combine flattens groups of flags.
func Combine(groups ...[]cli.Flag) (flags []cli.Flag) {
	for _, v := range groups {
		flags = append(flags, v...)
	}
	return
}

// Before loads flag values from the config file and sets up logging for command.
func Before(c *cli.Context, flags []cli.Flag, command string) (zerolog.Logger, error) {
	if err := altsrc.InitInputSourceWithContext(
		flags,
		altsrc.NewTomlSourceFromFlagFunc(ConfigFlagName),
	)(c); err != nil {
		return zerolog.Logger{}, err
	}

	debug := c.Bool("debug")
	logging.Debug(debug)
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
	return log.With().Str("service", "camlink").Str("command", command).Logger(), nil
}

// LoadConfig sets a config file path for app command.
// Note: you can't set any other flags' `Required` value to `true`,
// As it conflicts with this flag. You can set only either this flag or specifically the other flags but not both.
func LoadConfig() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        ConfigFlagName,
			Aliases:     []string{"c"},
			Usage:       "Config file path",
			Value:       "config/config.toml",
			DefaultText: "config/config.toml",
		},
	}
}

// WebRTC returns the peer connection flags. The codec list is read with
// c.StringSlice(Codecs).
func WebRTC(options *peer.WebRTCConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "webrtc.ice_server",
			Usage:       "ICE server address for webRTC",
			Value:       "stun:stun.l.google.com:19302",
			DefaultText: "stun:stun.l.google.com:19302",
			Destination: &options.ICEServer,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "webrtc.ice_server_username",
			Usage:       "ICE server username for webRTC",
			Value:       "",
			DefaultText: "",
			Destination: &options.Username,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "webrtc.ice_server_credential",
			Usage:       "ICE server credential for webRTC",
			Value:       "",
			DefaultText: "",
			Destination: &options.Credential,
		}),
		altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
			Name:        Codecs,
			Usage:       "Video codecs in order of preference",
			Value:       cli.NewStringSlice(peer.DefaultCodecs...),
			DefaultText: "video/H264,video/VP8",
		}),
	}
}

// MQTT returns the broker connection flags.
func MQTT(options *mqttclient.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.server",
			Usage:       "MQTT server address",
			Value:       "tcp://mosquitto:1883",
			DefaultText: "tcp://mosquitto:1883",
			Destination: &options.Server,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.clientID",
			Usage:       "MQTT client id",
			Value:       "camlink",
			DefaultText: "camlink",
			Destination: &options.ClientID,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.username",
			Usage:       "MQTT broker username",
			Value:       "",
			Destination: &options.Username,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt.password",
			Usage:       "MQTT broker password",
			Value:       "",
			Destination: &options.Password,
		}),
	}
}

// MQTTSignal returns the flags of the MQTT offer/answer exchange.
func MQTTSignal(options *signal.MQTTConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt_client.topic_offer",
			Usage:       "MQTT topic for WebRTC SDP offers",
			Value:       "/camlink/signal/offer",
			DefaultText: "/camlink/signal/offer",
			Destination: &options.OfferTopic,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "mqtt_client.topic_answer_prefix",
			Usage:       "MQTT topic prefix for WebRTC SDP answers, the sender id is appended",
			Value:       "/camlink/signal/answer",
			DefaultText: "/camlink/signal/answer",
			Destination: &options.AnswerTopic,
		}),
		altsrc.NewUintFlag(&cli.UintFlag{
			Name:        "mqtt_client.qos",
			Usage:       "MQTT client qos for WebRTC SDP signaling",
			Value:       0,
			DefaultText: "0",
			Destination: &options.Qos,
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:        "mqtt_client.retained",
			Usage:       "MQTT client setting retainsion for WebRTC SDP signaling",
			Value:       false,
			DefaultText: "false",
			Destination: &options.Retained,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "mqtt_client.timeout",
			Usage:       "How long to wait for an answer",
			Value:       10 * time.Second,
			DefaultText: "10s",
			Destination: &options.Timeout,
		}),
	}
}

// ConnectMQTT builds an MQTT client logging through ctx and connects it.
func ConnectMQTT(ctx context.Context, options mqttclient.ConfigOptions, debug bool) (mqtt.Client, error) {
	options.Debug = debug
	mc := mqttclient.NewClient(ctx, options)
	if err := mqttclient.CheckConnectivity(mc, 3*time.Second); err != nil {
		return nil, err
	}
	return mc, nil
}

package receiver

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/SB-IM/camlink/cmd/internal/flags"
	"github.com/SB-IM/camlink/internal/receiver"
	"github.com/SB-IM/camlink/internal/session"
	"github.com/SB-IM/camlink/pkg/mqttclient"
)

// Command returns a receiver command.
func Command() *cli.Command {
	ctx := context.Background()

	var (
		logger zerolog.Logger

		receiverConfig    receiver.ConfigOptions
		mqttConfigOptions mqttclient.ConfigOptions
	)

	allFlags := flags.Combine(
		flags.LoadConfig(),
		serverFlags(&receiverConfig),
		flags.WebRTC(&receiverConfig.WebRTC),
		flags.MQTT(&mqttConfigOptions),
		flags.MQTTSignal(&receiverConfig.MQTTOptions),
	)

	return &cli.Command{
		Name:  "receiver",
		Usage: "receiver accepts offers and logs every received frame",
		Flags: allFlags,
		Before: func(c *cli.Context) error {
			var err error
			logger, err = flags.Before(c, allFlags, "receiver")
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx)
			receiverConfig.WebRTC.Codecs = c.StringSlice(flags.Codecs)

			if receiverConfig.MQTT {
				mc, err := flags.ConnectMQTT(ctx, mqttConfigOptions, c.Bool("debug"))
				if err != nil {
					return err
				}
				ctx = mqttclient.WithContext(ctx, mc)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			ctx, stop := ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return receiver.New(ctx, receiverConfig, session.NewRegistry()).Serve(ctx)
		},
		After: func(c *cli.Context) error {
			if mc := mqttclient.FromContext(ctx); mc != nil {
				mc.Disconnect(250)
			}
			logger.Info().Msg("exits")
			return nil
		},
	}
}

func serverFlags(options *receiver.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "server.host",
			Usage:       "Host of receiver server",
			Value:       "0.0.0.0",
			DefaultText: "0.0.0.0",
			Destination: &options.Host,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "server.port",
			Usage:       "Port of receiver server",
			Value:       8080,
			DefaultText: "8080",
			Destination: &options.Port,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "receiver.timeout",
			Usage:       "How long a track may go without frames before it fails",
			Value:       10 * time.Second,
			DefaultText: "10s",
			Destination: &options.Timeout,
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:        "receiver.mqtt",
			Usage:       "Also answer offers published over MQTT",
			Value:       false,
			DefaultText: "false",
			Destination: &options.MQTT,
		}),
	}
}

package sender

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/SB-IM/camlink/cmd/internal/flags"
	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/pkg/identity"
	"github.com/SB-IM/camlink/internal/sender"
	"github.com/SB-IM/camlink/internal/session"
	"github.com/SB-IM/camlink/internal/signal"
	"github.com/SB-IM/camlink/pkg/mqttclient"
)

const (
	signalingHTTP = "http"
	signalingMQTT = "mqtt"
)

// Command returns a sender command.
func Command() *cli.Command {
	ctx := context.Background()

	var (
		logger zerolog.Logger

		signaling         string
		senderConfig      sender.ConfigOptions
		httpConfigOptions signal.HTTPConfigOptions
		mqttConfigOptions mqttclient.ConfigOptions
		mqttSignalOptions signal.MQTTConfigOptions

		signaler session.Signaler
	)

	allFlags := flags.Combine(
		flags.LoadConfig(),
		deviceFlags(&senderConfig),
		signalingFlags(&signaling, &httpConfigOptions),
		flags.WebRTC(&senderConfig.WebRTC),
		flags.MQTT(&mqttConfigOptions),
		flags.MQTTSignal(&mqttSignalOptions),
	)

	return &cli.Command{
		Name:  "sender",
		Usage: "sender streams a capture device to a receiver for a bounded window",
		Flags: allFlags,
		Before: func(c *cli.Context) error {
			var err error
			logger, err = flags.Before(c, allFlags, "sender")
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx)
			senderConfig.WebRTC.Codecs = c.StringSlice(flags.Codecs)

			switch signaling {
			case signalingHTTP:
				signaler = signal.NewHTTPClient(httpConfigOptions, &logger)
			case signalingMQTT:
				mc, err := flags.ConnectMQTT(ctx, mqttConfigOptions, c.Bool("debug"))
				if err != nil {
					return err
				}
				ctx = mqttclient.WithContext(ctx, mc)
				id := identity.SenderID()
				logger.Info().Str("sender_id", id).Msg("signaling over MQTT")
				signaler = signal.NewMQTTSignaler(mc, mqttSignalOptions, id, &logger)
			default:
				return fmt.Errorf("unknown signaling %q", signaling)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			ctx, stop := ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := sender.New(ctx, senderConfig, signaler, session.NewRegistry())
			return s.Run(ctx)
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

func deviceFlags(options *sender.ConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "device.kind",
			Usage:       "Capture device: testsrc, file, rtsp or rtmp",
			Value:       capture.KindTestSource,
			DefaultText: capture.KindTestSource,
			Destination: &options.Device.Kind,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "device.path",
			Usage:       "H.264 file path, RTSP URL or RTMP listen address",
			Value:       "",
			Destination: &options.Device.Path,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "device.width",
			Usage:       "Requested frame width",
			Value:       640,
			DefaultText: "640",
			Destination: &options.Device.Width,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:        "device.height",
			Usage:       "Requested frame height",
			Value:       480,
			DefaultText: "480",
			Destination: &options.Device.Height,
		}),
		altsrc.NewFloat64Flag(&cli.Float64Flag{
			Name:        "device.frame_rate",
			Usage:       "Requested frame rate",
			Value:       30,
			DefaultText: "30",
			Destination: &options.Device.FrameRate,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "sender.duration",
			Usage:       "How long to stream before shutting down, 0 streams until interrupted",
			Value:       10 * time.Second,
			DefaultText: "10s",
			Destination: &options.Duration,
		}),
	}
}

func signalingFlags(signaling *string, options *signal.HTTPConfigOptions) []cli.Flag {
	return []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "signal.mode",
			Usage:       "Signaling channel: http or mqtt",
			Value:       signalingHTTP,
			DefaultText: signalingHTTP,
			Destination: signaling,
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:        "signal.url",
			Usage:       "Receiver offer endpoint",
			Value:       "http://127.0.0.1:8080/offer",
			DefaultText: "http://127.0.0.1:8080/offer",
			Destination: &options.URL,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:        "signal.timeout",
			Usage:       "Timeout of the offer request",
			Value:       10 * time.Second,
			DefaultText: "10s",
			Destination: &options.Timeout,
		}),
	}
}

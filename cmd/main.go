package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/SB-IM/camlink/cmd/internal/build"
	"github.com/SB-IM/camlink/cmd/receiver"
	"github.com/SB-IM/camlink/cmd/sender"
	"github.com/SB-IM/camlink/cmd/turn"
)

func init() {
	rand.Seed(time.Now().UTC().UnixNano())
}

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("camlink failed")
	}
}

func run(args []string) error {
	// A missing .env is fine, existing variables win over it.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "camlink",
		Usage: "camlink streams a camera to a viewer over WebRTC",
		Flags: []cli.Flag{ // Global flags.
			&cli.BoolFlag{
				Name:        "debug",
				Value:       false,
				Usage:       "enable debug mod",
				DefaultText: "false",
				EnvVars:     []string{"DEBUG"},
			},
		},
		Commands: []*cli.Command{
			sender.Command(),
			receiver.Command(),
			turn.Command(),
			build.Command(),
		},
	}

	return app.Run(args)
}

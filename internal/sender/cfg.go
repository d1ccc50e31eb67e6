package sender

import (
	"time"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/peer"
)

// ConfigOptions configures the sender.
type ConfigOptions struct {
	Device capture.DeviceConfig
	WebRTC peer.WebRTCConfigOptions

	// Duration is the demonstration window, zero runs until cancelled.
	Duration time.Duration
}

package receiver

import (
	"time"

	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/signal"
)

// ConfigOptions configures the receiver.
type ConfigOptions struct {
	ServerConfigOptions
	WebRTC peer.WebRTCConfigOptions

	// Timeout is the liveness deadline of every received track.
	Timeout time.Duration

	// MQTT enables answering offers over MQTT as well.
	MQTT        bool
	MQTTOptions signal.MQTTConfigOptions
}

// ServerConfigOptions is the HTTP listen address.
type ServerConfigOptions struct {
	Host string
	Port int
}

package mqttclient_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	mc "github.com/SB-IM/camlink/pkg/mqttclient"
)

func TestMQTTClientCtx(t *testing.T) {
	ctx := context.Background()
	if mc.FromContext(ctx) != nil {
		t.Fatal("empty context should carry no client")
	}
	client := mc.NewClient(ctx, mc.ConfigOptions{Server: "tcp://127.0.0.1:1883"})
	if mc.FromContext(mc.WithContext(ctx, client)) != client {
		t.Fatal("client should round trip through the context")
	}
}

func TestCheckConnectivityUnreachable(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background())

	// Nothing listens on port 1.
	client := mc.NewClient(ctx, mc.ConfigOptions{Server: "tcp://127.0.0.1:1", ClientID: "test"})
	err := mc.CheckConnectivity(client, 200*time.Millisecond)
	client.Disconnect(0)
	if err == nil {
		t.Fatal("connecting to a closed port should fail")
	}
	if !strings.Contains(err.Error(), "within") {
		t.Fatalf("unexpected error %v", err)
	}
}

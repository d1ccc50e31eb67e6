package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/receiver"
	"github.com/SB-IM/camlink/internal/sender"
	"github.com/SB-IM/camlink/internal/session"
	"github.com/SB-IM/camlink/internal/signal"
)

// TestSenderStopEndsReceiverTrack streams over real pion peer connections on
// this host and checks that the receiver sees the end of the track long before
// its liveness timeout.
func TestSenderStopEndsReceiverTrack(t *testing.T) {
	if testing.Short() {
		t.Skip("sets up real peer connections")
	}
	const (
		receiverTimeout = 6 * time.Second
		// ICE reports a silent peer disconnected after 5s.
		endWithin = 3 * time.Second
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	nop := zerolog.Nop()
	ctx = nop.WithContext(ctx)

	recvRegistry := session.NewRegistry()
	recv := receiver.New(ctx, receiver.ConfigOptions{Timeout: receiverTimeout}, recvRegistry)
	srv := httptest.NewServer(recv.Handler())
	defer srv.Close()
	found := watchRegistry(ctx, recvRegistry)

	sendRegistry := session.NewRegistry()
	signaler := signal.NewHTTPClient(signal.HTTPConfigOptions{URL: srv.URL + "/offer", Timeout: 10 * time.Second}, &nop)
	send := sender.New(ctx, sender.ConfigOptions{
		Device: capture.DeviceConfig{
			Kind:      capture.KindTestSource,
			Width:     640,
			Height:    480,
			FrameRate: 30,
		},
		Duration: 2 * time.Second,
	}, signaler, sendRegistry)
	if err := send.Run(ctx); err != nil {
		t.Fatal(err)
	}
	stopped := time.Now()

	var conn *session.Connection
	select {
	case conn = <-found:
	case <-time.After(time.Second):
		t.Fatal("receiver never registered the connection")
	}

	select {
	case <-conn.Done():
	case <-time.After(receiverTimeout):
		t.Fatalf("receiver connection still %s after the sender stopped", conn.State())
	}
	if elapsed := time.Since(stopped); elapsed >= endWithin {
		t.Fatalf("receiver noticed the end after %s, want within %s", elapsed, endWithin)
	}
	if conn.State() != session.StateClosed || conn.Err() != nil {
		t.Fatalf("receiver connection %s with %v, want closed without error", conn.State(), conn.Err())
	}
	if recvRegistry.Len() != 0 || sendRegistry.Len() != 0 {
		t.Fatal("registries should be empty")
	}
}

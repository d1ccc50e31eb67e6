package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/SB-IM/camlink/internal/capture"
	"github.com/SB-IM/camlink/internal/peer"
	"github.com/SB-IM/camlink/internal/receiver/httpx"
	"github.com/SB-IM/camlink/internal/session"
)

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 102\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"a=sendonly\r\n"

type fakePeer struct {
	mu        sync.Mutex
	onTrack   func(peer.RemoteTrack)
	onFailure func(error)
	closed    bool
}

func (p *fakePeer) CreateOffer(context.Context) (session.Description, error) {
	return session.Description{Type: session.SDPTypeOffer, SDP: testOffer}, nil
}

func (p *fakePeer) CreateAnswer(context.Context, session.Description) (session.Description, error) {
	return session.Description{Type: session.SDPTypeAnswer, SDP: testOffer}, nil
}

func (p *fakePeer) SetRemoteDescription(session.Description) error { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) OnRemoteTrack(fn func(peer.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) OnFailure(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = fn
}

func (p *fakePeer) deliver(rt peer.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(rt)
}

type fakeRemote struct {
	frames chan capture.Frame
	once   sync.Once
	done   chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{frames: make(chan capture.Frame, 16), done: make(chan struct{})}
}

func (r *fakeRemote) ID() string       { return "video" }
func (r *fakeRemote) MimeType() string { return "video/VP8" }

func (r *fakeRemote) ReadFrame() (capture.Frame, error) {
	select {
	case f, ok := <-r.frames:
		if !ok {
			return capture.Frame{}, io.EOF
		}
		return f, nil
	case <-r.done:
		return capture.Frame{}, io.EOF
	}
}

func (r *fakeRemote) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

type fixture struct {
	svc      *Service
	registry *session.Registry
	srv      *httptest.Server

	mu    sync.Mutex
	peers []*fakePeer
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{registry: session.NewRegistry()}
	f.svc = New(ctx, ConfigOptions{Timeout: timeout}, f.registry, WithPeerFactory(func() (Peer, error) {
		p := &fakePeer{}
		f.mu.Lock()
		f.peers = append(f.peers, p)
		f.mu.Unlock()
		return p, nil
	}))
	f.srv = httptest.NewServer(f.svc.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) lastPeer() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

func (f *fixture) postOffer(t *testing.T, d session.Description) *http.Response {
	t.Helper()
	body, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(f.srv.URL+"/offer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOfferAndAdmin(t *testing.T) {
	f := newFixture(t, time.Second)

	resp := f.postOffer(t, session.Description{Type: session.SDPTypeOffer, SDP: testOffer})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var answer session.Description
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		t.Fatal(err)
	}
	if answer.Type != session.SDPTypeAnswer {
		t.Fatalf("got %q, want answer", answer.Type)
	}
	if f.registry.Len() != 1 {
		t.Fatalf("registry has %d entries, want 1", f.registry.Len())
	}

	listResp, err := http.Get(f.srv.URL + "/v1/connections")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var infos []connectionInfo
	if err := json.NewDecoder(listResp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].State != session.StateEstablished || infos[0].Role != session.RoleReceiver {
		t.Fatalf("unexpected connections %+v", infos)
	}

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/v1/connections/"+id, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del(infos[0].ID); code != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", code)
	}
	if f.registry.Len() != 0 {
		t.Fatal("closed connection should be removed")
	}
	if !f.lastPeer().isClosed() {
		t.Fatal("peer should be closed")
	}
	if code := del(infos[0].ID); code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", code)
	}
}

func TestMalformedOffer(t *testing.T) {
	f := newFixture(t, time.Second)

	resp := f.postOffer(t, session.Description{Type: session.SDPTypeOffer, SDP: "nonsense"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
	var body httpx.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != httpx.ErrMalformedOffer {
		t.Fatalf("got code %d", body.Code)
	}
	if f.registry.Len() != 0 {
		t.Fatal("malformed offer must not register a connection")
	}

	bad, err := http.Post(f.srv.URL+"/offer", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", bad.StatusCode)
	}
}

func acceptOne(t *testing.T, f *fixture) *session.Connection {
	t.Helper()
	resp := f.postOffer(t, session.Description{Type: session.SDPTypeOffer, SDP: testOffer})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	conns := f.registry.Connections()
	if len(conns) != 1 {
		t.Fatalf("registry has %d entries, want 1", len(conns))
	}
	return conns[0]
}

func TestInactivityFailsConnection(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	conn := acceptOne(t, f)

	remote := newFakeRemote()
	f.lastPeer().deliver(remote)

	waitFor(t, "connection to fail", func() bool { return conn.State() == session.StateFailed })
	if session.Category(conn.Err()) != "InactivityTimeout" {
		t.Fatalf("got %v, want inactivity timeout", conn.Err())
	}
	waitFor(t, "registry entry removal", func() bool { return f.registry.Len() == 0 })
}

func TestTrackEndClosesConnection(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	conn := acceptOne(t, f)

	remote := newFakeRemote()
	f.lastPeer().deliver(remote)
	for i := 0; i < 10; i++ {
		remote.frames <- capture.Frame{PTS: int64(i) * 3000, Payload: []byte{0x10}}
	}
	close(remote.frames)

	waitFor(t, "connection to close", func() bool { return conn.State() == session.StateClosed })
	if conn.Err() != nil {
		t.Fatalf("closed connection carries error %v", conn.Err())
	}
	waitFor(t, "registry entry removal", func() bool { return f.registry.Len() == 0 })
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t, time.Second)

	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "camlink receiver") {
		t.Fatalf("unexpected index page %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	waitFor(t, "event subscription", func() bool {
		f.svc.broker.mu.Lock()
		defer f.svc.broker.mu.Unlock()
		return len(f.svc.broker.subs) == 1
	})
	acceptOne(t, f)

	want := []session.State{session.StateNegotiating, session.StateEstablished}
	for _, state := range want {
		var e session.Event
		if err := wsjson.Read(ctx, c, &e); err != nil {
			t.Fatal(err)
		}
		if e.Type != session.EventState || e.State != state {
			t.Fatalf("got event %+v, want state %s", e, state)
		}
	}
}

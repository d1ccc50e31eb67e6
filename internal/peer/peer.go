// Package peer binds connections to pion/webrtc peer connections.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/pkg/pionlog"
	"github.com/SB-IM/camlink/internal/session"
)

const rtcpPLIInterval = time.Second * 3

// ErrTransportFailed is reported through OnFailure when ICE or DTLS failed.
var ErrTransportFailed = errors.New("transport failed")

// Peer is one pion peer connection. It implements session.Negotiator.
type Peer struct {
	pc     *webrtc.PeerConnection
	codecs []webrtc.RTPCodecParameters
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	onTrack   func(RemoteTrack)
	onFailure func(error)
	failed    bool
	remotes   []*remoteVideo
}

// New creates a peer connection that negotiates only the configured codecs.
func New(config WebRTCConfigOptions, logger *zerolog.Logger) (*Peer, error) {
	params, err := codecParameters(config.Codecs)
	if err != nil {
		return nil, err
	}

	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m, params); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("could not register default interceptors: %w", err)
	}
	s := webrtc.SettingEngine{
		LoggerFactory: pionlog.New(logger),
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers(config),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create PeerConnection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:     pc,
		codecs: params,
		logger: logger.With().Str("component", "peer").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Info().Str("state", state.String()).Msg("ICE connection state has changed")
		switch state {
		case webrtc.ICEConnectionStateFailed:
			p.fail(fmt.Errorf("%w: ICE connection failed", ErrTransportFailed))
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateClosed:
			p.endRemotes()
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug().Str("state", state.String()).Msg("peer connection state has changed")
		if state == webrtc.PeerConnectionStateFailed {
			p.fail(fmt.Errorf("%w: peer connection failed", ErrTransportFailed))
		}
	})
	pc.OnTrack(p.handleTrack)

	return p, nil
}

func iceServers(config WebRTCConfigOptions) []webrtc.ICEServer {
	if config.ICEServer == "" {
		return nil
	}
	return []webrtc.ICEServer{
		{
			URLs:       []string{config.ICEServer},
			Username:   config.Username,
			Credential: config.Credential,
		},
	}
}

// OnRemoteTrack sets the handler for video tracks sent by the remote peer.
func (p *Peer) OnRemoteTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

// OnFailure sets the handler called once when the transport failed.
func (p *Peer) OnFailure(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = fn
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	if p.failed {
		p.mu.Unlock()
		return
	}
	p.failed = true
	fn := p.onFailure
	p.mu.Unlock()

	p.logger.Err(err).Msg("peer connection failed")
	if fn != nil {
		go fn(err)
	}
}

func (p *Peer) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	logger := p.logger.With().Str("track_id", remote.ID()).Str("codec", remote.Codec().MimeType).Logger()
	if remote.Kind() != webrtc.RTPCodecTypeVideo {
		logger.Warn().Str("kind", remote.Kind().String()).Msg("ignored non-video track")
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	r, err := newRemoteVideo(remote, receiver.Stop, cancel)
	if err != nil {
		cancel()
		logger.Err(err).Msg("could not read remote track")
		return
	}
	go p.sendPLI(ctx, remote.SSRC())
	go p.readRTCP(receiver, r, &logger)
	logger.Info().Msg("received remote track")

	p.mu.Lock()
	p.remotes = append(p.remotes, r)
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// CreateOffer creates the local offer and waits until ICE gathering completed so
// that the returned description carries every candidate.
func (p *Peer) CreateOffer(ctx context.Context) (session.Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return session.Description{}, fmt.Errorf("could not create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

// CreateAnswer applies the remote offer and returns the complete local answer.
func (p *Peer) CreateAnswer(ctx context.Context, offer session.Description) (session.Description, error) {
	if err := p.pc.SetRemoteDescription(toWebRTC(offer)); err != nil {
		return session.Description{}, fmt.Errorf("could not set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return session.Description{}, fmt.Errorf("could not create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

func (p *Peer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (session.Description, error) {
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return session.Description{}, fmt.Errorf("could not set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return session.Description{}, fmt.Errorf("could not gather candidates: %w", ctx.Err())
	}
	return fromWebRTC(*p.pc.LocalDescription()), nil
}

// SetRemoteDescription applies the remote answer.
func (p *Peer) SetRemoteDescription(answer session.Description) error {
	if err := p.pc.SetRemoteDescription(toWebRTC(answer)); err != nil {
		return fmt.Errorf("could not set remote description: %w", err)
	}
	return nil
}

// endRemotes ends every remote track, their readers see io.EOF.
func (p *Peer) endRemotes() {
	p.mu.Lock()
	remotes := p.remotes
	p.remotes = nil
	p.mu.Unlock()
	for _, r := range remotes {
		r.end()
	}
}

// readRTCP drains RTCP of a received track and ends the track when the remote
// says goodbye.
func (p *Peer) readRTCP(receiver *webrtc.RTPReceiver, r *remoteVideo, logger *zerolog.Logger) {
	ssrc := uint32(r.remote.SSRC())
	for {
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if bye, ok := pkt.(*rtcp.Goodbye); ok && saysGoodbye(bye, ssrc) {
				logger.Info().Str("reason", bye.Reason).Msg("remote ended track")
				r.end()
				return
			}
		}
	}
}

func saysGoodbye(bye *rtcp.Goodbye, ssrc uint32) bool {
	for _, source := range bye.Sources {
		if source == ssrc {
			return true
		}
	}
	return false
}

// goodbye tells the remote that every local track ended.
func (p *Peer) goodbye() {
	var sources []uint32
	for _, sender := range p.pc.GetSenders() {
		if sender.Track() == nil {
			continue
		}
		for _, encoding := range sender.GetParameters().Encodings {
			sources = append(sources, uint32(encoding.SSRC))
		}
	}
	if len(sources) == 0 {
		return
	}
	err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.Goodbye{Sources: sources, Reason: "track ended"}})
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.logger.Debug().Err(err).Msg("could not send goodbye")
	}
}

// Close says goodbye to the remote, stops every sender and closes the peer
// connection.
func (p *Peer) Close() error {
	p.cancel()
	p.goodbye()
	p.endRemotes()
	for _, sender := range p.pc.GetSenders() {
		if err := sender.Stop(); err != nil {
			return fmt.Errorf("could not stop RTP sender: %w", err)
		}
		if err := p.pc.RemoveTrack(sender); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
			return fmt.Errorf("could not remove track: %w", err)
		}
	}
	return p.pc.Close()
}

// sendPLI asks the remote sender for a keyframe every rtcpPLIInterval.
func (p *Peer) sendPLI(ctx context.Context, ssrc webrtc.SSRC) {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
		}); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Err(err).Msg("could not send PLI")
			}
			return
		}
	}
}

// processRTCP drains incoming RTCP so that interceptors such as NACK see it.
func (p *Peer) processRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Err(err).Msg("could not read RTCP")
			}
			return
		}
	}
}

func toWebRTC(d session.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(d.Type)),
		SDP:  d.SDP,
	}
}

func fromWebRTC(d webrtc.SessionDescription) session.Description {
	return session.Description{
		Type: session.SDPType(d.Type.String()),
		SDP:  d.SDP,
	}
}

package webrtc

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// PacketSink receives RTP packets of remote tracks, e.g. a renderer. Packets
// of disabled tracks are not delivered.
type PacketSink func(trackID string, kind domain.TrackKind, pkt *rtp.Packet)

// trackLocalProvider is implemented by local tracks that can be sent by pion.
type trackLocalProvider interface {
	TrackLocal() pion.TrackLocal
}

// Factory builds pion peer connections sharing one API instance.
type Factory struct {
	api  *pion.API
	sink PacketSink
}

// NewFactory registers the default codecs, NACK and RTCP report interceptors.
// ICE timeouts are relaxed so a short outage does not drop a call.
func NewFactory(sink PacketSink) (*Factory, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)
	if err := pion.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	se := pion.SettingEngine{}
	se.SetICETimeouts(15*time.Second, 60*time.Second, 2*time.Second)

	return &Factory{
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(i),
			pion.WithSettingEngine(se),
		),
		sink: sink,
	}, nil
}

// NewPeer creates a PeerConnection, attaches the local tracks and adds
// receive-only transceivers for media the local side does not send.
func (f *Factory) NewPeer(cfg domain.PeerConfig) (domain.NativePeer, error) {
	var servers []pion.ICEServer
	for _, s := range cfg.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sending := map[domain.TrackKind]bool{}
	if cfg.Local != nil {
		for _, t := range cfg.Local.Tracks() {
			p, ok := t.(trackLocalProvider)
			if !ok {
				continue
			}
			sender, err := pc.AddTrack(p.TrackLocal())
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			sending[t.Kind()] = true
			go drainRTCP(sender)
		}
	}

	wanted := []domain.TrackKind{domain.TrackAudio}
	if cfg.CallKind == domain.CallKindVideo {
		wanted = append(wanted, domain.TrackVideo)
	}
	for _, kind := range wanted {
		if sending[kind] {
			continue
		}
		codecType := pion.RTPCodecTypeAudio
		if kind == domain.TrackVideo {
			codecType = pion.RTPCodecTypeVideo
		}
		if _, err := pc.AddTransceiverFromKind(codecType, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	p := &nativePeer{pc: pc, sink: f.sink}
	p.install()
	return p, nil
}

// nativePeer adapts a pion PeerConnection to domain.NativePeer. pion keeps a
// single handler per event, so handlers live in slots that can be cleared.
type nativePeer struct {
	pc   *pion.PeerConnection
	sink PacketSink

	mu          sync.RWMutex
	onCandidate func(domain.ICECandidate)
	onConnState func(domain.ConnectionState)
	onSigState  func(domain.SignalingState)
	onTrack     func(domain.MediaTrack)
}

func (p *nativePeer) install() {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Debugf("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			log.Debugf("filtering loopback ICE candidate")
			return
		}
		candidate := domain.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		p.mu.RLock()
		fn := p.onCandidate
		p.mu.RUnlock()
		if fn != nil {
			fn(candidate)
		}
	})

	p.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debugf("ICE connection state: %s", state)
	})

	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.mu.RLock()
		fn := p.onConnState
		p.mu.RUnlock()
		if fn != nil {
			fn(connectionState(state))
		}
	})

	p.pc.OnSignalingStateChange(func(state pion.SignalingState) {
		p.mu.RLock()
		fn := p.onSigState
		p.mu.RUnlock()
		if fn != nil {
			fn(signalingState(state))
		}
	})

	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)

		rt := newRemoteTrack(track, receiver)
		go p.readTrack(rt)

		p.mu.RLock()
		fn := p.onTrack
		p.mu.RUnlock()
		if fn != nil {
			fn(rt)
		}
	})
}

// readTrack keeps the receive pipeline moving and forwards packets to the sink.
func (p *nativePeer) readTrack(t *remoteTrack) {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			log.Debugf("remote %s track %s ended: %v", t.Kind(), t.ID(), err)
			return
		}
		if p.sink != nil && t.Enabled() {
			p.sink(t.ID(), t.Kind(), pkt)
		}
	}
}

func (p *nativePeer) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (p *nativePeer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (p *nativePeer) SetLocalDescription(sd domain.SessionDescription) error {
	return p.pc.SetLocalDescription(toPion(sd))
}

func (p *nativePeer) SetRemoteDescription(sd domain.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPion(sd))
}

func (p *nativePeer) AddICECandidate(c domain.ICECandidate) error {
	if c.SDPMLineIndex < 0 || c.SDPMLineIndex > math.MaxUint16 {
		return fmt.Errorf("add ICE candidate: %w: sdpMLineIndex %d out of range", domain.ErrNegotiation, c.SDPMLineIndex)
	}
	sdpMLineIndex := uint16(c.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	return p.pc.AddICECandidate(init)
}

func (p *nativePeer) SignalingState() domain.SignalingState {
	return signalingState(p.pc.SignalingState())
}

func (p *nativePeer) OnICECandidate(fn func(domain.ICECandidate)) func() {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onCandidate = nil
		p.mu.Unlock()
	}
}

func (p *nativePeer) OnConnectionStateChange(fn func(domain.ConnectionState)) func() {
	p.mu.Lock()
	p.onConnState = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onConnState = nil
		p.mu.Unlock()
	}
}

func (p *nativePeer) OnSignalingStateChange(fn func(domain.SignalingState)) func() {
	p.mu.Lock()
	p.onSigState = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onSigState = nil
		p.mu.Unlock()
	}
}

func (p *nativePeer) OnTrack(fn func(domain.MediaTrack)) func() {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onTrack = nil
		p.mu.Unlock()
	}
}

func (p *nativePeer) Close() error {
	return p.pc.Close()
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func toPion(sd domain.SessionDescription) pion.SessionDescription {
	t := pion.SDPTypeOffer
	if sd.Type == domain.SDPTypeAnswer {
		t = pion.SDPTypeAnswer
	}
	return pion.SessionDescription{Type: t, SDP: sd.SDP}
}

func connectionState(s pion.PeerConnectionState) domain.ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case pion.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case pion.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}

func signalingState(s pion.SignalingState) domain.SignalingState {
	switch s {
	case pion.SignalingStateHaveLocalOffer:
		return domain.SignalingHaveLocalOffer
	case pion.SignalingStateHaveRemoteOffer:
		return domain.SignalingHaveRemoteOffer
	case pion.SignalingStateHaveLocalPranswer:
		return domain.SignalingHaveLocalPranswer
	case pion.SignalingStateHaveRemotePranswer:
		return domain.SignalingHaveRemotePranswer
	case pion.SignalingStateClosed:
		return domain.SignalingClosed
	default:
		return domain.SignalingStable
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}

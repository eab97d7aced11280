// Package webrtctest provides an in-memory native peer for tests.
package webrtctest

import (
	"errors"
	"sync"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
)

// Peer is a scriptable domain.NativePeer that records every call.
type Peer struct {
	mu         sync.Mutex
	state      domain.SignalingState
	calls      []string
	candidates []domain.ICECandidate
	closed     int

	OfferErr  error
	AnswerErr error
	RemoteErr error

	onCandidate func(domain.ICECandidate)
	onConnState func(domain.ConnectionState)
	onSigState  func(domain.SignalingState)
	onTrack     func(domain.MediaTrack)
}

func NewPeer() *Peer { return &Peer{state: domain.SignalingStable} }

func (p *Peer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("createOffer")
	if p.OfferErr != nil {
		return domain.SessionDescription{}, p.OfferErr
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("createAnswer")
	if p.AnswerErr != nil {
		return domain.SessionDescription{}, p.AnswerErr
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *Peer) SetLocalDescription(sd domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setLocal:" + string(sd.Type))
	if sd.Type == domain.SDPTypeOffer {
		p.state = domain.SignalingHaveLocalOffer
	} else {
		p.state = domain.SignalingStable
	}
	return nil
}

func (p *Peer) SetRemoteDescription(sd domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setRemote:" + string(sd.Type))
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	if sd.Type == domain.SDPTypeOffer {
		p.state = domain.SignalingHaveRemoteOffer
	} else {
		p.state = domain.SignalingStable
	}
	return nil
}

func (p *Peer) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("addCandidate")
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) SignalingState() domain.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) OnICECandidate(fn func(domain.ICECandidate)) func() {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onCandidate = nil
		p.mu.Unlock()
	}
}

func (p *Peer) OnConnectionStateChange(fn func(domain.ConnectionState)) func() {
	p.mu.Lock()
	p.onConnState = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onConnState = nil
		p.mu.Unlock()
	}
}

func (p *Peer) OnSignalingStateChange(fn func(domain.SignalingState)) func() {
	p.mu.Lock()
	p.onSigState = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onSigState = nil
		p.mu.Unlock()
	}
}

func (p *Peer) OnTrack(fn func(domain.MediaTrack)) func() {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onTrack = nil
		p.mu.Unlock()
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close")
	p.closed++
	p.state = domain.SignalingClosed
	return nil
}

// EmitCandidate fires the ICE candidate handler, if attached.
func (p *Peer) EmitCandidate(c domain.ICECandidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitConnectionState fires the connection state handler, if attached.
func (p *Peer) EmitConnectionState(s domain.ConnectionState) {
	p.mu.Lock()
	fn := p.onConnState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitSignalingState sets the native signaling state and fires its handler.
func (p *Peer) EmitSignalingState(s domain.SignalingState) {
	p.mu.Lock()
	p.state = s
	fn := p.onSigState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitTrack fires the track handler, if attached.
func (p *Peer) EmitTrack(t domain.MediaTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// Attached reports whether any event handler is still registered.
func (p *Peer) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onCandidate != nil || p.onConnState != nil || p.onSigState != nil || p.onTrack != nil
}

func (p *Peer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Peer) Candidates() []domain.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ICECandidate(nil), p.candidates...)
}

func (p *Peer) ClosedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory hands out Peers and remembers them.
type Factory struct {
	mu      sync.Mutex
	peers   []*Peer
	configs []domain.PeerConfig

	Err error
	// Prepare, if set, configures each peer before it is returned.
	Prepare func(*Peer)
}

func (f *Factory) NewPeer(cfg domain.PeerConfig) (domain.NativePeer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewPeer()
	if f.Prepare != nil {
		f.Prepare(p)
	}
	f.peers = append(f.peers, p)
	f.configs = append(f.configs, cfg)
	return p, nil
}

// Last returns the most recently created peer, or nil.
func (f *Factory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *Factory) Peers() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.peers...)
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *Factory) Configs() []domain.PeerConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PeerConfig(nil), f.configs...)
}

// Track is a recording domain.MediaTrack.
type Track struct {
	TrackID   string
	TrackKind domain.TrackKind
	StopErr   error

	mu      sync.Mutex
	enabled bool
	stops   int
}

func NewTrack(id string, kind domain.TrackKind) *Track {
	return &Track{TrackID: id, TrackKind: kind, enabled: true}
}

func (t *Track) ID() string             { return t.TrackID }
func (t *Track) Kind() domain.TrackKind { return t.TrackKind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) Stop() error {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	return t.StopErr
}

func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Stream is a fixed list of tracks.
type Stream struct {
	StreamID string
	List     []domain.MediaTrack
}

func (s *Stream) ID() string                  { return s.StreamID }
func (s *Stream) Tracks() []domain.MediaTrack { return s.List }

// MediaSource opens fake streams and remembers them.
type MediaSource struct {
	mu     sync.Mutex
	opened []*Stream
	Err    error
}

func (m *MediaSource) Open(kind domain.CallKind) (domain.MediaStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s := &Stream{StreamID: "local", List: []domain.MediaTrack{NewTrack("mic", domain.TrackAudio)}}
	if kind == domain.CallKindVideo {
		s.List = append(s.List, NewTrack("cam", domain.TrackVideo))
	}
	m.opened = append(m.opened, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *MediaSource) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opened) == 0 {
		return nil
	}
	return m.opened[len(m.opened)-1]
}

// ErrInjected is a convenience error for failure scripting.
var ErrInjected = errors.New("injected failure")

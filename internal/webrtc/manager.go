package webrtc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "webrtc")

// Events are raised upward to the call session. Handlers run on whichever
// goroutine the native peer fires them from and must not block.
type Events struct {
	OnICECandidate          func(domain.ICECandidate)
	OnConnectionStateChange func(domain.ConnectionState)
	OnTrack                 func(domain.MediaStream)
	// OnClosed fires when the native signaling state reports closed.
	OnClosed func()
}

// Manager owns at most one native peer connection and mediates the
// description/candidate exchange for it.
type Manager struct {
	factory domain.PeerFactory
	events  Events

	mu        sync.Mutex
	native    domain.NativePeer
	local     domain.MediaStream
	remote    *RemoteStream
	remoteSet bool
	pending   []domain.ICECandidate
	detach    []func()

	nativeClosed atomic.Bool
}

// NewManager creates a Manager that allocates connections through factory.
func NewManager(factory domain.PeerFactory, events Events) *Manager {
	return &Manager{factory: factory, events: events}
}

// Create allocates a new connection. It fails with ErrConnectionInit while a
// previous connection has not been closed. On failure the tracks of
// cfg.Local are stopped.
func (m *Manager) Create(cfg domain.PeerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.native != nil {
		if cfg.Local != nil {
			stopTracks(cfg.Local, "local")
		}
		return fmt.Errorf("create: %w", domain.ErrConnectionInit)
	}

	native, err := m.factory.NewPeer(cfg)
	if err != nil {
		if cfg.Local != nil {
			stopTracks(cfg.Local, "local")
		}
		return fmt.Errorf("create peer connection: %w: %v", domain.ErrConnectionInit, err)
	}

	m.native = native
	m.local = cfg.Local
	m.remote = newRemoteStream()
	m.remoteSet = false
	m.pending = nil
	m.nativeClosed.Store(false)

	remote := m.remote
	m.detach = []func(){
		native.OnICECandidate(func(c domain.ICECandidate) {
			if m.events.OnICECandidate != nil {
				m.events.OnICECandidate(c)
			}
		}),
		native.OnConnectionStateChange(func(state domain.ConnectionState) {
			log.Debugf("peer connection state: %s", state)
			if m.events.OnConnectionStateChange != nil {
				m.events.OnConnectionStateChange(state)
			}
		}),
		native.OnSignalingStateChange(func(state domain.SignalingState) {
			log.Debugf("signaling state: %s", state)
			if state != domain.SignalingClosed {
				return
			}
			m.nativeClosed.Store(true)
			if m.events.OnClosed != nil {
				m.events.OnClosed()
			}
		}),
		native.OnTrack(func(t domain.MediaTrack) {
			log.Infof("got remote track: kind=%s id=%s", t.Kind(), t.ID())
			remote.add(t)
			if m.events.OnTrack != nil {
				m.events.OnTrack(remote)
			}
		}),
	}

	log.Infof("peer connection created (kind=%s, %d ICE servers)", cfg.CallKind, len(cfg.ICEServers))
	return nil
}

// CreateOfferAndSetLocal produces a local offer, applies it and returns it
// for transmission.
func (m *Manager) CreateOfferAndSetLocal() (domain.SessionDescription, error) {
	native, err := m.handle()
	if err != nil {
		return domain.SessionDescription{}, err
	}

	offer, err := native.CreateOffer()
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w: %v", domain.ErrNegotiation, err)
	}
	if err := native.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w: %v", domain.ErrNegotiation, err)
	}

	log.Infof("local SDP offer set")
	return offer, nil
}

// ApplyRemoteDescription applies a remote offer or answer, then flushes any
// candidates that arrived before it in receipt order.
func (m *Manager) ApplyRemoteDescription(sd domain.SessionDescription) error {
	native, err := m.handle()
	if err != nil {
		return err
	}

	if err := native.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w: %v", sd.Type, domain.ErrNegotiation, err)
	}
	log.Infof("remote SDP %s set", sd.Type)

	m.mu.Lock()
	if m.native != native {
		m.mu.Unlock()
		return nil
	}
	m.remoteSet = true
	queued := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, c := range queued {
		if err := native.AddICECandidate(c); err != nil {
			log.Warnf("add queued ICE candidate: %v", err)
		}
	}
	if len(queued) > 0 {
		log.Infof("flushed %d queued remote ICE candidates", len(queued))
	}
	return nil
}

// CreateAnswerAndSetLocal answers a previously applied remote offer.
func (m *Manager) CreateAnswerAndSetLocal() (domain.SessionDescription, error) {
	native, err := m.handle()
	if err != nil {
		return domain.SessionDescription{}, err
	}

	if state := native.SignalingState(); state != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("create answer in state %s: %w", state, domain.ErrNegotiation)
	}

	answer, err := native.CreateAnswer()
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w: %v", domain.ErrNegotiation, err)
	}
	if err := native.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w: %v", domain.ErrNegotiation, err)
	}

	log.Infof("local SDP answer set")
	return answer, nil
}

// AddRemoteICECandidate applies c now if a remote description exists,
// otherwise it is queued until ApplyRemoteDescription succeeds.
func (m *Manager) AddRemoteICECandidate(c domain.ICECandidate) error {
	m.mu.Lock()
	native := m.native
	if native == nil {
		m.mu.Unlock()
		return fmt.Errorf("add ice candidate: %w: no connection", domain.ErrNegotiation)
	}
	if !m.remoteSet {
		m.pending = append(m.pending, c)
		n := len(m.pending)
		m.mu.Unlock()
		log.Debugf("queued remote ICE candidate (%d pending)", n)
		return nil
	}
	m.mu.Unlock()

	if err := native.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w: %v", domain.ErrNegotiation, err)
	}
	return nil
}

// Close detaches all callbacks, stops local and remote tracks and closes the
// native connection. Every step runs even if an earlier one failed. Calling
// Close on a closed manager is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	native := m.native
	if native == nil {
		m.mu.Unlock()
		return
	}
	detach := m.detach
	local := m.local
	remote := m.remote
	m.native = nil
	m.local = nil
	m.remote = nil
	m.remoteSet = false
	m.pending = nil
	m.detach = nil
	m.nativeClosed.Store(true)
	m.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	if local != nil {
		stopTracks(local, "local")
	}
	if remote != nil {
		stopTracks(remote, "remote")
	}
	if err := native.Close(); err != nil {
		log.Warnf("close peer connection: %v", err)
	}
	log.Infof("peer connection closed")
}

// HasHandle reports whether a connection is allocated and not yet closed
// through Close.
func (m *Manager) HasHandle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native != nil
}

// SignalingState returns the live native signaling state, or closed when no
// connection exists.
func (m *Manager) SignalingState() domain.SignalingState {
	m.mu.Lock()
	native := m.native
	m.mu.Unlock()
	if native == nil || m.nativeClosed.Load() {
		return domain.SignalingClosed
	}
	return native.SignalingState()
}

// IsLive reports whether a connection exists and its native signaling state
// is not closed.
func (m *Manager) IsLive() bool {
	return m.SignalingState() != domain.SignalingClosed
}

// LocalStream returns the local stream owned by the current connection.
func (m *Manager) LocalStream() domain.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return nil
	}
	return m.local
}

// RemoteStream returns the remote stream once at least one track arrived.
func (m *Manager) RemoteStream() domain.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remote == nil || len(m.remote.Tracks()) == 0 {
		return nil
	}
	return m.remote
}

func (m *Manager) handle() (domain.NativePeer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.native == nil {
		return nil, fmt.Errorf("%w: no connection", domain.ErrNegotiation)
	}
	return m.native, nil
}

func stopTracks(s domain.MediaStream, which string) {
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil {
			log.Warnf("stop %s %s track %s: %v", which, t.Kind(), t.ID(), err)
		}
	}
}

package domain

// ICEConfigFetcher retrieves ICE server credentials from the API.
type ICEConfigFetcher interface {
	FetchICEServers(token string) ([]ICEServer, error)
}

// Signaler is the bidirectional signaling channel.
type Signaler interface {
	// Connect dials the channel if it is not connected yet.
	Connect() error
	// Send is fire-and-forget; an error means the channel was unavailable.
	Send(msg Message) error
	// Subscribe registers handler for kind and returns its unsubscribe func.
	// Any number of handlers may be registered for the same kind.
	Subscribe(kind MessageKind, handler func(Message)) (unsubscribe func())
	SelfID() string
	Close()
}

// NativePeer is the native peer-connection primitive. Every On* registration
// returns a func that detaches the handler again.
type NativePeer interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(sd SessionDescription) error
	SetRemoteDescription(sd SessionDescription) error
	AddICECandidate(c ICECandidate) error
	SignalingState() SignalingState

	OnICECandidate(fn func(ICECandidate)) (unsubscribe func())
	OnConnectionStateChange(fn func(ConnectionState)) (unsubscribe func())
	OnSignalingStateChange(fn func(SignalingState)) (unsubscribe func())
	OnTrack(fn func(MediaTrack)) (unsubscribe func())

	Close() error
}

// PeerFactory allocates native peers.
type PeerFactory interface {
	NewPeer(cfg PeerConfig) (NativePeer, error)
}

// MediaTrack is a local or remote media track.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop() error
}

// MediaStream is a group of tracks shared with the rendering surface.
// Renderers may read it but must never stop it.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
}

// MediaSource opens local capture for a call.
type MediaSource interface {
	Open(kind CallKind) (MediaStream, error)
}

// Navigator moves the UI to a screen.
type Navigator interface {
	Navigate(screen string, params map[string]string) error
}

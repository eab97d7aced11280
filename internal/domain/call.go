package domain

import "time"

// CallKind selects the audio or video variant of a call.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// Direction records which side placed the call.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Metadata describes the call a session is tracking. It exists for every
// status except idle.
type Metadata struct {
	RoomID          string    `json:"roomId"`
	CallID          string    `json:"callId,omitempty"`
	PeerUserID      string    `json:"peerUserId"`
	PeerDisplayName string    `json:"peerDisplayName"`
	CallKind        CallKind  `json:"callKind"`
	Direction       Direction `json:"direction"`
	StartedAt       time.Time `json:"startedAt"`
}

// Controls are the local media toggles of a call.
type Controls struct {
	Muted          bool `json:"muted"`
	CameraEnabled  bool `json:"cameraEnabled"`
	SpeakerEnabled bool `json:"speakerEnabled"`
}

// DefaultControls returns the toggles a fresh call starts with.
func DefaultControls() Controls {
	return Controls{CameraEnabled: true}
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URL        string `json:"url" toml:"url"`
	Username   string `json:"username,omitempty" toml:"username"`
	Credential string `json:"credential,omitempty" toml:"credential"`
}

// PeerConfig is handed to a PeerFactory when a connection is allocated.
type PeerConfig struct {
	ICEServers []ICEServer
	CallKind   CallKind
	Local      MediaStream
}

// ConnectionState mirrors the native peer-connection state.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionCompleted    ConnectionState = "completed"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// SignalingState mirrors the native signaling state.
type SignalingState string

const (
	SignalingStable             SignalingState = "stable"
	SignalingHaveLocalOffer     SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer    SignalingState = "have-remote-offer"
	SignalingHaveLocalPranswer  SignalingState = "have-local-pranswer"
	SignalingHaveRemotePranswer SignalingState = "have-remote-pranswer"
	SignalingClosed             SignalingState = "closed"
)

// TrackKind is the media type of a track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

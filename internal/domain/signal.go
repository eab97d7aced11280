package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SDPType distinguishes offers from answers.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is the JSON structure for SDP offer/answer messages.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate is the JSON structure for ICE candidate messages.
type ICECandidate struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// MessageKind tags a signaling message variant.
type MessageKind string

const (
	KindIncomingCall MessageKind = "incomingCall"
	KindCallAccepted MessageKind = "callAccepted"
	KindCallRejected MessageKind = "callRejected"
	KindOffer        MessageKind = "offer"
	KindAnswer       MessageKind = "answer"
	KindICECandidate MessageKind = "iceCandidate"
	KindCallEnded    MessageKind = "callEnded"
	KindCallBusy     MessageKind = "callBusy"
)

// Payload is implemented by every signaling message variant.
type Payload interface {
	Kind() MessageKind
}

// Message is one signaling message scoped to a room. SenderID is stamped by
// the signaling client so receivers can drop their own echoes.
type Message struct {
	RoomID   string
	SenderID string
	TargetID string
	SentAt   time.Time
	Payload  Payload
}

// Kind returns the variant tag of the message payload.
func (m Message) Kind() MessageKind {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Kind()
}

type IncomingCall struct {
	CallerID   string   `json:"callerId"`
	CallerName string   `json:"callerName,omitempty"`
	CallKind   CallKind `json:"callKind,omitempty"`
	CallID     string   `json:"callId,omitempty"`
}

type CallAccepted struct {
	AcceptedBy string `json:"acceptedBy"`
}

type CallRejected struct {
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason,omitempty"`
}

type Offer struct {
	SDP      SessionDescription `json:"sdp"`
	SenderID string             `json:"senderId"`
}

type Answer struct {
	SDP         SessionDescription `json:"sdp"`
	ResponderID string             `json:"responderId"`
}

type RemoteCandidate struct {
	Candidate ICECandidate `json:"candidate"`
	SenderID  string       `json:"senderId"`
}

type CallEnded struct {
	EndedBy string `json:"endedBy"`
	Reason  string `json:"reason,omitempty"`
}

type CallBusy struct {
	BusyUserID string `json:"busyUserId"`
}

func (IncomingCall) Kind() MessageKind    { return KindIncomingCall }
func (CallAccepted) Kind() MessageKind    { return KindCallAccepted }
func (CallRejected) Kind() MessageKind    { return KindCallRejected }
func (Offer) Kind() MessageKind           { return KindOffer }
func (Answer) Kind() MessageKind          { return KindAnswer }
func (RemoteCandidate) Kind() MessageKind { return KindICECandidate }
func (CallEnded) Kind() MessageKind       { return KindCallEnded }
func (CallBusy) Kind() MessageKind        { return KindCallBusy }

// DecodePayload decodes the JSON body of a kind-tagged message.
func DecodePayload(kind MessageKind, data []byte) (Payload, error) {
	switch kind {
	case KindIncomingCall:
		return decodeAs[IncomingCall](data)
	case KindCallAccepted:
		return decodeAs[CallAccepted](data)
	case KindCallRejected:
		return decodeAs[CallRejected](data)
	case KindOffer:
		return decodeAs[Offer](data)
	case KindAnswer:
		return decodeAs[Answer](data)
	case KindICECandidate:
		return decodeAs[RemoteCandidate](data)
	case KindCallEnded:
		return decodeAs[CallEnded](data)
	case KindCallBusy:
		return decodeAs[CallBusy](data)
	}
	return nil, fmt.Errorf("unknown message kind %q", kind)
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.Kind(), err)
	}
	return v, nil
}

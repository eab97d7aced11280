package session

import (
	"fmt"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/OjDrez/tander-app-sub004/internal/network"
	"github.com/sirupsen/logrus"
)

// Signaling and connection event handlers. Everything here runs on the
// dispatcher goroutine.

// subscribeRoom routes the room-scoped message kinds to their handlers.
// Messages for any other room are discarded before reaching a handler.
func (s *Session) subscribeRoom(roomID string) {
	route := func(kind domain.MessageKind, h func(domain.Message)) {
		unsub := s.cfg.Signaler.Subscribe(kind, func(m domain.Message) {
			s.post(func() {
				if s.current(m) {
					h(m)
				}
			})
		})
		s.roomSubs = append(s.roomSubs, unsub)
	}
	route(domain.KindCallAccepted, s.onCallAccepted)
	route(domain.KindCallRejected, s.onCallRejected)
	route(domain.KindOffer, s.onOffer)
	route(domain.KindAnswer, s.onAnswer)
	route(domain.KindICECandidate, s.onRemoteCandidate)
	route(domain.KindCallEnded, s.onCallEnded)
	route(domain.KindCallBusy, s.onCallBusy)
	log.WithField("room", roomID).Debugf("subscribed to room")
}

func (s *Session) current(m domain.Message) bool {
	if s.meta != nil && m.RoomID == s.meta.RoomID {
		return true
	}
	log.WithFields(logrus.Fields{"room": m.RoomID, "kind": m.Kind()}).Debugf("%v", domain.ErrStaleMessage)
	s.cfg.Metrics.MessageDiscarded(string(m.Kind()))
	return false
}

func (s *Session) onIncomingCall(m domain.Message) {
	p, ok := m.Payload.(domain.IncomingCall)
	if !ok {
		return
	}
	if m.TargetID != "" && m.TargetID != s.selfID {
		return
	}
	callerID := p.CallerID
	if callerID == "" {
		callerID = m.SenderID
	}

	if s.status.Active() {
		if s.meta != nil && s.meta.RoomID == m.RoomID {
			return
		}
		s.replyBusy(m.RoomID, callerID)
		return
	}
	if s.status.Terminal() {
		s.resetToIdle()
	}

	kind := p.CallKind
	if kind == "" {
		kind = domain.CallKindAudio
	}
	meta := domain.Metadata{
		RoomID:          m.RoomID,
		CallID:          p.CallID,
		PeerUserID:      callerID,
		PeerDisplayName: p.CallerName,
		CallKind:        kind,
		Direction:       domain.DirectionIncoming,
		StartedAt:       time.Now(),
	}
	s.subscribeRoom(meta.RoomID)
	if err := s.setStatus(StatusRinging, func() {
		s.meta = &meta
		s.failure = nil
	}); err != nil {
		log.Errorf("incoming call: %v", err)
		return
	}
	s.cfg.Metrics.CallStarted(string(domain.DirectionIncoming))
}

func (s *Session) replyBusy(roomID, callerID string) {
	if !s.busy.Allow() {
		log.WithField("room", roomID).Debugf("busy reply rate limited")
		return
	}
	if err := s.cfg.Signaler.Connect(); err != nil {
		log.WithField("room", roomID).Warnf("send busy: %v", err)
		return
	}
	err := s.cfg.Signaler.Send(domain.Message{
		RoomID:   roomID,
		TargetID: callerID,
		Payload:  domain.CallBusy{BusyUserID: s.selfID},
	})
	if err != nil {
		log.WithField("room", roomID).Warnf("send busy: %v", err)
		return
	}
	log.WithField("room", roomID).Infof("replied busy to %s", callerID)
}

func (s *Session) onCallAccepted(domain.Message) {
	if s.status != StatusCalling || s.meta.Direction != domain.DirectionOutgoing {
		log.WithFields(s.fields()).Debugf("ignoring callAccepted")
		return
	}
	if err := s.openConnection(); err != nil {
		s.fail("connection", err)
		return
	}
	if err := s.setStatus(StatusConnecting, nil); err != nil {
		log.Errorf("call accepted: %v", err)
		return
	}

	offer, err := s.pcm.CreateOfferAndSetLocal()
	if err != nil {
		s.fail("negotiation", err)
		return
	}
	if err := s.send(domain.Offer{SDP: offer, SenderID: s.selfID}); err != nil {
		s.fail("signaling", err)
	}
}

func (s *Session) onCallRejected(domain.Message) {
	if s.status != StatusCalling && s.status != StatusRinging {
		return
	}
	if err := s.finish(StatusRejected, nil); err != nil {
		log.Errorf("call rejected: %v", err)
	}
}

func (s *Session) onOffer(m domain.Message) {
	p := m.Payload.(domain.Offer)
	switch {
	case s.status == StatusRinging:
		s.pending.offer = &p
		log.WithFields(s.fields()).Debugf("offer held until the call is accepted")
		return
	case s.status != StatusConnecting && s.status != StatusConnected:
		return
	case s.meta.Direction != domain.DirectionIncoming:
		log.WithFields(s.fields()).Warnf("ignoring offer on outgoing call")
		return
	}
	s.answer(p)
}

func (s *Session) answer(p domain.Offer) {
	if err := s.pcm.ApplyRemoteDescription(p.SDP); err != nil {
		s.fail("negotiation", err)
		return
	}
	answer, err := s.pcm.CreateAnswerAndSetLocal()
	if err != nil {
		s.fail("negotiation", err)
		return
	}
	if err := s.send(domain.Answer{SDP: answer, ResponderID: s.selfID}); err != nil {
		s.fail("signaling", err)
	}
}

func (s *Session) onAnswer(m domain.Message) {
	p := m.Payload.(domain.Answer)
	if s.status != StatusConnecting && s.status != StatusConnected {
		return
	}
	if s.meta.Direction != domain.DirectionOutgoing || s.pcm.SignalingState() != domain.SignalingHaveLocalOffer {
		log.WithFields(s.fields()).Warnf("ignoring unexpected answer")
		return
	}
	if err := s.pcm.ApplyRemoteDescription(p.SDP); err != nil {
		s.fail("negotiation", err)
	}
}

func (s *Session) onRemoteCandidate(m domain.Message) {
	p := m.Payload.(domain.RemoteCandidate)
	if !s.status.inCall() {
		return
	}
	if !s.pcm.HasHandle() {
		s.pending.candidates = append(s.pending.candidates, p.Candidate)
		return
	}
	if err := s.pcm.AddRemoteICECandidate(p.Candidate); err != nil {
		log.WithFields(s.fields()).Warnf("remote candidate: %v", err)
	}
}

func (s *Session) onCallEnded(m domain.Message) {
	if !s.status.inCall() {
		return
	}
	reason := m.Payload.(domain.CallEnded).Reason
	log.WithFields(s.fields()).Infof("remote hung up (%s)", reason)
	if err := s.finish(StatusEnded, nil); err != nil {
		log.Errorf("call ended: %v", err)
	}
}

func (s *Session) onCallBusy(domain.Message) {
	if s.status != StatusCalling {
		return
	}
	if err := s.finish(StatusBusy, nil); err != nil {
		log.Errorf("call busy: %v", err)
	}
}

// replayEarlyCandidates hands candidates that beat the connection to the
// manager, which holds them until the remote description is applied.
func (s *Session) replayEarlyCandidates() {
	candidates := s.pending.candidates
	s.pending.candidates = nil
	for _, c := range candidates {
		if err := s.pcm.AddRemoteICECandidate(c); err != nil {
			log.Warnf("replay candidate: %v", err)
		}
	}
}

func (s *Session) replayEarly() {
	if s.pending.offer == nil {
		return
	}
	offer := *s.pending.offer
	s.pending.offer = nil
	s.answer(offer)
}

func (s *Session) onLocalCandidate(c domain.ICECandidate) {
	if !s.status.inCall() || !s.pcm.HasHandle() {
		return
	}
	if err := s.send(domain.RemoteCandidate{Candidate: c, SenderID: s.selfID}); err != nil {
		log.WithFields(s.fields()).Warnf("send candidate: %v", err)
	}
}

func (s *Session) onConnectionState(state domain.ConnectionState) {
	switch state {
	case domain.ConnectionConnected, domain.ConnectionCompleted:
		if s.status != StatusConnecting {
			return
		}
		if err := s.setStatus(StatusConnected, func() { s.duration = 0 }); err != nil {
			log.Errorf("connected: %v", err)
			return
		}
		s.startTicker()
	case domain.ConnectionFailed, domain.ConnectionClosed:
		if s.status != StatusConnecting && s.status != StatusConnected {
			return
		}
		s.fail("connection "+string(state), fmt.Errorf("peer connection %s: %w", state, domain.ErrNegotiation))
	case domain.ConnectionDisconnected:
		log.WithFields(s.fields()).Warnf("peer connection disconnected, waiting for recovery")
	}
}

func (s *Session) onConnectionClosed() {
	if s.status != StatusConnecting && s.status != StatusConnected {
		return
	}
	s.fail("connection closed", fmt.Errorf("signaling state closed: %w", domain.ErrNegotiation))
}

func (s *Session) onQuality(q network.Quality) {
	s.mu.Lock()
	s.quality = q
	s.mu.Unlock()
	if s.status.Active() && q.Degraded() {
		log.WithFields(s.fields()).Warnf("network quality %s during call", q)
	}
	s.publish()
}

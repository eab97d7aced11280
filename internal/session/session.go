// Package session implements the call session: a single owner of call
// status, metadata, media controls and the peer connection, driven by local
// commands and signaling events through one dispatcher goroutine.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/OjDrez/tander-app-sub004/internal/metrics"
	"github.com/OjDrez/tander-app-sub004/internal/network"
	"github.com/OjDrez/tander-app-sub004/internal/webrtc"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var log = logrus.WithField("component", "session")

// QualitySource reports network quality changes to the session.
type QualitySource interface {
	Quality() network.Quality
	OnQualityChange(func(from, to network.Quality)) func()
}

// Config wires a Session to its collaborators.
type Config struct {
	Signaler    domain.Signaler
	Peers       domain.PeerFactory
	Media       domain.MediaSource // optional
	ICEServers  []domain.ICEServer
	DisplayName string

	// AutoReset returns ended, rejected, missed and busy sessions to idle
	// after the delay. Zero leaves the reset to the UI.
	AutoReset time.Duration
	// TickInterval is the duration counter period, one second by default.
	TickInterval time.Duration

	Network QualitySource      // optional
	Metrics *metrics.Collector // optional
}

// StartRequest describes an outgoing call.
type StartRequest struct {
	PeerUserID      string
	PeerDisplayName string
	Kind            domain.CallKind
	CallID          string
}

// Failure is published on the snapshot when a call ends because of an error.
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return f.Reason + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Snapshot is the read-only view of the session handed to UI surfaces.
// Streams are shared for rendering only and must never be stopped by readers.
type Snapshot struct {
	Status          Status
	Metadata        *domain.Metadata
	DurationSeconds int
	Controls        domain.Controls
	HasConnection   bool
	LocalStream     domain.MediaStream
	RemoteStream    domain.MediaStream
	ReturningToCall bool
	Network         network.Quality
	NetworkWarning  bool
	Failure         *Failure
}

// early holds messages that arrive before the connection exists.
type early struct {
	offer      *domain.Offer
	candidates []domain.ICECandidate
}

// Session is the process-wide call session. All mutations run on a single
// dispatcher goroutine; reads take a snapshot under a read lock.
type Session struct {
	cfg    Config
	selfID string
	pcm    *webrtc.Manager
	loop   *dispatcher
	busy   *rate.Limiter

	mu        sync.RWMutex
	status    Status
	meta      *domain.Metadata
	duration  int
	controls  domain.Controls
	returning bool
	quality   network.Quality
	failure   *Failure

	// Owned by the dispatcher goroutine.
	roomSubs []func()
	pending  early
	tickStop chan struct{}
	tickGen  uint64
	resetGen uint64

	globalSubs []func()

	obsMu     sync.Mutex
	observers map[uint64]func(Snapshot)
	nextObs   uint64

	closeOnce sync.Once
}

// New creates a session in idle and starts its dispatcher. It subscribes to
// incoming calls immediately.
func New(cfg Config) (*Session, error) {
	if cfg.Signaler == nil || cfg.Peers == nil {
		return nil, errors.New("session: signaler and peer factory are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	s := &Session{
		cfg:       cfg,
		selfID:    cfg.Signaler.SelfID(),
		loop:      newDispatcher(),
		busy:      rate.NewLimiter(rate.Every(time.Second), 3),
		status:    StatusIdle,
		controls:  domain.DefaultControls(),
		observers: make(map[uint64]func(Snapshot)),
	}
	s.pcm = webrtc.NewManager(cfg.Peers, webrtc.Events{
		OnICECandidate: func(c domain.ICECandidate) {
			s.post(func() { s.onLocalCandidate(c) })
		},
		OnConnectionStateChange: func(state domain.ConnectionState) {
			s.post(func() { s.onConnectionState(state) })
		},
		OnTrack: func(domain.MediaStream) {
			s.post(s.publish)
		},
		OnClosed: func() {
			s.post(s.onConnectionClosed)
		},
	})
	if cfg.Network != nil {
		s.quality = cfg.Network.Quality()
	}

	go s.loop.run()

	s.globalSubs = append(s.globalSubs, cfg.Signaler.Subscribe(domain.KindIncomingCall, func(m domain.Message) {
		s.post(func() { s.onIncomingCall(m) })
	}))
	if cfg.Network != nil {
		s.globalSubs = append(s.globalSubs, cfg.Network.OnQualityChange(func(_, to network.Quality) {
			s.post(func() { s.onQuality(to) })
		}))
	}
	return s, nil
}

// Observe registers fn to receive a snapshot after every change. fn runs on
// the dispatcher goroutine: it must not block and must not call session
// operations synchronously.
func (s *Session) Observe(fn func(Snapshot)) func() {
	s.obsMu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

// Snapshot returns the current read-only view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Status:          s.status,
		DurationSeconds: s.duration,
		Controls:        s.controls,
		ReturningToCall: s.returning,
		Network:         s.quality,
		Failure:         s.failure,
	}
	if s.meta != nil {
		meta := *s.meta
		snap.Metadata = &meta
	}
	s.mu.RUnlock()

	snap.HasConnection = s.pcm.HasHandle()
	snap.LocalStream = s.pcm.LocalStream()
	snap.RemoteStream = s.pcm.RemoteStream()
	snap.NetworkWarning = snap.Status.Active() && snap.Network.Degraded()
	return snap
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Returnable evaluates the returnability predicate against the live
// connection.
func (s *Session) Returnable() bool {
	return Returnable(s.Status(), s.pcm)
}

// HasActiveCall reports whether the status is neither idle nor terminal.
func (s *Session) HasActiveCall() bool {
	return s.Status().Active()
}

// StartCall places an outgoing call from idle.
func (s *Session) StartCall(req StartRequest) (domain.Metadata, error) {
	var meta domain.Metadata
	err := s.do(func() error {
		if s.status != StatusIdle {
			return fmt.Errorf("start call while %s: %w", s.status, domain.ErrInvalidTransition)
		}
		if req.PeerUserID == "" {
			return errors.New("start call: peer user id is required")
		}
		kind := req.Kind
		if kind == "" {
			kind = domain.CallKindAudio
		}
		if kind != domain.CallKindAudio && kind != domain.CallKindVideo {
			return fmt.Errorf("start call: unknown call kind %q", kind)
		}

		if err := s.cfg.Signaler.Connect(); err != nil {
			return fmt.Errorf("start call: %w", err)
		}

		meta = domain.Metadata{
			RoomID:          uuid.NewString(),
			CallID:          req.CallID,
			PeerUserID:      req.PeerUserID,
			PeerDisplayName: req.PeerDisplayName,
			CallKind:        kind,
			Direction:       domain.DirectionOutgoing,
			StartedAt:       time.Now(),
		}
		current := meta
		s.subscribeRoom(meta.RoomID)
		if err := s.setStatus(StatusCalling, func() {
			s.meta = &current
			s.failure = nil
		}); err != nil {
			return err
		}
		s.cfg.Metrics.CallStarted(string(domain.DirectionOutgoing))

		if err := s.send(domain.IncomingCall{
			CallerID:   s.selfID,
			CallerName: s.cfg.DisplayName,
			CallKind:   kind,
			CallID:     req.CallID,
		}); err != nil {
			s.fail("signaling", err)
			return err
		}
		return nil
	})
	return meta, err
}

// AcceptCall answers the ringing call: the connection is created, the
// caller is told, and any offer that arrived early is answered.
func (s *Session) AcceptCall() error {
	return s.do(func() error {
		if s.status != StatusRinging {
			return fmt.Errorf("accept call while %s: %w", s.status, domain.ErrInvalidTransition)
		}
		if err := s.cfg.Signaler.Connect(); err != nil {
			s.fail("signaling", err)
			return err
		}
		if err := s.openConnection(); err != nil {
			s.fail("connection", err)
			return err
		}
		if err := s.setStatus(StatusConnecting, nil); err != nil {
			return err
		}
		if err := s.send(domain.CallAccepted{AcceptedBy: s.selfID}); err != nil {
			s.fail("signaling", err)
			return err
		}
		s.replayEarly()
		return nil
	})
}

// RejectCall declines the ringing call.
func (s *Session) RejectCall() error {
	return s.do(func() error {
		if s.status != StatusRinging {
			return fmt.Errorf("reject call while %s: %w", s.status, domain.ErrInvalidTransition)
		}
		if err := s.send(domain.CallRejected{RejectedBy: s.selfID, Reason: "declined"}); err != nil {
			log.WithFields(s.fields()).Warnf("send reject: %v", err)
		}
		return s.finish(StatusRejected, nil)
	})
}

// EndCall hangs up any in-progress call. A busy session is cleared to idle.
func (s *Session) EndCall() error {
	return s.do(func() error {
		switch {
		case s.status.inCall():
			if err := s.send(domain.CallEnded{EndedBy: s.selfID, Reason: "hangup"}); err != nil {
				log.WithFields(s.fields()).Warnf("send hangup: %v", err)
			}
			return s.finish(StatusEnded, nil)
		case s.status == StatusBusy:
			s.resetToIdle()
			return nil
		}
		return fmt.Errorf("end call while %s: %w", s.status, domain.ErrNoActiveCall)
	})
}

// MarkMissed moves a ringing call in roomID to missed. It is called by the
// timeout collaborator when ringing expires.
func (s *Session) MarkMissed(roomID string) error {
	return s.do(func() error {
		if s.status != StatusRinging || s.meta == nil || s.meta.RoomID != roomID {
			return fmt.Errorf("mark missed for room %s: %w", roomID, domain.ErrNoActiveCall)
		}
		if err := s.send(domain.CallEnded{EndedBy: s.selfID, Reason: "missed"}); err != nil {
			log.WithFields(s.fields()).Warnf("send missed: %v", err)
		}
		return s.finish(StatusMissed, nil)
	})
}

// Expire abandons an in-progress call in roomID that exceeded a timeout
// policy. The call ends with a timeout failure.
func (s *Session) Expire(roomID, reason string) error {
	return s.do(func() error {
		if !s.status.inCall() || s.meta == nil || s.meta.RoomID != roomID {
			return fmt.Errorf("expire room %s: %w", roomID, domain.ErrNoActiveCall)
		}
		if err := s.send(domain.CallEnded{EndedBy: s.selfID, Reason: reason}); err != nil {
			log.WithFields(s.fields()).Warnf("send timeout hangup: %v", err)
		}
		s.cfg.Metrics.CallFailed(reason)
		return s.finish(StatusEnded, &Failure{Reason: reason, Err: domain.ErrCallTimeout})
	})
}

// ToggleMute flips the microphone and returns the new muted state.
func (s *Session) ToggleMute() (bool, error) {
	var muted bool
	err := s.do(func() error {
		s.mu.Lock()
		s.controls.Muted = !s.controls.Muted
		muted = s.controls.Muted
		s.mu.Unlock()
		s.enableTracks(domain.TrackAudio, !muted)
		s.publish()
		return nil
	})
	return muted, err
}

// ToggleCamera flips the camera and returns whether it is now enabled.
func (s *Session) ToggleCamera() (bool, error) {
	var enabled bool
	err := s.do(func() error {
		s.mu.Lock()
		s.controls.CameraEnabled = !s.controls.CameraEnabled
		enabled = s.controls.CameraEnabled
		s.mu.Unlock()
		s.enableTracks(domain.TrackVideo, enabled)
		s.publish()
		return nil
	})
	return enabled, err
}

// ToggleSpeaker flips loudspeaker routing. Routing itself belongs to the
// platform audio layer reading the snapshot.
func (s *Session) ToggleSpeaker() (bool, error) {
	var enabled bool
	err := s.do(func() error {
		s.mu.Lock()
		s.controls.SpeakerEnabled = !s.controls.SpeakerEnabled
		enabled = s.controls.SpeakerEnabled
		s.mu.Unlock()
		s.publish()
		return nil
	})
	return enabled, err
}

// Reset tears everything down and returns to idle.
func (s *Session) Reset() error {
	return s.do(func() error {
		s.resetToIdle()
		return nil
	})
}

// ForceReset is Reset for sessions found in an inconsistent state.
func (s *Session) ForceReset(reason string) error {
	return s.do(func() error {
		if s.status == StatusIdle {
			return nil
		}
		if s.status == StatusBusy {
			log.WithFields(s.fields()).Infof("reset busy session: %s", reason)
		} else {
			log.WithFields(s.fields()).Warnf("forced reset: %s", reason)
			s.cfg.Metrics.StaleReset()
		}
		s.resetToIdle()
		return nil
	})
}

// SetReturningToCall marks that the UI is re-entering the current call.
func (s *Session) SetReturningToCall(v bool) error {
	return s.do(func() error {
		s.mu.Lock()
		s.returning = v
		s.mu.Unlock()
		s.publish()
		return nil
	})
}

// ConsumeReturningToCall reports and clears the returning flag. Call screens
// use it on entry to skip outbound signaling when rejoining.
func (s *Session) ConsumeReturningToCall() bool {
	var v bool
	_ = s.do(func() error {
		s.mu.Lock()
		v = s.returning
		s.returning = false
		s.mu.Unlock()
		if v {
			s.publish()
		}
		return nil
	})
	return v
}

// Close hangs up, releases every resource and stops the dispatcher.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.do(func() error {
			if s.status.inCall() {
				if err := s.send(domain.CallEnded{EndedBy: s.selfID, Reason: "shutdown"}); err != nil {
					log.Debugf("send shutdown hangup: %v", err)
				}
			}
			s.resetToIdle()
			return nil
		})
		for _, unsub := range s.globalSubs {
			unsub()
		}
		s.loop.stop()
		log.Infof("session closed")
	})
}

func (s *Session) post(fn func()) {
	if !s.loop.post(fn) {
		log.Debugf("session closed, event dropped")
	}
}

// do runs fn on the dispatcher and waits for its result.
func (s *Session) do(fn func() error) error {
	res := make(chan error, 1)
	if !s.loop.post(func() { res <- fn() }) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-res:
		return err
	case <-s.loop.done:
		select {
		case err := <-res:
			return err
		default:
			return domain.ErrSessionClosed
		}
	}
}

func (s *Session) setStatus(to Status, mutate func()) error {
	from := s.status
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	s.mu.Lock()
	s.status = to
	if mutate != nil {
		mutate()
	}
	s.mu.Unlock()

	log.WithFields(s.fields()).Infof("%s -> %s", from, to)
	s.cfg.Metrics.StatusChanged(string(from), string(to))
	s.publish()
	return nil
}

// finish releases every call resource and then enters a final status, so
// observers never see a final status with resources still held.
func (s *Session) finish(to Status, failure *Failure) error {
	if !CanTransition(s.status, to) {
		return fmt.Errorf("%s -> %s: %w", s.status, to, domain.ErrInvalidTransition)
	}
	s.teardown()
	if err := s.setStatus(to, func() {
		s.failure = failure
		s.controls = domain.DefaultControls()
	}); err != nil {
		return err
	}
	s.cfg.Metrics.CallFinished(string(to))
	s.scheduleAutoReset()
	return nil
}

func (s *Session) fail(reason string, err error) {
	log.WithFields(s.fields()).Errorf("call failed (%s): %v", reason, err)
	s.cfg.Metrics.CallFailed(reason)
	if !s.status.inCall() {
		return
	}
	if ferr := s.finish(StatusEnded, &Failure{Reason: reason, Err: err}); ferr != nil {
		log.Errorf("end failed call: %v", ferr)
	}
}

func (s *Session) resetToIdle() {
	s.resetGen++
	if s.status == StatusIdle {
		return
	}
	s.teardown()
	_ = s.setStatus(StatusIdle, func() {
		s.meta = nil
		s.duration = 0
		s.controls = domain.DefaultControls()
		s.returning = false
		s.failure = nil
	})
}

func (s *Session) teardown() {
	for _, unsub := range s.roomSubs {
		unsub()
	}
	s.roomSubs = nil
	s.pending = early{}
	s.stopTicker()
	s.pcm.Close()
}

func (s *Session) scheduleAutoReset() {
	if s.cfg.AutoReset <= 0 {
		return
	}
	s.resetGen++
	gen := s.resetGen
	time.AfterFunc(s.cfg.AutoReset, func() {
		s.post(func() {
			if gen != s.resetGen {
				return
			}
			if s.status.Terminal() || s.status == StatusBusy {
				log.WithFields(s.fields()).Debugf("auto reset")
				s.resetToIdle()
			}
		})
	})
}

func (s *Session) openConnection() error {
	var local domain.MediaStream
	if s.cfg.Media != nil {
		stream, err := s.cfg.Media.Open(s.meta.CallKind)
		if err != nil {
			return fmt.Errorf("open local media: %w: %v", domain.ErrConnectionInit, err)
		}
		local = stream
		s.mu.RLock()
		controls := s.controls
		s.mu.RUnlock()
		for _, t := range local.Tracks() {
			switch t.Kind() {
			case domain.TrackAudio:
				t.SetEnabled(!controls.Muted)
			case domain.TrackVideo:
				t.SetEnabled(controls.CameraEnabled)
			}
		}
	}
	err := s.pcm.Create(domain.PeerConfig{
		ICEServers: s.cfg.ICEServers,
		CallKind:   s.meta.CallKind,
		Local:      local,
	})
	if err != nil {
		return err
	}
	s.replayEarlyCandidates()
	return nil
}

func (s *Session) enableTracks(kind domain.TrackKind, enabled bool) {
	stream := s.pcm.LocalStream()
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (s *Session) send(p domain.Payload) error {
	return s.cfg.Signaler.Send(domain.Message{
		RoomID:   s.meta.RoomID,
		TargetID: s.meta.PeerUserID,
		Payload:  p,
	})
}

func (s *Session) publish() {
	snap := s.Snapshot()
	s.obsMu.Lock()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}

func (s *Session) fields() logrus.Fields {
	f := logrus.Fields{"status": s.status}
	if s.meta != nil {
		f["room"] = s.meta.RoomID
	}
	return f
}

func (s *Session) startTicker() {
	if s.tickStop != nil {
		return
	}
	s.tickGen++
	gen := s.tickGen
	stop := make(chan struct{})
	s.tickStop = stop
	interval := s.cfg.TickInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.post(func() { s.tick(gen) })
			}
		}
	}()
}

func (s *Session) stopTicker() {
	if s.tickStop == nil {
		return
	}
	close(s.tickStop)
	s.tickStop = nil
	s.tickGen++
}

func (s *Session) tick(gen uint64) {
	if gen != s.tickGen || s.status != StatusConnected {
		return
	}
	s.mu.Lock()
	s.duration++
	s.mu.Unlock()
	s.publish()
}

// Package timeout expires calls that ring or dial for too long.
package timeout

import (
	"sync"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/session"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "timeout")

// Policy holds the expiry durations. Zero disables a timeout.
type Policy struct {
	// Ring bounds an unanswered incoming call before it is marked missed.
	Ring time.Duration
	// Dial bounds an outgoing call from calling until connected, and an
	// accepted incoming call until connected.
	Dial time.Duration
}

// Session is what the watchdog observes and acts on.
type Session interface {
	Observe(func(session.Snapshot)) (unsubscribe func())
	MarkMissed(roomID string) error
	Expire(roomID, reason string) error
}

type phase string

const (
	phaseNone phase = ""
	phaseRing phase = "ring"
	phaseDial phase = "dial"
)

// Watchdog runs one timer per call phase. A phase is identified by room
// and phase, so calling -> connecting keeps the same dial timer.
type Watchdog struct {
	sess   Session
	policy Policy

	mu    sync.Mutex
	room  string
	phase phase
	timer *time.Timer
	gen   uint64
	unsub func()
}

func New(sess Session, policy Policy) *Watchdog {
	return &Watchdog{sess: sess, policy: policy}
}

func (w *Watchdog) Start() {
	unsub := w.sess.Observe(w.observe)
	w.mu.Lock()
	w.unsub = unsub
	w.mu.Unlock()
}

func (w *Watchdog) Stop() {
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.cancelLocked()
	w.room, w.phase = "", phaseNone
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func phaseOf(s session.Status) phase {
	switch s {
	case session.StatusRinging:
		return phaseRing
	case session.StatusCalling, session.StatusConnecting:
		return phaseDial
	}
	return phaseNone
}

func (w *Watchdog) observe(snap session.Snapshot) {
	p := phaseOf(snap.Status)
	room := ""
	if snap.Metadata != nil {
		room = snap.Metadata.RoomID
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if room == w.room && p == w.phase {
		return
	}
	w.cancelLocked()
	w.room, w.phase = room, p

	var d time.Duration
	switch p {
	case phaseRing:
		d = w.policy.Ring
	case phaseDial:
		d = w.policy.Dial
	}
	if d <= 0 || room == "" {
		return
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(d, func() { w.fire(gen, room, p) })
}

func (w *Watchdog) fire(gen uint64, room string, p phase) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	var err error
	switch p {
	case phaseRing:
		log.WithField("room", room).Infof("ring timeout after %s", w.policy.Ring)
		err = w.sess.MarkMissed(room)
	case phaseDial:
		log.WithField("room", room).Infof("dial timeout after %s", w.policy.Dial)
		err = w.sess.Expire(room, "dial timeout")
	}
	if err != nil {
		log.WithField("room", room).Debugf("timeout no longer applies: %v", err)
	}
}

func (w *Watchdog) cancelLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}

// Package reconcile clears call sessions that claim an active call but can
// no longer be returned to.
package reconcile

import (
	"sync"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/session"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "reconcile")

// DefaultGrace absorbs snapshots published mid-transition.
const DefaultGrace = 1500 * time.Millisecond

// Session is the part of the call session the reconciler needs.
type Session interface {
	Observe(func(session.Snapshot)) (unsubscribe func())
	Status() session.Status
	HasActiveCall() bool
	Returnable() bool
	ForceReset(reason string) error
}

// Reconciler re-evaluates the session on every published change. When a
// session reports an active call that is not returnable, it waits out the
// grace period and forces a reset if nothing recovered.
type Reconciler struct {
	sess  Session
	grace time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	unsub   func()
	stopped bool
}

func New(sess Session, grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reconciler{sess: sess, grace: grace}
}

// Start subscribes to the session and checks its current state once.
func (r *Reconciler) Start() {
	unsub := r.sess.Observe(func(session.Snapshot) { r.check() })
	r.mu.Lock()
	r.unsub = unsub
	r.stopped = false
	r.mu.Unlock()
	r.check()
}

// Stop unsubscribes and cancels a pending grace timer.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.stopped = true
	r.cancelLocked()
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// stale reports an active call that cannot be returned to. Busy is an
// outcome, not a stale call: auto-reset or the UI clears it.
func stale(s Session) bool {
	return s.HasActiveCall() && !s.Returnable() && s.Status() != session.StatusBusy
}

func (r *Reconciler) check() {
	isStale := stale(r.sess)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if !isStale {
		if r.timer != nil {
			log.Debugf("session recovered within grace period")
		}
		r.cancelLocked()
		return
	}
	if r.timer != nil {
		return
	}
	r.gen++
	gen := r.gen
	log.Debugf("session looks stale, re-checking in %s", r.grace)
	r.timer = time.AfterFunc(r.grace, func() { r.expire(gen) })
}

func (r *Reconciler) expire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.stopped {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	if !stale(r.sess) {
		return
	}
	log.Warnf("active session without a live connection after %s, resetting", r.grace)
	if err := r.sess.ForceReset("stale session"); err != nil {
		log.Errorf("force reset: %v", err)
	}
}

func (r *Reconciler) cancelLocked() {
	if r.timer == nil {
		return
	}
	r.timer.Stop()
	r.timer = nil
	r.gen++
}

// Package navigation lets any UI surface send the user back into an
// in-progress call.
package navigation

import (
	"fmt"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/OjDrez/tander-app-sub004/internal/session"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "navigation")

// Call screen identifiers.
const (
	ScreenAudioCall = "AudioCall"
	ScreenVideoCall = "VideoCall"
)

// Destination is a screen plus the parameters needed to re-enter it.
type Destination struct {
	Screen string
	Params map[string]string
}

// Session is the part of the call session the controller reads and flags.
type Session interface {
	Snapshot() session.Snapshot
	Returnable() bool
	SetReturningToCall(bool) error
}

// Controller computes where the current call lives and navigates there.
type Controller struct {
	sess Session
	nav  domain.Navigator
}

func NewController(sess Session, nav domain.Navigator) *Controller {
	return &Controller{sess: sess, nav: nav}
}

// DestinationFor maps call metadata to its screen and parameters.
func DestinationFor(meta domain.Metadata) Destination {
	screen := ScreenAudioCall
	if meta.CallKind == domain.CallKindVideo {
		screen = ScreenVideoCall
	}
	params := map[string]string{
		"roomId":          meta.RoomID,
		"peerUserId":      meta.PeerUserID,
		"peerDisplayName": meta.PeerDisplayName,
		"callKind":        string(meta.CallKind),
		"direction":       string(meta.Direction),
		"returning":       "true",
	}
	if meta.CallID != "" {
		params["callId"] = meta.CallID
	}
	return Destination{Screen: screen, Params: params}
}

// ReturnToCall sets the session's returning flag and navigates to the
// current call's screen. It fails with ErrNotReturnable when there is no
// call the UI can rejoin.
func (c *Controller) ReturnToCall() (Destination, error) {
	snap := c.sess.Snapshot()
	if snap.Metadata == nil || !c.sess.Returnable() {
		return Destination{}, fmt.Errorf("return to call while %s: %w", snap.Status, domain.ErrNotReturnable)
	}

	dest := DestinationFor(*snap.Metadata)
	if err := c.sess.SetReturningToCall(true); err != nil {
		return Destination{}, fmt.Errorf("flag returning: %w", err)
	}
	if err := c.nav.Navigate(dest.Screen, dest.Params); err != nil {
		if rerr := c.sess.SetReturningToCall(false); rerr != nil {
			log.Warnf("clear returning flag: %v", rerr)
		}
		return Destination{}, fmt.Errorf("navigate to %s: %w", dest.Screen, err)
	}
	log.WithField("room", snap.Metadata.RoomID).Infof("returned to %s", dest.Screen)
	return dest, nil
}

// LogNavigator is a Navigator for headless clients: it only logs.
type LogNavigator struct{}

func (LogNavigator) Navigate(screen string, params map[string]string) error {
	log.WithFields(logrus.Fields{"screen": screen, "room": params["roomId"]}).Infof("navigate")
	return nil
}

package navigation

import (
	"errors"
	"testing"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/OjDrez/tander-app-sub004/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	snap       session.Snapshot
	returnable bool
	returning  []bool
}

func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }
func (f *fakeSession) Returnable() bool           { return f.returnable }
func (f *fakeSession) SetReturningToCall(v bool) error {
	f.returning = append(f.returning, v)
	return nil
}

type fakeNavigator struct {
	screen string
	params map[string]string
	err    error
}

func (n *fakeNavigator) Navigate(screen string, params map[string]string) error {
	n.screen = screen
	n.params = params
	return n.err
}

func videoCall() *domain.Metadata {
	return &domain.Metadata{
		RoomID:          "room-1",
		CallID:          "call-9",
		PeerUserID:      "bob",
		PeerDisplayName: "Bob",
		CallKind:        domain.CallKindVideo,
		Direction:       domain.DirectionOutgoing,
	}
}

func TestReturnToVideoCall(t *testing.T) {
	s := &fakeSession{snap: session.Snapshot{Status: session.StatusConnected, Metadata: videoCall()}, returnable: true}
	nav := &fakeNavigator{}

	dest, err := NewController(s, nav).ReturnToCall()
	require.NoError(t, err)
	assert.Equal(t, ScreenVideoCall, dest.Screen)
	assert.Equal(t, ScreenVideoCall, nav.screen)
	assert.Equal(t, map[string]string{
		"roomId":          "room-1",
		"callId":          "call-9",
		"peerUserId":      "bob",
		"peerDisplayName": "Bob",
		"callKind":        "video",
		"direction":       "outgoing",
		"returning":       "true",
	}, nav.params)
	assert.Equal(t, []bool{true}, s.returning, "flag is set before navigating")
}

func TestAudioCallDestination(t *testing.T) {
	dest := DestinationFor(domain.Metadata{RoomID: "r", CallKind: domain.CallKindAudio, Direction: domain.DirectionIncoming})
	assert.Equal(t, ScreenAudioCall, dest.Screen)
	_, hasCallID := dest.Params["callId"]
	assert.False(t, hasCallID)
}

func TestReturnToCallNotReturnable(t *testing.T) {
	tests := []struct {
		name string
		s    *fakeSession
	}{
		{"idle", &fakeSession{snap: session.Snapshot{Status: session.StatusIdle}, returnable: false}},
		{"dead connection", &fakeSession{snap: session.Snapshot{Status: session.StatusConnecting, Metadata: videoCall()}}},
		{"ended", &fakeSession{snap: session.Snapshot{Status: session.StatusEnded, Metadata: videoCall()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := &fakeNavigator{}
			_, err := NewController(tt.s, nav).ReturnToCall()
			assert.ErrorIs(t, err, domain.ErrNotReturnable)
			assert.Empty(t, nav.screen)
			assert.Empty(t, tt.s.returning)
		})
	}
}

func TestNavigationFailureClearsFlag(t *testing.T) {
	s := &fakeSession{snap: session.Snapshot{Status: session.StatusRinging, Metadata: videoCall()}, returnable: true}
	nav := &fakeNavigator{err: errors.New("no such screen")}

	_, err := NewController(s, nav).ReturnToCall()
	require.Error(t, err)
	assert.Equal(t, []bool{true, false}, s.returning)
}

func TestLogNavigator(t *testing.T) {
	assert.NoError(t, LogNavigator{}.Navigate(ScreenAudioCall, map[string]string{"roomId": "r"}))
}

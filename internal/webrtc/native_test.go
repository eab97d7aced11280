package webrtc

import (
	"sync"
	"testing"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateMapping(t *testing.T) {
	tests := []struct {
		in   pion.PeerConnectionState
		want domain.ConnectionState
	}{
		{pion.PeerConnectionStateNew, domain.ConnectionNew},
		{pion.PeerConnectionStateConnecting, domain.ConnectionConnecting},
		{pion.PeerConnectionStateConnected, domain.ConnectionConnected},
		{pion.PeerConnectionStateDisconnected, domain.ConnectionDisconnected},
		{pion.PeerConnectionStateFailed, domain.ConnectionFailed},
		{pion.PeerConnectionStateClosed, domain.ConnectionClosed},
		{pion.PeerConnectionStateUnknown, domain.ConnectionNew},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, connectionState(tt.in))
		})
	}
}

func TestSignalingStateMapping(t *testing.T) {
	tests := []struct {
		in   pion.SignalingState
		want domain.SignalingState
	}{
		{pion.SignalingStateStable, domain.SignalingStable},
		{pion.SignalingStateHaveLocalOffer, domain.SignalingHaveLocalOffer},
		{pion.SignalingStateHaveRemoteOffer, domain.SignalingHaveRemoteOffer},
		{pion.SignalingStateHaveLocalPranswer, domain.SignalingHaveLocalPranswer},
		{pion.SignalingStateHaveRemotePranswer, domain.SignalingHaveRemotePranswer},
		{pion.SignalingStateClosed, domain.SignalingClosed},
		{pion.SignalingStateUnknown, domain.SignalingStable},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, signalingState(tt.in))
		})
	}
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"))
	assert.True(t, isLoopback("candidate:1 1 udp 2130706431 ::1 50000 typ host"))
	assert.False(t, isLoopback("candidate:1 1 udp 2130706431 192.168.1.20 50000 typ host"))
}

func TestAddICECandidateRejectsOutOfRangeIndex(t *testing.T) {
	f, err := NewFactory(nil)
	require.NoError(t, err)
	p, err := f.NewPeer(domain.PeerConfig{CallKind: domain.CallKindAudio})
	require.NoError(t, err)
	defer p.Close()

	for _, idx := range []int{-1, 65536} {
		err := p.AddICECandidate(domain.ICECandidate{
			Candidate:     "candidate:1 1 udp 2130706431 192.168.1.20 50000 typ host",
			SDPMLineIndex: idx,
		})
		assert.ErrorIs(t, err, domain.ErrNegotiation, "index %d", idx)
	}
}

// stateLog records connection states reported by one manager.
type stateLog struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (l *stateLog) add(s domain.ConnectionState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConnectionState(nil), l.states...)
}

func (l *stateLog) has(s domain.ConnectionState) bool {
	for _, got := range l.snapshot() {
		if got == s {
			return true
		}
	}
	return false
}

func TestLoopbackNegotiation(t *testing.T) {
	factory, err := NewFactory(nil)
	require.NoError(t, err)

	var callerStates, calleeStates stateLog
	var caller, callee *Manager
	caller = NewManager(factory, Events{
		OnICECandidate:          func(c domain.ICECandidate) { go func() { _ = callee.AddRemoteICECandidate(c) }() },
		OnConnectionStateChange: callerStates.add,
	})
	callee = NewManager(factory, Events{
		OnICECandidate:          func(c domain.ICECandidate) { go func() { _ = caller.AddRemoteICECandidate(c) }() },
		OnConnectionStateChange: calleeStates.add,
	})
	defer caller.Close()
	defer callee.Close()

	local, err := SampleSource{}.Open(domain.CallKindAudio)
	require.NoError(t, err)
	require.NoError(t, caller.Create(domain.PeerConfig{CallKind: domain.CallKindAudio, Local: local}))
	require.NoError(t, callee.Create(domain.PeerConfig{CallKind: domain.CallKindAudio}))

	offer, err := caller.CreateOfferAndSetLocal()
	require.NoError(t, err)
	assert.Equal(t, domain.SignalingHaveLocalOffer, caller.SignalingState())

	require.NoError(t, callee.ApplyRemoteDescription(offer))
	answer, err := callee.CreateAnswerAndSetLocal()
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteDescription(answer))

	require.Eventually(t, func() bool {
		return callerStates.has(domain.ConnectionConnected) && calleeStates.has(domain.ConnectionConnected)
	}, 15*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.SignalingStable, caller.SignalingState())
	assert.Equal(t, domain.SignalingStable, callee.SignalingState())

	caller.Close()
	seen := len(callerStates.snapshot())
	assert.False(t, caller.HasHandle())
	assert.Equal(t, domain.SignalingClosed, caller.SignalingState())

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, callerStates.snapshot(), seen, "a detached peer reports no further events")
}

package webrtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// errTrackStopped is returned when writing to a stopped local track.
var errTrackStopped = errors.New("track stopped")

// Stream is a fixed set of tracks.
type Stream struct {
	id     string
	tracks []domain.MediaTrack
}

func (s *Stream) ID() string                  { return s.id }
func (s *Stream) Tracks() []domain.MediaTrack { return s.tracks }

// RemoteStream collects remote tracks as they arrive.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []domain.MediaTrack
}

func newRemoteStream() *RemoteStream {
	return &RemoteStream{id: uuid.NewString()}
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Tracks() []domain.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) add(t domain.MediaTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// SampleTrack is a local track fed by the external capture pipeline. Samples
// written while the track is disabled are dropped.
type SampleTrack struct {
	track   *pion.TrackLocalStaticSample
	kind    domain.TrackKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newSampleTrack(kind domain.TrackKind, mimeType, streamID string) (*SampleTrack, error) {
	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: mimeType},
		uuid.NewString(),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &SampleTrack{track: track, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *SampleTrack) ID() string                  { return t.track.ID() }
func (t *SampleTrack) Kind() domain.TrackKind      { return t.kind }
func (t *SampleTrack) Enabled() bool               { return t.enabled.Load() }
func (t *SampleTrack) SetEnabled(enabled bool)     { t.enabled.Store(enabled) }
func (t *SampleTrack) TrackLocal() pion.TrackLocal { return t.track }

// Stop marks the track stopped; later writes fail. Stopping twice is a no-op.
func (t *SampleTrack) Stop() error {
	t.stopped.Store(true)
	return nil
}

// WriteSample forwards one encoded sample to the peer connection.
func (t *SampleTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return errTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// SampleSource opens Opus (and VP8 for video calls) sample tracks.
type SampleSource struct{}

// Open creates the local stream for a call of the given kind.
func (SampleSource) Open(kind domain.CallKind) (domain.MediaStream, error) {
	streamID := uuid.NewString()
	audio, err := newSampleTrack(domain.TrackAudio, pion.MimeTypeOpus, streamID)
	if err != nil {
		return nil, err
	}
	s := &Stream{id: streamID, tracks: []domain.MediaTrack{audio}}

	if kind == domain.CallKindVideo {
		video, err := newSampleTrack(domain.TrackVideo, pion.MimeTypeVP8, streamID)
		if err != nil {
			_ = audio.Stop()
			return nil, err
		}
		s.tracks = append(s.tracks, video)
	}
	return s, nil
}

// remoteTrack wraps a pion TrackRemote. Stop halts its receiver.
type remoteTrack struct {
	track    *pion.TrackRemote
	receiver *pion.RTPReceiver
	enabled  atomic.Bool
	once     sync.Once
	err      error
}

func newRemoteTrack(track *pion.TrackRemote, receiver *pion.RTPReceiver) *remoteTrack {
	t := &remoteTrack{track: track, receiver: receiver}
	t.enabled.Store(true)
	return t
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() domain.TrackKind {
	if t.track.Kind() == pion.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

func (t *remoteTrack) Enabled() bool           { return t.enabled.Load() }
func (t *remoteTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *remoteTrack) Stop() error {
	t.once.Do(func() {
		t.err = t.receiver.Stop()
	})
	return t.err
}

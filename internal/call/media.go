package call

import (
	"context"
	"sync"
)

// TrackKind distinguishes local media track types.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one local capture track. Real tracks wrap pion/mediadevices
// capture tracks; tests use fakes. Only LocalMedia may call Stop — links
// borrow tracks and must never release the hardware themselves.
type Track interface {
	ID() string
	Kind() TrackKind
	SetEnabled(on bool)
	Enabled() bool
	Stop() error
}

// Capturer acquires local media with explicit constraints (echo
// cancellation / noise suppression for audio, capped resolution for video).
// Acquisition failure is a first-class, session-fatal error path.
type Capturer interface {
	Acquire(ctx context.Context, withVideo bool) (*LocalMedia, error)
}

// LocalMedia owns the local capture tracks for one call session. The same
// instance is shared across every peer link in a group call — links attach
// references, they never duplicate or stop tracks. Stop releases the
// hardware exactly once no matter how many teardown paths race to it.
type LocalMedia struct {
	mu     sync.Mutex
	tracks []Track
	once   sync.Once
}

// NewLocalMedia wraps acquired tracks.
func NewLocalMedia(tracks []Track) *LocalMedia {
	return &LocalMedia{tracks: tracks}
}

// Tracks returns the track references for attaching to a link.
func (m *LocalMedia) Tracks() []Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Track, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// SetEnabled flips enablement for all tracks of the given kind and reports
// whether any track matched. Immediate and synchronous — no renegotiation.
func (m *LocalMedia) SetEnabled(kind TrackKind, on bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, t := range m.tracks {
		if t.Kind() == kind {
			t.SetEnabled(on)
			found = true
		}
	}
	return found
}

// Enabled reports whether any track of the given kind is currently enabled.
func (m *LocalMedia) Enabled(kind TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

// Stop releases all capture hardware. Idempotent.
func (m *LocalMedia) Stop() {
	m.once.Do(func() {
		m.mu.Lock()
		tracks := m.tracks
		m.mu.Unlock()
		for _, t := range tracks {
			if err := t.Stop(); err != nil {
				log.Warnf("stopping local %s track %s: %v", t.Kind(), t.ID(), err)
			}
		}
	})
}

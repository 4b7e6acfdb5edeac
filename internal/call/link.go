package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Link is one negotiated peer-to-peer connection to a single remote
// participant. Exactly one link exists per (callID, remoteID) pair at a time.
//
// ICE candidates may arrive before the remote description — the transport
// guarantees no ordering between signaling delivery and ICE events. Early
// candidates are buffered and flushed in original arrival order once the
// remote description is applied; they are never dropped or applied early.
type Link struct {
	callID   string
	remoteID string
	conn     Conn

	mu            sync.Mutex
	state         LinkState
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	remoteTracks  []RemoteTrack
	closed        bool
}

func newLink(callID, remoteID string, conn Conn) *Link {
	return &Link{
		callID:   callID,
		remoteID: remoteID,
		conn:     conn,
		state:    LinkNew,
	}
}

// RemoteID returns the remote participant identifier.
func (l *Link) RemoteID() string { return l.remoteID }

// State returns the last observed connection state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RemoteTracks returns the inbound tracks received so far.
func (l *Link) RemoteTracks() []RemoteTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RemoteTrack, len(l.remoteTracks))
	copy(out, l.remoteTracks)
	return out
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Link) addRemoteTrack(t RemoteTrack) {
	l.mu.Lock()
	l.remoteTracks = append(l.remoteTracks, t)
	l.mu.Unlock()
}

// ApplyRemoteDescription sets the remote description and, on the first
// application, flushes buffered candidates in arrival order.
func (l *Link) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.closed || l.state.Terminal() {
		l.mu.Unlock()
		return ErrSessionEnded
	}
	first := !l.remoteDescSet
	l.mu.Unlock()

	if err := l.conn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", ErrNegotiation, desc.Type, err)
	}

	l.mu.Lock()
	l.remoteDescSet = true
	var flush []webrtc.ICECandidateInit
	if first {
		flush = l.pending
		l.pending = nil
	}
	l.mu.Unlock()

	for _, cand := range flush {
		if err := l.conn.AddICECandidate(cand); err != nil {
			log.Warnf("call %s: buffered candidate for %s rejected: %v", l.callID, l.remoteID, err)
		}
	}
	if len(flush) > 0 {
		log.Debugf("call %s: flushed %d buffered candidates for %s", l.callID, len(flush), l.remoteID)
	}
	return nil
}

// AddRemoteCandidate applies a candidate immediately when the remote
// description is set, or buffers it otherwise. Candidates for a link in a
// terminal state are dropped; duplicate or malformed candidates are
// swallowed with a warning — never fatal.
func (l *Link) AddRemoteCandidate(cand webrtc.ICECandidateInit) {
	l.mu.Lock()
	if l.closed || l.state.Terminal() {
		l.mu.Unlock()
		return
	}
	if !l.remoteDescSet {
		l.pending = append(l.pending, cand)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.conn.AddICECandidate(cand); err != nil {
		log.Warnf("call %s: candidate for %s rejected: %v", l.callID, l.remoteID, err)
	}
}

// Teardown closes the native connection and marks the link closed.
// Idempotent. Local tracks are borrowed and left untouched — the owning
// session releases the hardware.
func (l *Link) Teardown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.state = LinkClosed
	l.pending = nil
	l.mu.Unlock()

	if err := l.conn.Close(); err != nil {
		log.Warnf("call %s: closing link to %s: %v", l.callID, l.remoteID, err)
	}
}

// Closed reports whether Teardown ran.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

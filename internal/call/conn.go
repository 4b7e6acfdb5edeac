package call

import (
	"github.com/pion/webrtc/v4"
)

// LinkState mirrors the native peer connection state for one link.
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
	LinkClosed       LinkState = "closed"
)

// Terminal reports whether the state ends the link's useful life.
func (s LinkState) Terminal() bool {
	return s == LinkDisconnected || s == LinkFailed || s == LinkClosed
}

// RemoteTrack describes one inbound media track owned by its link.
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
	// Stats returns packets and payload bytes drained so far.
	Stats() (packets, bytes uint64)
}

// Conn abstracts the native peer connection so negotiation and the session
// state machine are testable in isolation from pion. The pion adapter lives
// in pion.go; tests use a scripted fake.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	AddTrack(t Track) error

	// Handlers must be registered before negotiation starts. A nil candidate
	// is delivered when ICE gathering completes.
	OnICECandidate(fn func(cand *webrtc.ICECandidateInit))
	OnTrack(fn func(t RemoteTrack))
	OnStateChange(fn func(s LinkState))

	Close() error
}

// ConnFactory builds a native connection configured with the given ICE
// servers. The factory is the seam where the enhancement layer plugs in.
type ConnFactory func(servers []webrtc.ICEServer) (Conn, error)

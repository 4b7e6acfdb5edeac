package call

import "errors"

// Sentinel errors for the call failure taxonomy. The state machines never
// panic across their public boundary: every operation either resolves to a
// terminal state transition or to a logged, swallowed side issue.
var (
	// ErrMediaAcquisition: camera/microphone denied or unavailable.
	// Fatal to the session; never retried automatically.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrNegotiation: malformed or unexpected SDP. Fatal only when it
	// prevents any negotiation (unparseable offer).
	ErrNegotiation = errors.New("negotiation failed")

	// ErrConnectionFailed: the native peer connection reported
	// failed/disconnected. Fatal in 1:1, scoped to one participant in group.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrDuplicateLink: an offer arrived for a pair that already has a live
	// link. Rejected rather than renegotiated blindly.
	ErrDuplicateLink = errors.New("peer link already exists")

	// ErrSessionEnded: an operation arrived after the session reached its
	// terminal state. Late async completions are ignored, not errors to users.
	ErrSessionEnded = errors.New("session already ended")
)

// ErrorKind classifies user-facing errors for the UI layer. The core signals
// kind plus message; the UI decides presentation.
type ErrorKind string

const (
	ErrorMedia      ErrorKind = "media"
	ErrorSignaling  ErrorKind = "signaling"
	ErrorNegotiate  ErrorKind = "negotiation"
	ErrorConnection ErrorKind = "connection"
)

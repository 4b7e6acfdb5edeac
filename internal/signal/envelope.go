// Package signal implements call signaling: typed envelopes carried over an
// external pub/sub bus, one topic per call, plus ICE server resolution.
// Delivery is at-most-once with no ordering guarantee across senders; every
// consumer must tolerate loss, duplication and self-echo.
package signal

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind discriminates the closed set of signaling message variants.
type Kind string

const (
	KindOffer           Kind = "offer"
	KindAnswer          Kind = "answer"
	KindIceCandidate    Kind = "ice-candidate"
	KindHangup          Kind = "hangup"
	KindParticipantLeft Kind = "participant-left"
)

// Envelope is one addressed signaling message on a call topic.
// Exactly one of SDP / Candidate is set, depending on Kind.
// Envelopes are transient: the bus is the transport, never storage.
type Envelope struct {
	Kind   Kind   `json:"kind"`
	CallID string `json:"call_id"`
	From   string `json:"from"`
	To     string `json:"to,omitempty"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Validate checks that the envelope is a well-formed member of the variant set.
func (e *Envelope) Validate() error {
	if e.CallID == "" {
		return fmt.Errorf("signal: envelope missing call_id")
	}
	if e.From == "" {
		return fmt.Errorf("signal: envelope missing sender")
	}
	switch e.Kind {
	case KindOffer, KindAnswer:
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("signal: %s envelope missing session description", e.Kind)
		}
	case KindIceCandidate:
		if e.Candidate == nil {
			return fmt.Errorf("signal: ice-candidate envelope missing candidate")
		}
	case KindHangup, KindParticipantLeft:
		// No payload.
	default:
		return fmt.Errorf("signal: unknown envelope kind %q", e.Kind)
	}
	return nil
}

// Offer builds an offer envelope.
func Offer(callID, from, to string, sdp webrtc.SessionDescription) *Envelope {
	return &Envelope{Kind: KindOffer, CallID: callID, From: from, To: to, SDP: &sdp}
}

// Answer builds an answer envelope.
func Answer(callID, from, to string, sdp webrtc.SessionDescription) *Envelope {
	return &Envelope{Kind: KindAnswer, CallID: callID, From: from, To: to, SDP: &sdp}
}

// IceCandidate builds an ice-candidate envelope.
func IceCandidate(callID, from, to string, cand webrtc.ICECandidateInit) *Envelope {
	return &Envelope{Kind: KindIceCandidate, CallID: callID, From: from, To: to, Candidate: &cand}
}

// Hangup builds a hangup envelope.
func Hangup(callID, from, to string) *Envelope {
	return &Envelope{Kind: KindHangup, CallID: callID, From: from, To: to}
}

// ParticipantLeft builds a participant-left envelope.
func ParticipantLeft(callID, from string) *Envelope {
	return &Envelope{Kind: KindParticipantLeft, CallID: callID, From: from}
}

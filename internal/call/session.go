package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sangam-app/callcore/internal/signal"
)

// CallKind distinguishes audio-only from video calls.
type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

// Events are the fire-and-forget notifications exposed to the UI layer.
// Handlers must not block; the core never waits on them.
type Events struct {
	State func(s State)
	Error func(kind ErrorKind, msg string)
}

func (e Events) fireError(kind ErrorKind, msg string) {
	if e.Error != nil {
		e.Error(kind, msg)
	}
}

// SessionConfig describes one 1:1 call.
type SessionConfig struct {
	CallID         string
	ConversationID string
	RemoteID       string
	Kind           CallKind
	Initiator      bool

	Transport *signal.Transport
	Factory   ConnFactory
	Ice       IceResolver
	Capturer  Capturer
	Events    Events

	// Tick is the duration timer granularity. Zero means one second.
	Tick time.Duration
	// ConnectedGrace delays trusting the native connected state as a
	// fallback for the canonical first-remote-track signal.
	ConnectedGrace time.Duration
}

// Session is one 1:1 call: a single peer link plus the call-level lifecycle.
// Created when a call is placed or an incoming call is accepted; destroyed
// when the lifecycle reaches ended.
type Session struct {
	id        string
	convID    string
	remoteID  string
	kind      CallKind
	initiator bool

	tran     *signal.Transport
	pm       *PeerManager
	capturer Capturer
	events   Events
	lc       *lifecycle
	grace    time.Duration

	mu           sync.Mutex
	media        *LocalMedia
	unsubscribe  func()
	graceTimer   *time.Timer
	pendingOffer *webrtc.SessionDescription
	pendingCands []webrtc.ICECandidateInit
}

// NewSession builds a session; Start begins media acquisition and signaling.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.CallID == "" || cfg.RemoteID == "" {
		return nil, fmt.Errorf("call: session needs call and remote IDs")
	}
	if cfg.Transport == nil || cfg.Factory == nil || cfg.Ice == nil || cfg.Capturer == nil {
		return nil, fmt.Errorf("call: session wiring incomplete")
	}
	if cfg.Kind == "" {
		cfg.Kind = KindAudio
	}
	if cfg.ConnectedGrace <= 0 {
		cfg.ConnectedGrace = 500 * time.Millisecond
	}

	s := &Session{
		id:        cfg.CallID,
		convID:    cfg.ConversationID,
		remoteID:  cfg.RemoteID,
		kind:      cfg.Kind,
		initiator: cfg.Initiator,
		tran:      cfg.Transport,
		capturer:  cfg.Capturer,
		events:    cfg.Events,
		grace:     cfg.ConnectedGrace,
	}
	s.lc = newLifecycle(cfg.Tick, func(st State) {
		if s.events.State != nil {
			s.events.State(st)
		}
	})

	pm := NewPeerManager(cfg.CallID, cfg.Transport, cfg.Factory, cfg.Ice)
	pm.OnRemoteTrack(func(string, RemoteTrack) {
		// Canonical connected signal: first remote media.
		s.lc.markConnected()
	})
	pm.OnLinkState(s.handleLinkState)
	s.pm = pm
	return s, nil
}

// Start subscribes to the call topic and begins media acquisition. The
// subscription's cancel func is owned by the session's own teardown path.
func (s *Session) Start(ctx context.Context) error {
	unsub, err := s.tran.Subscribe(s.id, s.handleSignal)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()

	go s.begin(ctx)
	return nil
}

// begin acquires local media and moves the call to ringing. Runs off the
// caller's goroutine: acquisition can block on hardware.
func (s *Session) begin(ctx context.Context) {
	media, err := s.capturer.Acquire(ctx, s.kind == KindVideo)
	if err != nil {
		log.Errorf("call %s: %v", s.id, err)
		s.fail(ErrorMedia, "microphone or camera unavailable")
		return
	}

	// The user may have hung up while acquisition was in flight.
	if !s.lc.alive() {
		media.Stop()
		return
	}

	s.mu.Lock()
	s.media = media
	pending := s.pendingOffer
	s.pendingOffer = nil
	s.mu.Unlock()

	s.lc.transition(StateRinging)

	if s.initiator {
		link, err := s.pm.CreateLink(ctx, s.remoteID, media)
		if err != nil {
			s.fail(ErrorConnection, "could not reach the other side")
			return
		}
		s.drainPendingCandidates(link)
		if err := s.pm.CreateOffer(link); err != nil {
			// Not fatal: the remote side may still offer, and ICE keeps
			// producing candidates. Surface it so the UI can show a hint.
			log.Warnf("call %s: offer not delivered: %v", s.id, err)
			s.events.fireError(ErrorSignaling, "call setup signal not delivered")
		}
		return
	}

	// Receiver: an offer may have arrived while media was being acquired.
	if pending != nil {
		s.acceptOffer(ctx, *pending)
	}
}

// handleSignal routes one inbound envelope. The transport delivers self-sent
// envelopes too; they are filtered here.
func (s *Session) handleSignal(env *signal.Envelope) {
	if env.From == s.tran.SelfID() {
		return
	}
	if env.To != "" && env.To != s.tran.SelfID() {
		return
	}
	if !s.lc.alive() {
		return
	}
	// The topic is shared; only the one expected remote may drive this call.
	if env.From != s.remoteID {
		log.Warnf("call %s: %s from unknown peer %s ignored", s.id, env.Kind, env.From)
		return
	}

	switch env.Kind {
	case signal.KindOffer:
		s.handleOffer(env)
	case signal.KindAnswer:
		if link, ok := s.pm.Link(env.From); ok {
			if err := link.ApplyRemoteDescription(*env.SDP); err != nil {
				log.Warnf("call %s: answer from %s rejected: %v", s.id, env.From, err)
			}
		}
	case signal.KindIceCandidate:
		link, ok := s.pm.Link(env.From)
		if !ok {
			// Candidate outran the offer; hold it for the future link.
			s.mu.Lock()
			s.pendingCands = append(s.pendingCands, *env.Candidate)
			s.mu.Unlock()
			return
		}
		link.AddRemoteCandidate(*env.Candidate)
	case signal.KindHangup, signal.KindParticipantLeft:
		log.Infof("call %s: remote %s hung up", s.id, env.From)
		s.finish(false)
	}
}

func (s *Session) handleOffer(env *signal.Envelope) {
	if link, ok := s.pm.Link(env.From); ok && !link.Closed() {
		// Duplicate offer for a live pair: reject, never renegotiate blindly.
		log.Warnf("call %s: duplicate offer from %s ignored", s.id, env.From)
		return
	}

	s.mu.Lock()
	if s.media == nil {
		// Still acquiring; begin() picks this up.
		s.pendingOffer = env.SDP
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.acceptOffer(context.Background(), *env.SDP)
}

func (s *Session) acceptOffer(ctx context.Context, offer webrtc.SessionDescription) {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()

	link, err := s.pm.CreateLink(ctx, s.remoteID, media)
	if err != nil {
		if !errors.Is(err, ErrDuplicateLink) {
			s.fail(ErrorConnection, "could not reach the other side")
		}
		return
	}
	s.drainPendingCandidates(link)
	if err := s.pm.CreateAnswer(link, offer); err != nil {
		// An unparseable offer prevents any negotiation: session-fatal.
		log.Errorf("call %s: %v", s.id, err)
		s.fail(ErrorNegotiate, "could not read the caller's offer")
	}
}

// drainPendingCandidates hands candidates that arrived before the link
// existed to the link's own buffer, preserving arrival order.
func (s *Session) drainPendingCandidates(link *Link) {
	s.mu.Lock()
	cands := s.pendingCands
	s.pendingCands = nil
	s.mu.Unlock()
	for _, c := range cands {
		link.AddRemoteCandidate(c)
	}
}

func (s *Session) handleLinkState(remoteID string, st LinkState) {
	switch st {
	case LinkConnected:
		// Fallback connected signal: trust the native state only after a
		// short grace in case the first remote track is about to land.
		s.mu.Lock()
		if s.graceTimer == nil {
			s.graceTimer = time.AfterFunc(s.grace, func() {
				if s.lc.alive() {
					s.lc.markConnected()
				}
			})
		}
		s.mu.Unlock()
	case LinkFailed, LinkDisconnected:
		if s.lc.alive() {
			log.Warnf("call %s: %v: link to %s is %s", s.id, ErrConnectionFailed, remoteID, st)
			s.fail(ErrorConnection, "connection lost")
		}
	}
}

// fail surfaces a user-facing error and ends the session.
func (s *Session) fail(kind ErrorKind, msg string) {
	if s.lc.alive() {
		s.events.fireError(kind, msg)
	}
	s.finish(false)
}

// Hangup ends the call locally and tells the remote side. Idempotent.
func (s *Session) Hangup() {
	s.finish(true)
}

// finish is the session's only exit point. Cleanup runs exactly once:
// notify the remote (optional), stop the grace timer, close the link,
// release capture hardware, cancel the signaling subscription.
func (s *Session) finish(notifyRemote bool) {
	s.lc.end(func() {
		if notifyRemote {
			_ = s.tran.Send(signal.Hangup(s.id, "", s.remoteID))
		}

		s.mu.Lock()
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		media := s.media
		unsub := s.unsubscribe
		s.unsubscribe = nil
		s.mu.Unlock()

		s.pm.CloseAll()
		if media != nil {
			media.Stop()
		}
		if unsub != nil {
			unsub()
		}
		log.Infof("call %s: ended (duration %ds)", s.id, s.lc.seconds())
	})
}

// ID returns the call identifier.
func (s *Session) ID() string { return s.id }

// CurrentState returns the lifecycle state.
func (s *Session) CurrentState() State { return s.lc.current() }

// Duration returns whole seconds spent connected.
func (s *Session) Duration() int { return s.lc.seconds() }

// ToggleAudio flips the local audio track. Returns the new muted state
// (true = muted). Synchronous; no signaling involved.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return false
	}
	muted := media.Enabled(TrackAudio)
	media.SetEnabled(TrackAudio, !muted)
	log.Debugf("call %s: audio muted=%v", s.id, muted)
	return muted
}

// ToggleVideo flips the local video track. Returns the new disabled state
// (true = disabled).
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return false
	}
	disabled := media.Enabled(TrackVideo)
	media.SetEnabled(TrackVideo, !disabled)
	log.Debugf("call %s: video disabled=%v", s.id, disabled)
	return disabled
}

// SessionStatus is a point-in-time snapshot for the local control API.
type SessionStatus struct {
	CallID     string `json:"call_id"`
	RemotePeer string `json:"remote_peer"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Duration   int    `json:"duration"`
	Muted      bool   `json:"muted"`
	VideoOff   bool   `json:"video_off"`
}

// Status reports the current session snapshot.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()

	st := SessionStatus{
		CallID:     s.id,
		RemotePeer: s.remoteID,
		Kind:       string(s.kind),
		State:      string(s.lc.current()),
		Duration:   s.lc.seconds(),
	}
	if media != nil {
		st.Muted = !media.Enabled(TrackAudio)
		st.VideoOff = !media.Enabled(TrackVideo)
	}
	return st
}

package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sangam-app/callcore/internal/profile"
	"github.com/sangam-app/callcore/internal/signal"
	"github.com/sangam-app/callcore/internal/util"
)

// GroupEvents extends the 1:1 event surface with roster changes.
type GroupEvents struct {
	State        func(s State)
	Participants func(roster []Participant)
	Error        func(kind ErrorKind, msg string)
}

// GroupConfig describes one N-party call.
type GroupConfig struct {
	CallID         string
	ConversationID string
	// Members are the initial invitees when the local side places the call.
	// Left empty when joining: participants are discovered via signaling.
	Members   []string
	Kind      CallKind
	Initiator bool

	Transport *signal.Transport
	Factory   ConnFactory
	Ice       IceResolver
	Capturer  Capturer
	Profiles  profile.Source
	Events    GroupEvents

	Tick           time.Duration
	ConnectedGrace time.Duration
}

// GroupSession is an N-party call: one peer link per remote participant,
// all sharing the single local media stream, plus the same call-level
// lifecycle a 1:1 session has. One participant's failure removes only that
// participant; the call survives until the local user hangs up or the
// roster empties.
type GroupSession struct {
	id       string
	convID   string
	kind     CallKind
	members  []string
	inviting bool

	tran     *signal.Transport
	pm       *PeerManager
	capturer Capturer
	profiles profile.Source
	events   GroupEvents
	lc       *lifecycle
	roster   *roster
	grace    time.Duration

	mu           sync.Mutex
	media        *LocalMedia
	unsubscribe  func()
	graceTimer   *time.Timer
	pendingCands map[string][]webrtc.ICECandidateInit
	pendingOffer map[string]webrtc.SessionDescription
}

// NewGroupSession builds a group session; Start begins media acquisition and
// signaling.
func NewGroupSession(cfg GroupConfig) (*GroupSession, error) {
	if cfg.CallID == "" {
		return nil, fmt.Errorf("call: group session needs a call ID")
	}
	if cfg.Transport == nil || cfg.Factory == nil || cfg.Ice == nil || cfg.Capturer == nil {
		return nil, fmt.Errorf("call: group session wiring incomplete")
	}
	if cfg.Kind == "" {
		cfg.Kind = KindAudio
	}
	if cfg.ConnectedGrace <= 0 {
		cfg.ConnectedGrace = 500 * time.Millisecond
	}

	g := &GroupSession{
		id:           cfg.CallID,
		convID:       cfg.ConversationID,
		kind:         cfg.Kind,
		members:      cfg.Members,
		inviting:     cfg.Initiator,
		tran:         cfg.Transport,
		capturer:     cfg.Capturer,
		profiles:     cfg.Profiles,
		events:       cfg.Events,
		grace:        cfg.ConnectedGrace,
		pendingCands: make(map[string][]webrtc.ICECandidateInit),
		pendingOffer: make(map[string]webrtc.SessionDescription),
	}
	g.lc = newLifecycle(cfg.Tick, func(st State) {
		if g.events.State != nil {
			g.events.State(st)
		}
	})
	g.roster = newRoster(func(parts []Participant) {
		if g.events.Participants != nil {
			g.events.Participants(parts)
		}
	})

	pm := NewPeerManager(cfg.CallID, cfg.Transport, cfg.Factory, cfg.Ice)
	pm.OnRemoteTrack(func(string, RemoteTrack) {
		g.lc.markConnected()
	})
	pm.OnLinkState(g.handleLinkState)
	g.pm = pm
	return g, nil
}

// Start subscribes to the call topic and begins media acquisition.
func (g *GroupSession) Start(ctx context.Context) error {
	unsub, err := g.tran.Subscribe(g.id, g.handleSignal)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.unsubscribe = unsub
	g.mu.Unlock()

	go g.begin(ctx)
	return nil
}

func (g *GroupSession) begin(ctx context.Context) {
	media, err := g.capturer.Acquire(ctx, g.kind == KindVideo)
	if err != nil {
		log.Errorf("call %s: %v", g.id, err)
		g.fail(ErrorMedia, "microphone or camera unavailable")
		return
	}
	if !g.lc.alive() {
		media.Stop()
		return
	}

	g.mu.Lock()
	g.media = media
	offers := g.pendingOffer
	g.pendingOffer = make(map[string]webrtc.SessionDescription)
	g.mu.Unlock()

	g.lc.transition(StateRinging)

	if g.inviting {
		for _, id := range g.members {
			if err := g.AddParticipant(ctx, id, true); err != nil {
				log.Warnf("call %s: inviting %s: %v", g.id, id, err)
			}
		}
	}
	// Offers that raced media acquisition.
	for from, sdp := range offers {
		g.answerParticipant(ctx, from, sdp)
	}
}

// AddParticipant creates the peer link for id, mirroring the shared local
// tracks into it. When the local side is the inviter an offer is produced
// and sent immediately; otherwise the caller follows up with the inbound
// offer via signaling.
func (g *GroupSession) AddParticipant(ctx context.Context, id string, isInviter bool) error {
	g.mu.Lock()
	media := g.media
	g.mu.Unlock()
	if media == nil {
		return fmt.Errorf("call %s: local media not ready", g.id)
	}
	if g.roster.has(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateLink, id)
	}

	link, err := g.pm.CreateLink(ctx, id, media)
	if err != nil {
		return err
	}
	g.roster.add(id, g.lookupProfile(ctx, id), link)
	g.drainPendingCandidates(id, link)
	log.Infof("call %s: participant %s joined (%d total)", g.id, id, g.roster.size())

	if isInviter {
		if err := g.pm.CreateOffer(link); err != nil {
			log.Warnf("call %s: offer to %s not delivered: %v", g.id, id, err)
			if g.events.Error != nil {
				g.events.Error(ErrorSignaling, "invite signal not delivered")
			}
		}
	}
	return nil
}

// RemoveParticipant tears down one participant's link and roster entry.
// Scoped strictly to that participant — the rest of the call continues.
func (g *GroupSession) RemoveParticipant(id string) {
	g.pm.Remove(id)
	removed, remaining := g.roster.remove(id)
	if !removed {
		return
	}
	log.Infof("call %s: participant %s left (%d remaining)", g.id, id, remaining)
	if remaining == 0 && g.lc.current() == StateConnected {
		// Everyone else left; nothing to stay connected to.
		g.finish(false)
	}
}

// lookupProfile enriches a roster entry, best-effort with a short timeout.
// A missing profile never blocks the connection.
func (g *GroupSession) lookupProfile(ctx context.Context, id string) profile.Profile {
	if g.profiles == nil {
		return profile.Profile{}
	}
	ctx, cancel := context.WithTimeout(ctx, util.DefaultFetchTimeout)
	defer cancel()
	p, err := g.profiles.Lookup(ctx, id)
	if err != nil {
		log.Debugf("call %s: no profile for %s: %v", g.id, id, err)
		return profile.Profile{}
	}
	return p
}

func (g *GroupSession) handleSignal(env *signal.Envelope) {
	if env.From == g.tran.SelfID() {
		return
	}
	if env.To != "" && env.To != g.tran.SelfID() {
		return
	}
	if !g.lc.alive() {
		return
	}

	switch env.Kind {
	case signal.KindOffer:
		g.handleOffer(env)
	case signal.KindAnswer:
		if link, ok := g.pm.Link(env.From); ok {
			if err := link.ApplyRemoteDescription(*env.SDP); err != nil {
				log.Warnf("call %s: answer from %s rejected: %v", g.id, env.From, err)
			}
		}
	case signal.KindIceCandidate:
		link, ok := g.pm.Link(env.From)
		if !ok {
			g.mu.Lock()
			g.pendingCands[env.From] = append(g.pendingCands[env.From], *env.Candidate)
			g.mu.Unlock()
			return
		}
		link.AddRemoteCandidate(*env.Candidate)
	case signal.KindHangup, signal.KindParticipantLeft:
		g.RemoveParticipant(env.From)
	}
}

func (g *GroupSession) handleOffer(env *signal.Envelope) {
	if link, ok := g.pm.Link(env.From); ok && !link.Closed() {
		log.Warnf("call %s: duplicate offer from %s ignored", g.id, env.From)
		return
	}

	g.mu.Lock()
	if g.media == nil {
		g.pendingOffer[env.From] = *env.SDP
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.answerParticipant(context.Background(), env.From, *env.SDP)
}

// answerParticipant reacts to an inbound offer from a (possibly unknown)
// participant: create the link, then produce and send the answer.
func (g *GroupSession) answerParticipant(ctx context.Context, from string, offer webrtc.SessionDescription) {
	if err := g.AddParticipant(ctx, from, false); err != nil {
		if !errors.Is(err, ErrDuplicateLink) {
			log.Warnf("call %s: adding %s: %v", g.id, from, err)
		}
		return
	}
	link, ok := g.pm.Link(from)
	if !ok {
		return
	}
	if err := g.pm.CreateAnswer(link, offer); err != nil {
		// A malformed offer costs this participant only, never the call.
		log.Warnf("call %s: answering %s: %v", g.id, from, err)
		g.RemoveParticipant(from)
	}
}

func (g *GroupSession) drainPendingCandidates(id string, link *Link) {
	g.mu.Lock()
	cands := g.pendingCands[id]
	delete(g.pendingCands, id)
	g.mu.Unlock()
	for _, c := range cands {
		link.AddRemoteCandidate(c)
	}
}

func (g *GroupSession) handleLinkState(remoteID string, st LinkState) {
	switch st {
	case LinkConnected:
		g.mu.Lock()
		if g.graceTimer == nil {
			g.graceTimer = time.AfterFunc(g.grace, func() {
				if g.lc.alive() {
					g.lc.markConnected()
				}
			})
		}
		g.mu.Unlock()
	case LinkFailed, LinkDisconnected:
		// Group isolation: scoped to the one participant.
		log.Warnf("call %s: link to %s %s", g.id, remoteID, st)
		g.RemoveParticipant(remoteID)
	}
}

func (g *GroupSession) fail(kind ErrorKind, msg string) {
	if g.lc.alive() && g.events.Error != nil {
		g.events.Error(kind, msg)
	}
	g.finish(false)
}

// Hangup ends the call locally and broadcasts participant-left. Idempotent.
func (g *GroupSession) Hangup() {
	g.finish(true)
}

// finish tears down the whole roster and stops the shared local stream
// exactly once.
func (g *GroupSession) finish(notifyRemote bool) {
	g.lc.end(func() {
		if notifyRemote {
			_ = g.tran.Send(signal.ParticipantLeft(g.id, ""))
		}

		g.mu.Lock()
		if g.graceTimer != nil {
			g.graceTimer.Stop()
			g.graceTimer = nil
		}
		media := g.media
		unsub := g.unsubscribe
		g.unsubscribe = nil
		g.mu.Unlock()

		g.pm.CloseAll()
		if media != nil {
			media.Stop()
		}
		if unsub != nil {
			unsub()
		}
		log.Infof("call %s: group call ended (duration %ds)", g.id, g.lc.seconds())
	})
}

// ID returns the call identifier.
func (g *GroupSession) ID() string { return g.id }

// CurrentState returns the lifecycle state.
func (g *GroupSession) CurrentState() State { return g.lc.current() }

// Duration returns whole seconds spent connected.
func (g *GroupSession) Duration() int { return g.lc.seconds() }

// Participants returns the current roster snapshot.
func (g *GroupSession) Participants() []Participant { return g.roster.snapshot() }

// ToggleAudio flips the shared local audio. Returns the new muted state.
func (g *GroupSession) ToggleAudio() bool {
	g.mu.Lock()
	media := g.media
	g.mu.Unlock()
	if media == nil {
		return false
	}
	muted := media.Enabled(TrackAudio)
	media.SetEnabled(TrackAudio, !muted)
	return muted
}

// ToggleVideo flips the shared local video. Returns the new disabled state.
func (g *GroupSession) ToggleVideo() bool {
	g.mu.Lock()
	media := g.media
	g.mu.Unlock()
	if media == nil {
		return false
	}
	disabled := media.Enabled(TrackVideo)
	media.SetEnabled(TrackVideo, !disabled)
	return disabled
}

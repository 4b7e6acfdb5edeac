package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sangam-app/callcore/internal/profile"
	"github.com/sangam-app/callcore/internal/signal"
)

// Notify is the service-level UI surface: every event carries the call ID so
// one feed serves all concurrent calls.
type Notify struct {
	State        func(callID string, s State)
	Participants func(callID string, roster []Participant)
	Error        func(callID string, kind ErrorKind, msg string)
}

// ServiceConfig carries the shared dependencies every session gets.
type ServiceConfig struct {
	Transport *signal.Transport
	Factory   ConnFactory
	Ice       IceResolver
	Capturer  Capturer
	Profiles  profile.Source
	Notify    Notify

	// Tick overrides the duration timer granularity; zero means one second.
	Tick time.Duration

	// ConnectedGrace is how long after ICE connects to wait for the first
	// remote packet before declaring the call connected anyway.
	ConnectedGrace time.Duration
}

// Service owns all active call sessions, 1:1 and group. It is the single
// entry point the control surface talks to.
type Service struct {
	tran     *signal.Transport
	factory  ConnFactory
	ice      IceResolver
	capturer Capturer
	profiles profile.Source
	notify   Notify
	tick     time.Duration
	grace    time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	groups   map[string]*GroupSession
	closed   bool
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		tran:     cfg.Transport,
		factory:  cfg.Factory,
		ice:      cfg.Ice,
		capturer: cfg.Capturer,
		profiles: cfg.Profiles,
		notify:   cfg.Notify,
		tick:     cfg.Tick,
		grace:    cfg.ConnectedGrace,
		sessions: make(map[string]*Session),
		groups:   make(map[string]*GroupSession),
	}
}

// StartCall places an outbound 1:1 call. An empty callID gets a fresh one —
// normally the backend assigns it and both sides pass the same value.
func (sv *Service) StartCall(ctx context.Context, callID, convID, remoteID string, kind CallKind) (*Session, error) {
	return sv.newSession(ctx, callID, convID, remoteID, kind, true)
}

// AcceptCall answers an inbound 1:1 call.
func (sv *Service) AcceptCall(ctx context.Context, callID, convID, remoteID string, kind CallKind) (*Session, error) {
	if callID == "" {
		return nil, fmt.Errorf("call: accepting requires the caller's call ID")
	}
	return sv.newSession(ctx, callID, convID, remoteID, kind, false)
}

func (sv *Service) newSession(ctx context.Context, callID, convID, remoteID string, kind CallKind, initiator bool) (*Session, error) {
	if callID == "" {
		callID = uuid.NewString()
	}

	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return nil, fmt.Errorf("call: service closed")
	}
	if _, busy := sv.sessions[callID]; busy {
		sv.mu.Unlock()
		return nil, fmt.Errorf("call %s already active", callID)
	}
	sv.mu.Unlock()

	sess, err := NewSession(SessionConfig{
		CallID:         callID,
		ConversationID: convID,
		RemoteID:       remoteID,
		Kind:           kind,
		Initiator:      initiator,
		Transport:      sv.tran,
		Factory:        sv.factory,
		Ice:            sv.ice,
		Capturer:       sv.capturer,
		Tick:           sv.tick,
		ConnectedGrace: sv.grace,
		Events: Events{
			State: func(s State) {
				if s == StateEnded {
					sv.forget(callID)
				}
				if sv.notify.State != nil {
					sv.notify.State(callID, s)
				}
			},
			Error: func(kind ErrorKind, msg string) {
				if sv.notify.Error != nil {
					sv.notify.Error(callID, kind, msg)
				}
			},
		},
	})
	if err != nil {
		return nil, err
	}

	sv.mu.Lock()
	sv.sessions[callID] = sess
	sv.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		sv.forget(callID)
		return nil, err
	}
	log.Infof("call %s: %s → %s (%s)", callID, map[bool]string{true: "placed", false: "accepted"}[initiator], remoteID, kind)
	return sess, nil
}

// StartGroupCall places or joins an N-party call. members lists the initial
// invitees when placing; empty when joining.
func (sv *Service) StartGroupCall(ctx context.Context, callID, convID string, members []string, kind CallKind, initiator bool) (*GroupSession, error) {
	if callID == "" {
		callID = uuid.NewString()
	}

	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return nil, fmt.Errorf("call: service closed")
	}
	if _, busy := sv.groups[callID]; busy {
		sv.mu.Unlock()
		return nil, fmt.Errorf("call %s already active", callID)
	}
	sv.mu.Unlock()

	g, err := NewGroupSession(GroupConfig{
		CallID:         callID,
		ConversationID: convID,
		Members:        members,
		Kind:           kind,
		Initiator:      initiator,
		Transport:      sv.tran,
		Factory:        sv.factory,
		Ice:            sv.ice,
		Capturer:       sv.capturer,
		Profiles:       sv.profiles,
		Tick:           sv.tick,
		ConnectedGrace: sv.grace,
		Events: GroupEvents{
			State: func(s State) {
				if s == StateEnded {
					sv.forget(callID)
				}
				if sv.notify.State != nil {
					sv.notify.State(callID, s)
				}
			},
			Participants: func(parts []Participant) {
				if sv.notify.Participants != nil {
					sv.notify.Participants(callID, parts)
				}
			},
			Error: func(kind ErrorKind, msg string) {
				if sv.notify.Error != nil {
					sv.notify.Error(callID, kind, msg)
				}
			},
		},
	})
	if err != nil {
		return nil, err
	}

	sv.mu.Lock()
	sv.groups[callID] = g
	sv.mu.Unlock()

	if err := g.Start(ctx); err != nil {
		sv.forget(callID)
		return nil, err
	}
	log.Infof("call %s: group call started with %d invitees", callID, len(members))
	return g, nil
}

// Session returns the active 1:1 session for callID, if any.
func (sv *Service) Session(callID string) (*Session, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	s, ok := sv.sessions[callID]
	return s, ok
}

// Group returns the active group session for callID, if any.
func (sv *Service) Group(callID string) (*GroupSession, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	g, ok := sv.groups[callID]
	return g, ok
}

// Statuses snapshots every active 1:1 session for the debug endpoint.
func (sv *Service) Statuses() []SessionStatus {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]SessionStatus, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s.Status())
	}
	return out
}

func (sv *Service) forget(callID string) {
	sv.mu.Lock()
	delete(sv.sessions, callID)
	delete(sv.groups, callID)
	sv.mu.Unlock()
}

// Close hangs up every active call.
func (sv *Service) Close() {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return
	}
	sv.closed = true
	sessions := sv.sessions
	groups := sv.groups
	sv.sessions = make(map[string]*Session)
	sv.groups = make(map[string]*GroupSession)
	sv.mu.Unlock()

	for _, s := range sessions {
		s.Hangup()
	}
	for _, g := range groups {
		g.Hangup()
	}
}

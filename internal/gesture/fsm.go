package gesture

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/sangam-app/callcore/internal/util"
)

var log = logging.Logger("gesture")

// State is the capture state machine's discrete state.
type State string

const (
	StateIdle          State = "idle"
	StateDetectingOpen State = "detecting_open"
	StateCaptured      State = "captured"
	StateCooldown      State = "cooldown"
)

const (
	// DefaultStability is how many consecutive open-palm frames arm the
	// detector; it rejects single-frame flicker and false positives.
	DefaultStability = 6

	// DefaultGraceFrames is how many hand-less frames the armed detector
	// tolerates before reverting to idle.
	DefaultGraceFrames = 10

	// DefaultCooldown ignores all frames after a capture, preventing one
	// continuous gesture from firing repeatedly.
	DefaultCooldown = 2000 * time.Millisecond
)

// Config tunes the FSM. Zero values take the defaults above.
type Config struct {
	Stability   int
	GraceFrames int
	Cooldown    time.Duration

	// OnState fires on every state transition; OnCapture fires exactly
	// once per completed gesture. Both are fire-and-forget.
	OnState   func(State)
	OnCapture func()

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// transitionRecord is kept in the diagnostic history ring.
type transitionRecord struct {
	At    time.Time `json:"at"`
	State State     `json:"state"`
}

// FSM consumes classified frames and emits capture events. Driven by a
// steady frame stream; absence of a hand is a valid input, not an error.
type FSM struct {
	stability   int
	graceFrames int
	cooldown    time.Duration
	onState     func(State)
	onCapture   func()
	now         func() time.Time

	mu            sync.Mutex
	state         State
	openStreak    int
	lostFrames    int
	cooldownUntil time.Time
	history       *util.Ring[transitionRecord]
}

// New creates an idle FSM.
func New(cfg Config) *FSM {
	if cfg.Stability <= 0 {
		cfg.Stability = DefaultStability
	}
	if cfg.GraceFrames <= 0 {
		cfg.GraceFrames = DefaultGraceFrames
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.OnState == nil {
		cfg.OnState = func(State) {}
	}
	if cfg.OnCapture == nil {
		cfg.OnCapture = func() {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FSM{
		stability:   cfg.Stability,
		graceFrames: cfg.GraceFrames,
		cooldown:    cfg.Cooldown,
		onState:     cfg.OnState,
		onCapture:   cfg.OnCapture,
		now:         cfg.Now,
		state:       StateIdle,
		history:     util.NewRing[transitionRecord](64),
	}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastChange returns the most recent transition and when it happened.
// ok is false before the first transition.
func (f *FSM) LastChange() (s State, at time.Time, ok bool) {
	rec, ok := f.history.Last()
	return rec.State, rec.At, ok
}

// History returns recent state transitions, oldest first.
func (f *FSM) History() []State {
	recs := f.history.Snapshot()
	out := make([]State, len(recs))
	for i, r := range recs {
		out[i] = r.State
	}
	return out
}

// Reset returns the FSM to idle, clearing streaks and any pending cooldown.
func (f *FSM) Reset() {
	f.mu.Lock()
	f.openStreak = 0
	f.lostFrames = 0
	f.cooldownUntil = time.Time{}
	changed := f.setStateLocked(StateIdle)
	f.mu.Unlock()
	if changed {
		f.onState(StateIdle)
	}
}

// Feed processes one frame. Transitions and the capture callback fire
// synchronously on the feeding goroutine.
func (f *FSM) Feed(frame Frame) {
	pose := classify(frame)

	f.mu.Lock()
	var fired []State
	captured := false

	if f.state == StateCooldown {
		if f.now().Before(f.cooldownUntil) {
			f.mu.Unlock()
			return // all frames ignored during cooldown
		}
		if f.setStateLocked(StateIdle) {
			fired = append(fired, StateIdle)
		}
		f.openStreak = 0
	}

	switch f.state {
	case StateIdle:
		if pose == PoseOpen {
			f.openStreak++
			if f.openStreak >= f.stability {
				f.lostFrames = 0
				if f.setStateLocked(StateDetectingOpen) {
					fired = append(fired, StateDetectingOpen)
				}
			}
		} else {
			f.openStreak = 0
		}

	case StateDetectingOpen:
		switch pose {
		case PoseClosed:
			captured = true
			if f.setStateLocked(StateCaptured) {
				fired = append(fired, StateCaptured)
			}
			// Captured is instantaneous; cooldown starts immediately.
			f.cooldownUntil = f.now().Add(f.cooldown)
			f.openStreak = 0
			if f.setStateLocked(StateCooldown) {
				fired = append(fired, StateCooldown)
			}
		case PoseOpen:
			f.lostFrames = 0
		case PoseNone:
			f.lostFrames++
			if f.lostFrames > f.graceFrames {
				f.openStreak = 0
				if f.setStateLocked(StateIdle) {
					fired = append(fired, StateIdle)
				}
			}
		}
	}
	f.mu.Unlock()

	for _, s := range fired {
		f.onState(s)
	}
	if captured {
		log.Infof("gesture capture triggered")
		f.onCapture()
	}
}

func (f *FSM) setStateLocked(s State) bool {
	if f.state == s {
		return false
	}
	f.state = s
	f.history.Push(transitionRecord{At: f.now(), State: s})
	return true
}

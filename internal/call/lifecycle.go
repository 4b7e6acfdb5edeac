package call

import (
	"sync"
	"time"
)

// State is the call-level lifecycle state, independent of any one link.
type State string

const (
	StateConnecting State = "connecting"
	StateRinging    State = "ringing"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// stateRank orders the forward-only lifecycle. "ended" is terminal and
// reachable from everywhere; failure paths fold into it.
var stateRank = map[State]int{
	StateConnecting: 0,
	StateRinging:    1,
	StateConnected:  2,
	StateEnded:      3,
}

// lifecycle is the single transition point for a call's state, duration
// timer and exactly-once end. Both the 1:1 session and the group call own
// one; neither mutates state anywhere else.
type lifecycle struct {
	mu       sync.Mutex
	state    State
	duration int
	tick     time.Duration
	stopTick chan struct{}
	ended    bool
	onState  func(State)
	endOnce  sync.Once
}

// newLifecycle starts in connecting. tick is the duration timer granularity
// (1s in production; tests shrink it).
func newLifecycle(tick time.Duration, onState func(State)) *lifecycle {
	if tick <= 0 {
		tick = time.Second
	}
	if onState == nil {
		onState = func(State) {}
	}
	return &lifecycle{state: StateConnecting, tick: tick, onState: onState}
}

// transition moves the lifecycle forward. Backward moves are rejected and
// logged; duplicate moves to the current state are silently ignored.
// Reports whether the state actually changed.
func (lc *lifecycle) transition(to State) bool {
	lc.mu.Lock()
	if to == lc.state {
		lc.mu.Unlock()
		return false
	}
	if stateRank[to] < stateRank[lc.state] {
		lc.mu.Unlock()
		log.Warnf("ignoring backward transition %s → %s", lc.state, to)
		return false
	}
	lc.state = to
	lc.mu.Unlock()

	lc.onState(to)
	return true
}

// current returns the lifecycle state.
func (lc *lifecycle) current() State {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

// alive reports whether the call has not yet ended. Late-resolving async
// work checks this before mutating anything.
func (lc *lifecycle) alive() bool {
	return lc.current() != StateEnded
}

// markConnected transitions to connected and starts the duration ticker.
// Safe to call from either connected-signal (remote track or link state);
// only the first call has any effect.
func (lc *lifecycle) markConnected() bool {
	if !lc.transition(StateConnected) {
		return false
	}
	lc.mu.Lock()
	// end may have run between the transition above and here; it would see
	// no ticker to stop, so the ticker must not start.
	if lc.ended {
		lc.mu.Unlock()
		return false
	}
	lc.stopTick = make(chan struct{})
	stop := lc.stopTick
	lc.mu.Unlock()

	go func() {
		t := time.NewTicker(lc.tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				lc.mu.Lock()
				lc.duration++
				lc.mu.Unlock()
			}
		}
	}()
	return true
}

// seconds returns the accumulated connected duration.
func (lc *lifecycle) seconds() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.duration
}

// end performs the exactly-once terminal transition: stop the ticker, run
// cleanup, notify. Every exit path — hangup, remote hangup, media failure,
// connection failure — converges here, so cleanup runs exactly once and the
// UI is notified exactly once.
func (lc *lifecycle) end(cleanup func()) {
	lc.endOnce.Do(func() {
		lc.mu.Lock()
		lc.ended = true
		if lc.stopTick != nil {
			close(lc.stopTick)
			lc.stopTick = nil
		}
		lc.mu.Unlock()

		if cleanup != nil {
			cleanup()
		}
		lc.transition(StateEnded)
	})
}

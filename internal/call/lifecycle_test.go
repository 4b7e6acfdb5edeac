package call

import (
	"testing"
	"time"
)

func TestLifecycleForwardOnly(t *testing.T) {
	lc := newLifecycle(time.Second, nil)

	if !lc.transition(StateRinging) {
		t.Fatal("connecting → ringing rejected")
	}
	if lc.transition(StateConnecting) {
		t.Fatal("backward transition accepted")
	}
	if lc.transition(StateRinging) {
		t.Fatal("duplicate transition reported as a change")
	}
	if got := lc.current(); got != StateRinging {
		t.Fatalf("state = %s, want %s", got, StateRinging)
	}
}

func TestLifecycleEndDuringConnectLeavesNoTicker(t *testing.T) {
	// End racing markConnected: the state callback runs between the
	// connected transition and the ticker start, exactly the window where a
	// hangup can land.
	var lc *lifecycle
	lc = newLifecycle(2*time.Millisecond, func(s State) {
		if s == StateConnected {
			lc.end(nil)
		}
	})

	lc.markConnected()

	if got := lc.current(); got != StateEnded {
		t.Fatalf("state = %s, want %s", got, StateEnded)
	}
	time.Sleep(20 * time.Millisecond)
	if n := lc.seconds(); n != 0 {
		t.Fatalf("duration advanced to %d after end; ticker kept running", n)
	}
}

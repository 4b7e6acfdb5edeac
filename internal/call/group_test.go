package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sangam-app/callcore/internal/signal"
)

type groupRecorder struct {
	mu      sync.Mutex
	states  []State
	rosters [][]Participant
	errs    []ErrorKind
}

func (r *groupRecorder) events() GroupEvents {
	return GroupEvents{
		State: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		Participants: func(parts []Participant) {
			r.mu.Lock()
			r.rosters = append(r.rosters, parts)
			r.mu.Unlock()
		},
		Error: func(kind ErrorKind, _ string) {
			r.mu.Lock()
			r.errs = append(r.errs, kind)
			r.mu.Unlock()
		},
	}
}

func (r *groupRecorder) countState(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

func (r *groupRecorder) lastRoster() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rosters) == 0 {
		return nil
	}
	return r.rosters[len(r.rosters)-1]
}

func newTestGroup(t *testing.T, bus *memBus, self string, members []string) (*GroupSession, *connScript, *fakeCapturer, *groupRecorder) {
	t.Helper()
	script := &connScript{}
	cap := &fakeCapturer{}
	rec := &groupRecorder{}
	g, err := NewGroupSession(GroupConfig{
		CallID:         "group-1",
		Members:        members,
		Kind:           KindAudio,
		Initiator:      true,
		Transport:      signal.NewTransport(bus, self),
		Factory:        script.factory,
		Ice:            stubIce{},
		Capturer:       cap,
		Events:         rec.events(),
		Tick:           5 * time.Millisecond,
		ConnectedGrace: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return g, script, cap, rec
}

func TestGroupParticipantFailureIsIsolated(t *testing.T) {
	bus := newMemBus()
	g, script, cap, rec := newTestGroup(t, bus, "alice", []string{"bob", "carol"})

	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "both invitees linked", func() bool {
		return script.count() == 2 && len(g.Participants()) == 2
	})

	// Media lands from carol: the call is connected.
	script.conn(1).fireTrack(&fakeRemoteTrack{id: "r0", kind: TrackAudio})
	waitFor(t, "connected", func() bool {
		return g.CurrentState() == StateConnected
	})

	// Bob's link dies. Only bob leaves.
	script.conn(0).fireState(LinkFailed)

	waitFor(t, "bob removed", func() bool {
		return len(g.Participants()) == 1
	})
	if g.CurrentState() != StateConnected {
		t.Fatalf("call state = %s after one participant failed, want %s", g.CurrentState(), StateConnected)
	}
	if roster := rec.lastRoster(); len(roster) != 1 || roster[0].ID != "carol" {
		t.Fatalf("roster after failure = %v, want just carol", roster)
	}
	if script.conn(0).closes != 1 {
		t.Fatal("failed participant's connection not closed")
	}
	if script.conn(1).closes != 0 {
		t.Fatal("healthy participant's connection was closed")
	}
	if cap.audio.stops.Load() != 0 {
		t.Fatal("shared local stream stopped while the call was live")
	}
}

func TestGroupEndsWhenRosterEmpties(t *testing.T) {
	bus := newMemBus()
	g, script, cap, rec := newTestGroup(t, bus, "alice", []string{"bob"})

	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob linked", func() bool {
		return script.count() == 1
	})

	script.conn(0).fireTrack(&fakeRemoteTrack{id: "r0", kind: TrackAudio})
	waitFor(t, "connected", func() bool {
		return g.CurrentState() == StateConnected
	})

	script.conn(0).fireState(LinkDisconnected)

	waitFor(t, "call ended", func() bool {
		return g.CurrentState() == StateEnded
	})
	if n := rec.countState(StateEnded); n != 1 {
		t.Fatalf("%d ended notifications, want 1", n)
	}
	if n := cap.audio.stops.Load(); n != 1 {
		t.Fatalf("shared stream stopped %d times, want 1", n)
	}
}

func TestGroupHangupStopsSharedStreamOnce(t *testing.T) {
	bus := newMemBus()
	g, script, cap, rec := newTestGroup(t, bus, "alice", []string{"bob", "carol"})

	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "invitees linked", func() bool {
		return script.count() == 2
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Hangup()
		}()
	}
	wg.Wait()

	if g.CurrentState() != StateEnded {
		t.Fatal("call not ended after hangup")
	}
	if n := cap.audio.stops.Load(); n != 1 {
		t.Fatalf("shared stream stopped %d times, want 1", n)
	}
	if n := rec.countState(StateEnded); n != 1 {
		t.Fatalf("%d ended notifications, want 1", n)
	}
	for i := 0; i < 2; i++ {
		if script.conn(i).closes != 1 {
			t.Fatalf("connection %d closed %d times, want 1", i, script.conn(i).closes)
		}
	}
}

func TestGroupMalformedOfferCostsThatParticipantOnly(t *testing.T) {
	bus := newMemBus()
	g, script, _, rec := newTestGroup(t, bus, "alice", []string{"bob"})
	script.failRemote = true

	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob linked", func() bool {
		return script.count() == 1
	})

	// An inbound offer from a new participant fails to apply: dave is
	// dropped, the call survives.
	tran := signal.NewTransport(bus, "dave")
	if err := tran.Send(signal.Offer("group-1", "", "", fakeOffer())); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "dave rejected", func() bool {
		return script.count() == 2 && script.conn(1).closes == 1
	})
	if g.CurrentState() == StateEnded {
		t.Fatal("malformed offer ended the whole call")
	}
	for _, p := range g.Participants() {
		if p.ID == "dave" {
			t.Fatal("rejected participant still in roster")
		}
	}
	rec.mu.Lock()
	errs := len(rec.errs)
	rec.mu.Unlock()
	if errs != 0 {
		t.Fatalf("participant-scoped failure raised %d call-level errors", errs)
	}
}

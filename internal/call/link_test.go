package call

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/sangam-app/callcore/internal/signal"
)

func fakeOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}
}

func TestLinkCandidateBuffering(t *testing.T) {
	t.Run("early candidates flush in arrival order", func(t *testing.T) {
		conn := &fakeConn{}
		link := newLink("c1", "bob", conn)

		var want []webrtc.ICECandidateInit
		for i := 0; i < 3; i++ {
			cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate-%d", i)}
			want = append(want, cand)
			link.AddRemoteCandidate(cand)
		}
		if got := conn.appliedCandidates(); len(got) != 0 {
			t.Fatalf("candidates applied before remote description: %v", got)
		}

		if err := link.ApplyRemoteDescription(fakeOffer()); err != nil {
			t.Fatal(err)
		}
		got := conn.appliedCandidates()
		if len(got) != len(want) {
			t.Fatalf("flushed %d candidates, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Candidate != want[i].Candidate {
				t.Errorf("candidate %d: got %q, want %q", i, got[i].Candidate, want[i].Candidate)
			}
		}
	})

	t.Run("late candidates apply immediately", func(t *testing.T) {
		conn := &fakeConn{}
		link := newLink("c1", "bob", conn)

		if err := link.ApplyRemoteDescription(fakeOffer()); err != nil {
			t.Fatal(err)
		}
		link.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "late"})
		if got := conn.appliedCandidates(); len(got) != 1 || got[0].Candidate != "late" {
			t.Fatalf("late candidate not applied: %v", got)
		}
	})

	t.Run("rejected candidate is not fatal", func(t *testing.T) {
		conn := &fakeConn{}
		link := newLink("c1", "bob", conn)

		// no remote description on the fake makes AddICECandidate error
		// after teardown clears buffering
		if err := link.ApplyRemoteDescription(fakeOffer()); err != nil {
			t.Fatal(err)
		}
		conn.mu.Lock()
		conn.remoteDesc = nil
		conn.mu.Unlock()

		link.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "bad"})
		if link.Closed() {
			t.Fatal("candidate rejection must not close the link")
		}
	})
}

func TestLinkTeardownIdempotent(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("c1", "bob", conn)

	link.Teardown()
	link.Teardown()
	link.Teardown()

	if conn.closes != 1 {
		t.Fatalf("native connection closed %d times, want 1", conn.closes)
	}
	if !link.Closed() {
		t.Fatal("link not marked closed")
	}
	if got := link.State(); got != LinkClosed {
		t.Fatalf("state = %s, want %s", got, LinkClosed)
	}

	// A closed link ignores further signaling without error.
	link.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "after-close"})
	if err := link.ApplyRemoteDescription(fakeOffer()); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("ApplyRemoteDescription after close: got %v, want ErrSessionEnded", err)
	}
}

func TestLinkFailedStateRejectsSignaling(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("c1", "bob", conn)
	link.setState(LinkFailed)

	link.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "after-failure"})
	link.mu.Lock()
	buffered := len(link.pending)
	link.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("%d candidates buffered for a failed link, want 0", buffered)
	}
	if err := link.ApplyRemoteDescription(fakeOffer()); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("ApplyRemoteDescription on failed link: got %v, want ErrSessionEnded", err)
	}
}

func TestPeerManagerDuplicateLink(t *testing.T) {
	bus := newMemBus()
	tran := signal.NewTransport(bus, "alice")
	script := &connScript{}
	pm := NewPeerManager("c1", tran, script.factory, stubIce{})

	if _, err := pm.CreateLink(context.Background(), "bob", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := pm.CreateLink(context.Background(), "bob", nil); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("second link: got %v, want ErrDuplicateLink", err)
	}

	// After removal a fresh link for the same remote is allowed.
	pm.Remove("bob")
	if _, err := pm.CreateLink(context.Background(), "bob", nil); err != nil {
		t.Fatalf("link after removal: %v", err)
	}
	if script.count() != 2 {
		t.Fatalf("created %d native connections, want 2", script.count())
	}
}

func TestPeerManagerFailureTearsDownLink(t *testing.T) {
	bus := newMemBus()
	tran := signal.NewTransport(bus, "alice")
	script := &connScript{}
	pm := NewPeerManager("c1", tran, script.factory, stubIce{})

	var states []LinkState
	pm.OnLinkState(func(_ string, s LinkState) { states = append(states, s) })

	link, err := pm.CreateLink(context.Background(), "bob", nil)
	if err != nil {
		t.Fatal(err)
	}

	script.conn(0).fireState(LinkFailed)

	if !link.Closed() {
		t.Fatal("failed link not torn down")
	}
	if _, ok := pm.Link("bob"); ok {
		t.Fatal("failed link still registered")
	}
	if len(states) != 1 || states[0] != LinkFailed {
		t.Fatalf("state callbacks = %v, want [failed]", states)
	}
}

package gesture

import (
	"testing"
	"time"
)

// frameAt builds a full 21-landmark frame with the four finger tips at
// tipDist and their knuckles at knuckleDist from the wrist.
func frameAt(tipDist, knuckleDist float64) Frame {
	lms := make([]Point, landmarkCount)
	for _, i := range fingerKnuckles {
		lms[i] = Point{X: knuckleDist}
	}
	for _, i := range fingerTips {
		lms[i] = Point{X: tipDist}
	}
	return Frame{Landmarks: lms}
}

func openFrame() Frame   { return frameAt(2.0, 1.0) }
func closedFrame() Frame { return frameAt(1.0, 1.0) }
func emptyFrame() Frame  { return Frame{} }

// twoFingerFrame has exactly two fingers extended, a shape between open
// and closed.
func twoFingerFrame() Frame {
	f := closedFrame()
	f.Landmarks[fingerTips[0]] = Point{X: 2.0}
	f.Landmarks[fingerTips[1]] = Point{X: 2.0}
	return f
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
		want  Pose
	}{
		{"open palm", openFrame(), PoseOpen},
		{"fist", closedFrame(), PoseClosed},
		{"no landmarks", emptyFrame(), PoseNone},
		{"partial landmarks", Frame{Landmarks: make([]Point, 10)}, PoseNone},
		{"ambiguous two-finger shape", twoFingerFrame(), PoseNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.frame); got != tc.want {
				t.Fatalf("classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStabilityFilterRejectsFlicker(t *testing.T) {
	captures := 0
	fsm := New(Config{
		Stability: 6,
		OnCapture: func() { captures++ },
	})

	// Two opens, a flicker, then a clean six-open hold and a fist:
	// exactly one capture, at the final closed frame.
	seq := []Frame{
		openFrame(), openFrame(), closedFrame(),
		openFrame(), openFrame(), openFrame(), openFrame(), openFrame(), openFrame(),
		closedFrame(),
	}
	for i, f := range seq {
		fsm.Feed(f)
		if i < len(seq)-1 && captures != 0 {
			t.Fatalf("captured early at frame %d", i)
		}
	}
	if captures != 1 {
		t.Fatalf("captures = %d, want 1", captures)
	}
}

func TestCooldownSuppressesRepeatCaptures(t *testing.T) {
	now := time.Now()
	captures := 0
	fsm := New(Config{
		Stability: 6,
		Cooldown:  2 * time.Second,
		OnCapture: func() { captures++ },
		Now:       func() time.Time { return now },
	})

	gesture := func() {
		for i := 0; i < 6; i++ {
			fsm.Feed(openFrame())
		}
		fsm.Feed(closedFrame())
	}

	gesture()
	if captures != 1 {
		t.Fatalf("captures after first gesture = %d, want 1", captures)
	}
	if fsm.State() != StateCooldown {
		t.Fatalf("state after capture = %s, want %s", fsm.State(), StateCooldown)
	}

	// Same gesture inside the cooldown window: every frame ignored.
	now = now.Add(500 * time.Millisecond)
	gesture()
	if captures != 1 {
		t.Fatalf("captures during cooldown = %d, want 1", captures)
	}

	// Past the window the detector re-arms from idle.
	now = now.Add(2 * time.Second)
	gesture()
	if captures != 2 {
		t.Fatalf("captures after cooldown = %d, want 2", captures)
	}
}

func TestGraceWindowToleratesHandLoss(t *testing.T) {
	captures := 0
	fsm := New(Config{
		Stability:   3,
		GraceFrames: 4,
		OnCapture:   func() { captures++ },
	})

	for i := 0; i < 3; i++ {
		fsm.Feed(openFrame())
	}
	if fsm.State() != StateDetectingOpen {
		t.Fatalf("state = %s, want %s", fsm.State(), StateDetectingOpen)
	}

	// Hand drops out briefly; the armed state survives.
	for i := 0; i < 4; i++ {
		fsm.Feed(emptyFrame())
	}
	if fsm.State() != StateDetectingOpen {
		t.Fatalf("state after short hand loss = %s, want %s", fsm.State(), StateDetectingOpen)
	}

	fsm.Feed(closedFrame())
	if captures != 1 {
		t.Fatalf("captures = %d, want 1", captures)
	}
}

func TestGraceWindowExpiryDisarms(t *testing.T) {
	captures := 0
	fsm := New(Config{
		Stability:   3,
		GraceFrames: 2,
		OnCapture:   func() { captures++ },
	})

	for i := 0; i < 3; i++ {
		fsm.Feed(openFrame())
	}
	for i := 0; i < 3; i++ {
		fsm.Feed(emptyFrame())
	}
	if fsm.State() != StateIdle {
		t.Fatalf("state after extended hand loss = %s, want %s", fsm.State(), StateIdle)
	}

	fsm.Feed(closedFrame())
	if captures != 0 {
		t.Fatalf("captured from idle, captures = %d", captures)
	}
}

func TestStateHistory(t *testing.T) {
	fsm := New(Config{Stability: 2})

	fsm.Feed(openFrame())
	fsm.Feed(openFrame())
	fsm.Feed(closedFrame())

	want := []State{StateDetectingOpen, StateCaptured, StateCooldown}
	got := fsm.History()
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	last, at, ok := fsm.LastChange()
	if !ok {
		t.Fatal("LastChange reports no transitions after a capture")
	}
	if last != StateCooldown {
		t.Fatalf("LastChange state = %s, want %s", last, StateCooldown)
	}
	if at.IsZero() {
		t.Fatal("LastChange timestamp is zero")
	}
}

func TestLastChangeBeforeAnyTransition(t *testing.T) {
	fsm := New(Config{})
	if _, _, ok := fsm.LastChange(); ok {
		t.Fatal("LastChange reports a transition on a fresh detector")
	}
}

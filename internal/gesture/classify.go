// Package gesture turns a stream of hand-landmark frames into discrete
// capture events: an open palm held steady, then closed into a fist,
// triggers exactly one screenshot. The package is independent of the call
// pipeline; it shares only the "stateful stream processor with debounce and
// cooldown" shape.
package gesture

import "math"

// landmarkCount is the standard 21-point hand model: wrist, then four
// points per finger (thumb, index, middle, ring, pinky).
const landmarkCount = 21

// Point is one normalized landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is one video frame's worth of landmarks. An empty or partial set is
// a valid frame meaning "no hand" — never an error.
type Frame struct {
	Landmarks []Point `json:"landmarks"`
}

// Pose is the per-frame classification.
type Pose int

const (
	PoseNone Pose = iota
	PoseOpen
	PoseClosed
)

// Fingertip / knuckle landmark indices for the four non-thumb fingers.
// The thumb is ignored: its extension axis differs and it adds noise
// without improving open/closed separation.
var (
	fingerTips     = [4]int{8, 12, 16, 20}
	fingerKnuckles = [4]int{5, 9, 13, 17}
)

// classify decides the hand pose for one frame. A finger counts as extended
// when its tip is meaningfully further from the wrist than its knuckle.
func classify(f Frame) Pose {
	if len(f.Landmarks) < landmarkCount {
		return PoseNone
	}
	wrist := f.Landmarks[0]

	extended := 0
	for i := range fingerTips {
		tip := dist(wrist, f.Landmarks[fingerTips[i]])
		knuckle := dist(wrist, f.Landmarks[fingerKnuckles[i]])
		if tip > knuckle*1.2 {
			extended++
		}
	}

	switch {
	case extended >= 4:
		return PoseOpen
	case extended <= 1:
		return PoseClosed
	default:
		// Ambiguous transitional shape; treat as no decision.
		return PoseNone
	}
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

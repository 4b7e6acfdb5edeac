package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// memBus is an in-process signal.Bus with the same delivery contract as the
// gossipsub node: self-echo, no ordering across senders, drop on slow
// consumers.
type memBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	failPub bool
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string][]chan []byte)}
}

func (b *memBus) Publish(topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub {
		return fmt.Errorf("scripted publish failure")
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (b *memBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			list := b.subs[topic]
			for i, c := range list {
				if c == ch {
					b.subs[topic] = append(list[:i], list[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// stubIce always answers with an empty server list.
type stubIce struct{}

func (stubIce) IceServers(context.Context) []webrtc.ICEServer { return nil }

// fakeTrack is a local capture track with a stop counter.
type fakeTrack struct {
	id      string
	kind    TrackKind
	enabled atomic.Bool
	stops   atomic.Int32
}

func newFakeTrack(id string, kind TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string         { return t.id }
func (t *fakeTrack) Kind() TrackKind    { return t.kind }
func (t *fakeTrack) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *fakeTrack) Enabled() bool      { return t.enabled.Load() }
func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

// fakeCapturer hands out fresh fake tracks, or fails on demand.
type fakeCapturer struct {
	fail   bool
	audio  *fakeTrack
	video  *fakeTrack
	gate   chan struct{} // when non-nil, Acquire blocks until closed
	nCalls atomic.Int32
}

func (c *fakeCapturer) Acquire(ctx context.Context, withVideo bool) (*LocalMedia, error) {
	c.nCalls.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.fail {
		return nil, fmt.Errorf("%w: no capture device", ErrMediaAcquisition)
	}
	c.audio = newFakeTrack("a0", TrackAudio)
	tracks := []Track{c.audio}
	if withVideo {
		c.video = newFakeTrack("v0", TrackVideo)
		tracks = append(tracks, c.video)
	}
	return NewLocalMedia(tracks), nil
}

// fakeRemoteTrack satisfies RemoteTrack.
type fakeRemoteTrack struct {
	id   string
	kind TrackKind
}

func (t *fakeRemoteTrack) ID() string              { return t.id }
func (t *fakeRemoteTrack) Kind() TrackKind         { return t.kind }
func (t *fakeRemoteTrack) Stats() (uint64, uint64) { return 0, 0 }

// fakeConn is a scripted native connection.
type fakeConn struct {
	mu         sync.Mutex
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []Track
	closes     int

	failOffer  bool
	failAnswer bool
	failRemote bool

	onICE   func(*webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)
	onState func(LinkState)
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.failOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("scripted offer failure")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	if c.failAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("scripted answer failure")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.localDesc = &desc
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if c.failRemote {
		return fmt.Errorf("scripted remote description failure")
	}
	c.mu.Lock()
	c.remoteDesc = &desc
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		return fmt.Errorf("no remote description")
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) AddTrack(t Track) error {
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnTrack(fn func(RemoteTrack))                     { c.onTrack = fn }
func (c *fakeConn) OnStateChange(fn func(LinkState))                 { c.onState = fn }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *fakeConn) fireTrack(t RemoteTrack) {
	if c.onTrack != nil {
		c.onTrack(t)
	}
}

func (c *fakeConn) fireState(s LinkState) {
	if c.onState != nil {
		c.onState(s)
	}
}

// connScript hands out fakeConns and remembers them in creation order.
type connScript struct {
	mu         sync.Mutex
	conns      []*fakeConn
	failCreate bool
	failRemote bool
}

func (cs *connScript) factory(_ []webrtc.ICEServer) (Conn, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.failCreate {
		return nil, fmt.Errorf("scripted factory failure")
	}
	c := &fakeConn{failRemote: cs.failRemote}
	cs.conns = append(cs.conns, c)
	return c, nil
}

func (cs *connScript) conn(i int) *fakeConn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if i >= len(cs.conns) {
		return nil
	}
	return cs.conns[i]
}

func (cs *connScript) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

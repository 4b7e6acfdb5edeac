// Package call manages native WebRTC call sessions. It is deliberately
// standalone: coupling to the signaling layer is via internal/signal's
// Transport, and to the native stack via the Conn interface only.
package call

import (
	"context"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/sangam-app/callcore/internal/signal"
)

var log = logging.Logger("call")

// IceResolver yields the ICE server list for new connections. It never
// fails; the signal.Resolver falls back to public STUN.
type IceResolver interface {
	IceServers(ctx context.Context) []webrtc.ICEServer
}

// PeerManager creates, negotiates and tears down the peer links of one call.
// One link for a 1:1 call, one per remote participant for a group call.
type PeerManager struct {
	callID  string
	tran    *signal.Transport
	factory ConnFactory
	ice     IceResolver

	mu    sync.RWMutex
	links map[string]*Link

	// Fired from native callbacks; set once before any link is created.
	onRemoteTrack func(remoteID string, t RemoteTrack)
	onLinkState   func(remoteID string, s LinkState)
}

// NewPeerManager creates a manager for one call.
func NewPeerManager(callID string, tran *signal.Transport, factory ConnFactory, ice IceResolver) *PeerManager {
	return &PeerManager{
		callID:  callID,
		tran:    tran,
		factory: factory,
		ice:     ice,
		links:   make(map[string]*Link),
	}
}

// OnRemoteTrack registers the remote-track callback shared by all links.
func (pm *PeerManager) OnRemoteTrack(fn func(remoteID string, t RemoteTrack)) {
	pm.onRemoteTrack = fn
}

// OnLinkState registers the connection-state callback shared by all links.
func (pm *PeerManager) OnLinkState(fn func(remoteID string, s LinkState)) {
	pm.onLinkState = fn
}

// CreateLink constructs the native connection for remoteID with the current
// ICE servers, attaches the shared local tracks, and registers handlers for
// remote tracks, ICE candidates and connection-state changes.
// Exactly one link per remote: a second create for a live pair fails with
// ErrDuplicateLink.
func (pm *PeerManager) CreateLink(ctx context.Context, remoteID string, media *LocalMedia) (*Link, error) {
	pm.mu.Lock()
	if existing, ok := pm.links[remoteID]; ok && !existing.Closed() {
		pm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, remoteID)
	}
	pm.mu.Unlock()

	conn, err := pm.factory(pm.ice.IceServers(ctx))
	if err != nil {
		return nil, fmt.Errorf("create connection for %s: %w", remoteID, err)
	}

	link := newLink(pm.callID, remoteID, conn)

	if media != nil {
		for _, t := range media.Tracks() {
			if err := conn.AddTrack(t); err != nil {
				log.Warnf("call %s: attaching local %s track to %s: %v", pm.callID, t.Kind(), remoteID, err)
			}
		}
	}

	conn.OnICECandidate(func(cand *webrtc.ICECandidateInit) {
		if cand == nil {
			return // gathering complete
		}
		// Delivery failure is logged and dropped; gathering will usually
		// produce more candidates.
		_ = pm.tran.Send(signal.IceCandidate(pm.callID, "", remoteID, *cand))
	})

	conn.OnTrack(func(t RemoteTrack) {
		link.addRemoteTrack(t)
		log.Infof("call %s: remote %s track from %s", pm.callID, t.Kind(), remoteID)
		if pm.onRemoteTrack != nil {
			pm.onRemoteTrack(remoteID, t)
		}
	})

	conn.OnStateChange(func(s LinkState) {
		link.setState(s)
		log.Debugf("call %s: link %s → %s", pm.callID, remoteID, s)
		if s == LinkFailed || s == LinkDisconnected {
			// No reconnection: tear down immediately and let the owner
			// decide whether the whole call ends (1:1) or just this
			// participant leaves (group).
			pm.Remove(remoteID)
		}
		if pm.onLinkState != nil {
			pm.onLinkState(remoteID, s)
		}
	})

	pm.mu.Lock()
	pm.links[remoteID] = link
	pm.mu.Unlock()
	return link, nil
}

// CreateOffer produces the local offer and publishes it before returning —
// callers never manage send timing.
func (pm *PeerManager) CreateOffer(link *Link) error {
	offer, err := link.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer for %s: %v", ErrNegotiation, link.remoteID, err)
	}
	if err := link.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer for %s: %v", ErrNegotiation, link.remoteID, err)
	}
	return pm.tran.Send(signal.Offer(pm.callID, "", link.remoteID, offer))
}

// CreateAnswer applies the inbound offer, produces the answer and publishes
// it before returning. Buffered candidates flush as part of applying the
// offer.
func (pm *PeerManager) CreateAnswer(link *Link, remoteOffer webrtc.SessionDescription) error {
	if err := link.ApplyRemoteDescription(remoteOffer); err != nil {
		return err
	}
	answer, err := link.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("%w: create answer for %s: %v", ErrNegotiation, link.remoteID, err)
	}
	if err := link.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer for %s: %v", ErrNegotiation, link.remoteID, err)
	}
	return pm.tran.Send(signal.Answer(pm.callID, "", link.remoteID, answer))
}

// Link returns the live link for remoteID, if any.
func (pm *PeerManager) Link(remoteID string) (*Link, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	l, ok := pm.links[remoteID]
	return l, ok
}

// Links returns all current links.
func (pm *PeerManager) Links() []*Link {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*Link, 0, len(pm.links))
	for _, l := range pm.links {
		out = append(out, l)
	}
	return out
}

// Remove tears down and forgets the link for remoteID, if present.
func (pm *PeerManager) Remove(remoteID string) {
	pm.mu.Lock()
	link, ok := pm.links[remoteID]
	if ok {
		delete(pm.links, remoteID)
	}
	pm.mu.Unlock()
	if ok {
		link.Teardown()
	}
}

// CloseAll tears down every link. Local media is owned by the session and
// stopped there, not here.
func (pm *PeerManager) CloseAll() {
	pm.mu.Lock()
	links := pm.links
	pm.links = make(map[string]*Link)
	pm.mu.Unlock()
	for _, l := range links {
		l.Teardown()
	}
}

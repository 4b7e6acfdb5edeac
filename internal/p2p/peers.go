package p2p

import (
	"sort"
	"sync"
	"time"
)

// SeenPeer is one peer the node has discovered on the LAN.
type SeenPeer struct {
	ID        string    `json:"id"`
	LastSeen  time.Time `json:"last_seen"`
	Connected bool      `json:"connected"`
}

// PeerTable remembers discovered peers so the UI can offer them as call
// targets. Entries expire after maxAge without a sighting.
type PeerTable struct {
	mu     sync.Mutex
	peers  map[string]time.Time
	maxAge time.Duration
}

func NewPeerTable(maxAge time.Duration) *PeerTable {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &PeerTable{
		peers:  make(map[string]time.Time),
		maxAge: maxAge,
	}
}

// Touch records a sighting of id.
func (t *PeerTable) Touch(id string) {
	t.mu.Lock()
	t.peers[id] = time.Now()
	t.mu.Unlock()
}

// snapshot prunes stale entries and returns the rest, most recent first.
func (t *PeerTable) snapshot() []SeenPeer {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.maxAge)
	out := make([]SeenPeer, 0, len(t.peers))
	for id, seen := range t.peers {
		if seen.Before(cutoff) {
			delete(t.peers, id)
			continue
		}
		out = append(out, SeenPeer{ID: id, LastSeen: seen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

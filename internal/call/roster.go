package call

import (
	"sync"

	"github.com/sangam-app/callcore/internal/profile"
)

// Participant is one roster entry as exposed to the UI.
type Participant struct {
	ID      string          `json:"id"`
	Profile profile.Profile `json:"profile"`
	AudioOn bool            `json:"audio_on"`
	VideoOn bool            `json:"video_on"`
	State   LinkState       `json:"state"`
}

// roster maps participant identity → peer link + display profile + media
// flags for an N-party call. It is bookkeeping only; link lifecycle stays
// with the PeerManager.
type roster struct {
	mu       sync.RWMutex
	entries  map[string]*rosterEntry
	onChange func([]Participant)
}

type rosterEntry struct {
	id      string
	profile profile.Profile
	link    *Link
	audioOn bool
	videoOn bool
}

func newRoster(onChange func([]Participant)) *roster {
	if onChange == nil {
		onChange = func([]Participant) {}
	}
	return &roster{
		entries:  make(map[string]*rosterEntry),
		onChange: onChange,
	}
}

func (r *roster) add(id string, p profile.Profile, link *Link) {
	r.mu.Lock()
	r.entries[id] = &rosterEntry{id: id, profile: p, link: link, audioOn: true, videoOn: true}
	r.mu.Unlock()
	r.onChange(r.snapshot())
}

// remove forgets one participant and reports whether it was present and how
// many entries remain.
func (r *roster) remove(id string) (removed bool, remaining int) {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	n := len(r.entries)
	r.mu.Unlock()
	if ok {
		r.onChange(r.snapshot())
	}
	return ok, n
}

func (r *roster) has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *roster) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *roster) snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Participant{
			ID:      e.id,
			Profile: e.profile,
			AudioOn: e.audioOn,
			VideoOn: e.videoOn,
			State:   e.link.State(),
		})
	}
	return out
}

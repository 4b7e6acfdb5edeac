package viewer

import (
	"net/http"

	"github.com/sangam-app/callcore/internal/gesture"
)

func (v *Viewer) registerGesture(mux *http.ServeMux) {
	// POST /api/gesture/frames — feed a batch of landmark frames into the
	// capture detector. The UI posts these at camera frame rate; frames
	// with no hand are expected and fine.
	handlePost(mux, "/api/gesture/frames", func(w http.ResponseWriter, r *http.Request, req struct {
		Frames []gesture.Frame `json:"frames"`
	}) {
		for _, f := range req.Frames {
			v.Gestures.Feed(f)
		}
		writeJSON(w, map[string]string{"state": string(v.Gestures.State())})
	})

	// GET /api/gesture/state
	handleGet(mux, "/api/gesture/state", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"state":   v.Gestures.State(),
			"history": v.Gestures.History(),
		}
		if _, at, ok := v.Gestures.LastChange(); ok {
			resp["changed_at"] = at
		}
		writeJSON(w, resp)
	})

	// POST /api/gesture/reset
	handlePost(mux, "/api/gesture/reset", func(w http.ResponseWriter, r *http.Request, req struct{}) {
		v.Gestures.Reset()
		writeJSON(w, map[string]string{"state": string(v.Gestures.State())})
	})
}

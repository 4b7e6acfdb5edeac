package viewer

import (
	"fmt"
	"net/http"

	"github.com/sangam-app/callcore/internal/call"
)

func parseKind(s string) (call.CallKind, error) {
	switch s {
	case "", "video":
		return call.KindVideo, nil
	case "audio":
		return call.KindAudio, nil
	default:
		return "", fmt.Errorf("unknown call kind %q", s)
	}
}

func (v *Viewer) registerCall(mux *http.ServeMux) {
	// GET /api/call/debug — live session status for testing without a UI.
	handleGet(mux, "/api/call/debug", func(w http.ResponseWriter, r *http.Request) {
		statuses := v.Calls.Statuses()
		writeJSON(w, map[string]any{
			"session_count": len(statuses),
			"sessions":      statuses,
		})
	})

	// POST /api/call/start
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID         string `json:"call_id"`
		ConversationID string `json:"conversation_id"`
		RemotePeer     string `json:"remote_peer"`
		Kind           string `json:"kind"`
	}) {
		if req.RemotePeer == "" {
			http.Error(w, "missing remote_peer", http.StatusBadRequest)
			return
		}
		kind, err := parseKind(req.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sess, err := v.Calls.StartCall(r.Context(), req.CallID, req.ConversationID, req.RemotePeer, kind)
		if err != nil {
			http.Error(w, fmt.Sprintf("start call failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "started", "call_id": sess.ID()})
	})

	// POST /api/call/accept
	handlePost(mux, "/api/call/accept", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID         string `json:"call_id"`
		ConversationID string `json:"conversation_id"`
		RemotePeer     string `json:"remote_peer"`
		Kind           string `json:"kind"`
	}) {
		if req.CallID == "" || req.RemotePeer == "" {
			http.Error(w, "missing call_id or remote_peer", http.StatusBadRequest)
			return
		}
		kind, err := parseKind(req.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := v.Calls.AcceptCall(r.Context(), req.CallID, req.ConversationID, req.RemotePeer, kind); err != nil {
			http.Error(w, fmt.Sprintf("accept call failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "accepted", "call_id": req.CallID})
	})

	// POST /api/call/hangup — safe to call repeatedly or for unknown calls.
	handlePost(mux, "/api/call/hangup", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID string `json:"call_id"`
	}) {
		if req.CallID == "" {
			http.Error(w, "missing call_id", http.StatusBadRequest)
			return
		}
		if sess, ok := v.Calls.Session(req.CallID); ok {
			sess.Hangup()
			writeJSON(w, map[string]string{"status": "hung_up"})
			return
		}
		if grp, ok := v.Calls.Group(req.CallID); ok {
			grp.Hangup()
			writeJSON(w, map[string]string{"status": "hung_up"})
			return
		}
		writeJSON(w, map[string]string{"status": "not_found"})
	})

	// POST /api/call/toggle-audio
	handlePost(mux, "/api/call/toggle-audio", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID string `json:"call_id"`
	}) {
		if sess, ok := v.Calls.Session(req.CallID); ok {
			writeJSON(w, map[string]bool{"muted": sess.ToggleAudio()})
			return
		}
		if grp, ok := v.Calls.Group(req.CallID); ok {
			writeJSON(w, map[string]bool{"muted": grp.ToggleAudio()})
			return
		}
		http.Error(w, "session not found", http.StatusNotFound)
	})

	// POST /api/call/toggle-video
	handlePost(mux, "/api/call/toggle-video", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID string `json:"call_id"`
	}) {
		if sess, ok := v.Calls.Session(req.CallID); ok {
			writeJSON(w, map[string]bool{"disabled": sess.ToggleVideo()})
			return
		}
		if grp, ok := v.Calls.Group(req.CallID); ok {
			writeJSON(w, map[string]bool{"disabled": grp.ToggleVideo()})
			return
		}
		http.Error(w, "session not found", http.StatusNotFound)
	})

	// POST /api/call/group/start
	handlePost(mux, "/api/call/group/start", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID         string   `json:"call_id"`
		ConversationID string   `json:"conversation_id"`
		Members        []string `json:"members"`
		Kind           string   `json:"kind"`
	}) {
		if len(req.Members) == 0 {
			http.Error(w, "missing members", http.StatusBadRequest)
			return
		}
		kind, err := parseKind(req.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		grp, err := v.Calls.StartGroupCall(r.Context(), req.CallID, req.ConversationID, req.Members, kind, true)
		if err != nil {
			http.Error(w, fmt.Sprintf("start group call failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "started", "call_id": grp.ID()})
	})

	// POST /api/call/group/join — enter a group call someone else started.
	handlePost(mux, "/api/call/group/join", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID         string   `json:"call_id"`
		ConversationID string   `json:"conversation_id"`
		Members        []string `json:"members"`
		Kind           string   `json:"kind"`
	}) {
		if req.CallID == "" {
			http.Error(w, "missing call_id", http.StatusBadRequest)
			return
		}
		kind, err := parseKind(req.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := v.Calls.StartGroupCall(r.Context(), req.CallID, req.ConversationID, req.Members, kind, false); err != nil {
			http.Error(w, fmt.Sprintf("join group call failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "joined", "call_id": req.CallID})
	})

	// POST /api/call/group/invite — pull another peer into a running call.
	handlePost(mux, "/api/call/group/invite", func(w http.ResponseWriter, r *http.Request, req struct {
		CallID string `json:"call_id"`
		Peer   string `json:"peer"`
	}) {
		if req.CallID == "" || req.Peer == "" {
			http.Error(w, "missing call_id or peer", http.StatusBadRequest)
			return
		}
		grp, ok := v.Calls.Group(req.CallID)
		if !ok {
			http.Error(w, "group call not found", http.StatusNotFound)
			return
		}
		if err := grp.AddParticipant(r.Context(), req.Peer, true); err != nil {
			http.Error(w, fmt.Sprintf("invite failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "invited", "peer": req.Peer})
	})

	// GET /api/call/group/participants?call_id=...
	handleGet(mux, "/api/call/group/participants", func(w http.ResponseWriter, r *http.Request) {
		callID := r.URL.Query().Get("call_id")
		grp, ok := v.Calls.Group(callID)
		if !ok {
			http.Error(w, "group call not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"call_id":      callID,
			"participants": grp.Participants(),
		})
	})
}

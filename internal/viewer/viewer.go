// Package viewer is the local control surface: a loopback HTTP API the UI
// drives calls through, plus a websocket feed of call and gesture events.
package viewer

import (
	"context"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/sangam-app/callcore/internal/call"
	"github.com/sangam-app/callcore/internal/gesture"
	"github.com/sangam-app/callcore/internal/p2p"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Node     *p2p.Node
	Calls    *call.Service
	Gestures *gesture.FSM
	Hub      *Hub
	Logs     *LogBuffer

	SelfID string
	Debug  bool
}

// Router assembles the full route table.
func (v *Viewer) Router() *http.ServeMux {
	mux := http.NewServeMux()

	handleGet(mux, "/api/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"peer_id": v.SelfID})
	})

	// GET /api/peers — LAN peers discovered via mdns, as call targets.
	handleGet(mux, "/api/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"peers": v.Node.Peers()})
	})

	v.registerCall(mux)
	v.registerGesture(mux)

	mux.HandleFunc("/ws", v.Hub.ServeWS)

	if v.Logs != nil {
		handleGet(mux, "/api/logs", v.Logs.ServeLogsJSON)
	}

	return mux
}

// Start serves the control API on addr. Blocks until the server stops;
// shut it down by cancelling ctx.
func Start(ctx context.Context, addr string, v *Viewer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           v.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Infof("control API listening on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

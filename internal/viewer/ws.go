package viewer

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sangam-app/callcore/internal/call"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// The viewer binds to loopback; the UI may load from file:// or a
	// dev server, so origin checks would only get in the way.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one message on the /ws feed.
type Event struct {
	Type         string             `json:"type"`
	CallID       string             `json:"call_id,omitempty"`
	State        string             `json:"state,omitempty"`
	Duration     int                `json:"duration,omitempty"`
	Participants []call.Participant `json:"participants,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	ErrorMsg     string             `json:"error_msg,omitempty"`
}

// Hub fans Events out to all connected websocket clients. Slow clients
// drop messages rather than stall the broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) Broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// drop on slow client
		}
	}
	h.mu.Unlock()
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("ws upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	// Read loop exists only to notice disconnects; incoming frames are
	// discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	conn.Close()
}

func (c *wsClient) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

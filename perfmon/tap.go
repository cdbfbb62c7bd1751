package perfmon

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/gorilla/websocket"
)

// clientSendBuffer bounds how many unconsumed heartbeats a slow debug
// client can queue before frames are dropped for it; the monitor's own
// send loop must never block on a client.
const clientSendBuffer = 4

// WSTap upgrades connections to a debug path into websocket clients and
// broadcasts every heartbeat it's given as a JSON frame. It implements
// Tap. A Monitor with no tap attached pays nothing; attaching one never
// slows the monitor down, since Broadcast only ever does a non-blocking
// channel send per client.
type WSTap struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	send chan []byte
}

// NewWSTap builds an empty tap. Register it on an HTTP ServeMux (or pass
// it to http.ListenAndServe directly, since it implements http.Handler)
// to accept debug connections.
func NewWSTap() *WSTap {
	return &WSTap{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		clients:  map[*wsClient]struct{}{},
	}
}

// ServeHTTP implements http.Handler, upgrading the request to a websocket
// and registering it as a heartbeat subscriber until it disconnects.
func (t *WSTap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("performance monitor debug tap: upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	client := &wsClient{send: make(chan []byte, clientSendBuffer)}

	t.mu.Lock()
	t.clients[client] = struct{}{}
	t.mu.Unlock()

	go t.writeLoop(conn, client)
}

func (t *WSTap) writeLoop(conn *websocket.Conn, client *wsClient) {
	defer func() {
		t.mu.Lock()
		delete(t.clients, client)
		t.mu.Unlock()
		conn.Close()
	}()
	for frame := range client.send {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// Broadcast implements Tap: it marshals h to JSON and enqueues it for every
// connected client, dropping the frame for any client whose queue is full
// rather than waiting on it.
func (t *WSTap) Broadcast(h *message.ExecutorHeartbeat) {
	frame, err := json.Marshal(h)
	if err != nil {
		logging.Warnw("performance monitor debug tap: could not encode heartbeat", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for client := range t.clients {
		select {
		case client.send <- frame:
		default:
			// client is behind; drop this frame rather than block the monitor.
		}
	}
}

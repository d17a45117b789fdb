package notify

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub is a minimal broadcast relay usable as the notifier's service endpoint.
// Producers connect and send "<key>,<tag>,<collection>,<id>" text frames;
// frames carrying the expected broadcast key are fanned out to every
// subscriber. Frames with a wrong key are dropped.
type Hub struct {
	key      string
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]chan string
}

// NewHub creates a relay that accepts frames signed with the given broadcast
// key. A nil logger defaults to slog.Default.
func NewHub(key string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		key:  key,
		log:  log,
		subs: make(map[*websocket.Conn]chan string),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and relays frames until the peer hangs
// up. Every connection may both publish and receive.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	out := make(chan string, queueDepth)
	h.mu.Lock()
	h.subs[conn] = out
	h.mu.Unlock()

	go h.writeLoop(conn, out)
	h.readLoop(conn)

	h.mu.Lock()
	delete(h.subs, conn)
	h.mu.Unlock()
	close(out)
	_ = conn.Close()
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		frame := string(payload)
		gotKey, rest, ok := strings.Cut(frame, ",")
		if !ok || gotKey != h.key {
			h.log.Warn("broadcast frame rejected", "reason", "bad key")
			continue
		}
		h.fanOut(conn, rest)
	}
}

// fanOut relays the keyless remainder of a frame to every other subscriber.
func (h *Hub) fanOut(from *websocket.Conn, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.subs {
		if conn == from {
			continue
		}
		select {
		case out <- body:
		default:
			h.log.Warn("subscriber queue full, frame dropped")
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, out <-chan string) {
	for frame := range out {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
}

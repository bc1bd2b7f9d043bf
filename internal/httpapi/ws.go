package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsManager tracks, per pair, the set of subscriber connections (spec §4.6
// "Subscriber set is keyed by pair"). Broadcast iterates a snapshot so a
// disconnecting subscriber never blocks the others mid-iteration.
type wsManager struct {
	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]struct{}
}

func newWSManager() *wsManager {
	return &wsManager{subs: make(map[string]map[*websocket.Conn]struct{})}
}

func (m *wsManager) connect(pair string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[pair]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		m.subs[pair] = set
	}
	set[conn] = struct{}{}
}

func (m *wsManager) disconnect(pair string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[pair]; ok {
		delete(set, conn)
	}
	conn.Close()
}

// snapshot returns the current subscriber slice for pair without holding
// the lock during broadcast sends.
func (m *wsManager) snapshot(pair string) []*websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.subs[pair]
	out := make([]*websocket.Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// broadcast pushes payload to every current subscriber of pair. A send
// failure drops that subscriber silently rather than retrying (spec §7
// "Broadcasters drop subscribers on first send failure").
func (m *wsManager) broadcast(pair string, payload []byte) int {
	sent := 0
	for _, conn := range m.snapshot(pair) {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			m.disconnect(pair, conn)
			continue
		}
		sent++
	}
	return sent
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboard traffic only; no credentialed cross-origin state to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWSStream accepts a connection, registers it under ?pair=, and
// blocks reading (discarding) client frames until the socket closes —
// clients may send pings but the server has nothing to act on (spec §4.6
// "WS stream").
func (s *Server) handleWSStream(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("httpapi: websocket upgrade failed")
		return
	}

	s.ws.connect(pair, conn)
	s.metrics.wsConnections.Inc()
	defer s.metrics.wsConnections.Dec()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.ws.disconnect(pair, conn)
			return
		}
	}
}

package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/protocol"
)

// WebSocketServer upgrades incoming HTTP connections to one JSON-RPC
// connection each, per spec.md §4.8's WebSocket transport: one JSON
// document per message, each connection keyed by its remote address for
// the rate-limit middleware.
type WebSocketServer struct {
	handler  *protocol.Handler
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[*websocket.Conn]*sync.Mutex // guards concurrent writes per conn
}

// NewWebSocketServer builds a server around an already-constructed Handler.
func NewWebSocketServer(h *protocol.Handler, log zerolog.Logger) *WebSocketServer {
	return &WebSocketServer{
		handler: h,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connections: map[*websocket.Conn]*sync.Mutex{},
	}
}

// ServeHTTP upgrades the request and serves JSON-RPC calls on it until the
// client disconnects.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket: upgrade failed")
		return
	}
	defer wsConn.Close()

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.connections[wsConn] = writeMu
	count := len(s.connections)
	s.mu.Unlock()
	s.log.Info().Str("addr", r.RemoteAddr).Int("connections", count).Msg("websocket: client connected")

	defer func() {
		s.mu.Lock()
		delete(s.connections, wsConn)
		remaining := len(s.connections)
		s.mu.Unlock()
		s.log.Info().Str("addr", r.RemoteAddr).Int("connections", remaining).Msg("websocket: client disconnected")
	}()

	conn := protocol.NewConn(r.RemoteAddr)
	ctx := r.Context()

	for {
		msgType, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("websocket: read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		resp := s.handler.Handle(ctx, conn, raw)
		if resp == nil {
			continue
		}

		writeMu.Lock()
		wsConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		werr := wsConn.WriteMessage(websocket.TextMessage, resp)
		writeMu.Unlock()
		if werr != nil {
			s.log.Warn().Err(werr).Msg("websocket: write failed")
			return
		}
	}
}

// ConnectionCount reports the number of live WebSocket connections, for the
// health/metrics surfaces.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"curator/internal/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is LAN-facing and unauthenticated, same trust model as
	// the SSE endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is one inbound chat request over the socket.
type wsMessage struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleWS serves the same turn event stream as the SSE endpoint over
// a WebSocket. Each inbound message runs one turn; every progress
// event goes out as one JSON frame, ending with stream_end. The
// connection stays open across turns until the client closes it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Turn cancellation follows the socket: closing the connection
	// stops event forwarding mid-turn.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.logger.Debug("websocket read failed", "error", err)
			return
		}
		if msg.SessionID == "" {
			msg.SessionID = "default"
		}
		if msg.Message == "" {
			continue
		}

		s.agent.Turn(ctx, msg.SessionID, msg.Message, func(ev agent.Event) {
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				cancel()
			}
		})
		if ctx.Err() != nil {
			return
		}
	}
}

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are checked by the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketMessage is one frame of the notice stream.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// noticesWebSocketHandler streams a document's notices. A conflict found at
// open time is sent first. The stream ends when the document is closed.
func (s *Server) noticesWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("Notice stream opened", "file_id", sess.ID(), "remote_addr", r.RemoteAddr)
	s.streamNotices(conn, sess)
	slog.Info("Notice stream closed", "file_id", sess.ID(), "remote_addr", r.RemoteAddr)
}

// streamNotices writes notices until the session or the client goes away.
// Only this goroutine writes to conn.
func (s *Server) streamNotices(conn *websocket.Conn, sess *session.Session) {
	gone := make(chan struct{})
	go readUntilClosed(conn, gone)

	if c, opts := sess.Conflict(); c.Conflicting {
		if !send(conn, WebSocketMessage{Type: "conflict", Payload: ConflictResponse{Conflict: c, Options: opts}}) {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	notices := sess.Notices()
	for {
		select {
		case n, ok := <-notices:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "document closed"),
					time.Now().Add(writeWait))
				return
			}
			if !send(conn, WebSocketMessage{Type: "notice", Payload: n}) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func send(conn *websocket.Conn, msg WebSocketMessage) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		slog.Debug("Failed to write WebSocket message", "type", msg.Type, "error", err)
		return false
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}

// readUntilClosed drains client frames so pongs and close frames are
// processed, and closes gone when the connection fails.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

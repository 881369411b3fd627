package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub serves a Store over websocket connections.
type Hub struct {
	store Store
}

// NewHub creates a hub in front of store.
func NewHub(store Store) *Hub {
	return &Hub{store: store}
}

// hubConn serializes writes to one websocket connection.
type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubConn) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	hubMessagesTotal.WithLabelValues("sent", msg.Op).Inc()
	return nil
}

func (c *hubConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade cloud connection", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	hubConnections.Inc()
	defer hubConnections.Dec()
	slog.Info("Cloud connection established", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.serve(ctx, &hubConn{conn: conn})
}

func (h *Hub) serve(ctx context.Context, c *hubConn) {
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Cloud connection error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var req message
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.send(message{Op: opResult, Error: "invalid message: " + err.Error()})
			continue
		}
		hubMessagesTotal.WithLabelValues("received", req.Op).Inc()
		h.handle(ctx, c, req)
	}
}

func (h *Hub) handle(ctx context.Context, c *hubConn, req message) {
	res := message{Op: opResult, ReqID: req.ReqID}
	var err error

	switch req.Op {
	case opList:
		res.Annotations, err = h.store.List(ctx, req.FileID)
	case opUpsert:
		if req.Annotation == nil || req.Annotation.ID == "" {
			err = errors.New("upsert requires an annotation with an id")
			break
		}
		err = h.store.Upsert(ctx, req.FileID, *req.Annotation)
	case opDelete:
		err = h.store.Delete(ctx, req.FileID, req.ID)
	case opSubscribe:
		var events <-chan Event
		events, err = h.store.Subscribe(ctx, req.FileID)
		if err == nil {
			go h.forward(c, events)
		}
	default:
		err = errors.New("unsupported op " + req.Op)
	}

	if err != nil {
		res.Error = err.Error()
	}
	if err := c.send(res); err != nil {
		slog.Debug("Failed to send cloud result", "op", req.Op, "error", err)
	}
}

func (h *Hub) forward(c *hubConn, events <-chan Event) {
	for evt := range events {
		evt := evt
		if err := c.send(message{Op: opEvent, Event: &evt}); err != nil {
			slog.Debug("Failed to forward cloud event", "error", err)
		}
	}
}

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultRequestTimeout bounds a single request to the hub.
const DefaultRequestTimeout = 15 * time.Second

// RemoteError is an error reported by the hub for one request.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("cloud %s: %s", e.Op, e.Message)
}

// Client is a Store backed by a Hub over a websocket connection. When the
// connection drops the client goes offline; Reconnect dials again and
// restores subscriptions.
type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	timeout time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan message
	subs    map[string]map[chan Event]struct{}
	online  atomic.Bool
	closed  bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHeader sets headers sent on dial, e.g. Authorization.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to the hub at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		timeout: DefaultRequestTimeout,
		pending: make(map[string]chan message),
		subs:    make(map[string]map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.url, errors.Join(ErrOffline, err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("cloud client closed")
	}
	c.conn = conn
	c.mu.Unlock()
	c.online.Store(true)

	go c.readLoop(conn)
	slog.Debug("Cloud client connected", "url", c.url)
	return nil
}

// Reconnect dials again if the client is offline and resubscribes every
// active subscription.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.online.Load() {
		return nil
	}
	if err := c.connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	files := make([]string, 0, len(c.subs))
	for fileID, set := range c.subs {
		if len(set) > 0 {
			files = append(files, fileID)
		}
	}
	c.mu.Unlock()

	for _, fileID := range files {
		if _, err := c.request(ctx, message{Op: opSubscribe, FileID: fileID}); err != nil {
			return fmt.Errorf("failed to resubscribe %s: %w", fileID, err)
		}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.disconnect(conn, err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed cloud frame", "error", err)
			continue
		}

		switch msg.Op {
		case opResult:
			c.mu.Lock()
			ch, ok := c.pending[msg.ReqID]
			delete(c.pending, msg.ReqID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case opEvent:
			if msg.Event != nil {
				c.dispatch(*msg.Event)
			}
		}
	}
}

func (c *Client) dispatch(evt Event) {
	if evt.Annotation != nil {
		evt.Annotation.Source = model.FromCloud
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs[evt.FileID] {
		select {
		case ch <- evt:
		default:
			slog.Warn("Dropping cloud event for slow subscriber", "file_id", evt.FileID, "id", evt.ID)
		}
	}
}

// disconnect fails every pending request and marks the client offline.
func (c *Client) disconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan message)
	closed := c.closed
	c.mu.Unlock()

	c.online.Store(false)
	_ = conn.Close()
	for id, ch := range pending {
		ch <- message{Op: opResult, ReqID: id, Error: ErrOffline.Error()}
	}
	if !closed {
		slog.Warn("Cloud connection lost", "url", c.url, "error", cause)
	}
}

func (c *Client) request(ctx context.Context, msg message) (message, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return message{}, ErrOffline
	}
	msg.ReqID = uuid.NewString()
	ch := make(chan message, 1)
	c.pending[msg.ReqID] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, msg.ReqID)
		c.mu.Unlock()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		cleanup()
		return message{}, err
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		cleanup()
		return message{}, fmt.Errorf("cloud %s: %w", msg.Op, errors.Join(ErrOffline, err))
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Error != "" {
			if res.Error == ErrOffline.Error() {
				return res, ErrOffline
			}
			return res, &RemoteError{Op: msg.Op, Message: res.Error}
		}
		return res, nil
	case <-timer.C:
		cleanup()
		return message{}, fmt.Errorf("cloud %s timed out: %w", msg.Op, ErrOffline)
	case <-ctx.Done():
		cleanup()
		return message{}, ctx.Err()
	}
}

// Online implements Store.
func (c *Client) Online() bool {
	return c.online.Load()
}

// List implements Store.
func (c *Client) List(ctx context.Context, fileID string) ([]model.Annotation, error) {
	res, err := c.request(ctx, message{Op: opList, FileID: fileID})
	if err != nil {
		return nil, err
	}
	for i := range res.Annotations {
		res.Annotations[i].Source = model.FromCloud
	}
	return res.Annotations, nil
}

// Upsert implements Store.
func (c *Client) Upsert(ctx context.Context, fileID string, ann model.Annotation) error {
	_, err := c.request(ctx, message{Op: opUpsert, FileID: fileID, Annotation: &ann})
	return err
}

// Delete implements Store.
func (c *Client) Delete(ctx context.Context, fileID, id string) error {
	_, err := c.request(ctx, message{Op: opDelete, FileID: fileID, ID: id})
	return err
}

// Subscribe implements Store. The subscription survives reconnects.
func (c *Client) Subscribe(ctx context.Context, fileID string) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)
	c.mu.Lock()
	first := len(c.subs[fileID]) == 0
	if c.subs[fileID] == nil {
		c.subs[fileID] = make(map[chan Event]struct{})
	}
	c.subs[fileID][ch] = struct{}{}
	c.mu.Unlock()

	remove := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[fileID][ch]; ok {
			delete(c.subs[fileID], ch)
			close(ch)
		}
	}

	if first {
		if _, err := c.request(ctx, message{Op: opSubscribe, FileID: fileID}); err != nil {
			remove()
			return nil, err
		}
	}

	go func() {
		<-ctx.Done()
		remove()
	}()
	return ch, nil
}

// Close closes the connection and every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	for _, set := range c.subs {
		for ch := range set {
			close(ch)
		}
	}
	c.subs = make(map[string]map[chan Event]struct{})
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialNotices(t *testing.T, ts *testServer, id string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/documents/" + id + "/notices"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNoticesWebSocket_StreamsOCRFailures(t *testing.T) {
	ts := newTestServer(t)
	ts.rec.fail = map[int]error{1: errors.New("vision service unavailable")}
	ts.open(t, 2)
	conn := dialNotices(t, ts, testDoc)

	w := ts.do(t, http.MethodPost, "/documents/"+testDoc+"/ocr/1?priority=high", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			Kind   string `json:"kind"`
			Remedy string `json:"remedy"`
			Page   int    `json:"page"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "notice", msg.Type)
	assert.Equal(t, "ocr-failed", msg.Payload.Kind)
	assert.Equal(t, "retry", msg.Payload.Remedy)
	assert.Equal(t, 1, msg.Payload.Page)
}

func TestNoticesWebSocket_ClosesWithDocument(t *testing.T) {
	ts := newTestServer(t)
	ts.open(t, 1)
	conn := dialNotices(t, ts, testDoc)

	w := ts.do(t, http.MethodDelete, "/documents/"+testDoc, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestNoticesWebSocket_UnknownDocument(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/documents/missing/notices"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

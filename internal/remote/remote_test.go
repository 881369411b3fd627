package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionClient_Recognize(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recognize", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req recognizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Page)
		assert.Equal(t, 20, req.Width)
		assert.Equal(t, "de", req.Language)
		png, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(png), "\x89PNG"))

		_, _ = w.Write([]byte(`{"words":[
			{"text":"café","bbox":{"x":1,"y":2,"width":10,"height":5},"confidence":120},
			{"text":"","bbox":{"x":1,"y":2,"width":10,"height":5},"confidence":50},
			{"text":"flat","bbox":{"x":1,"y":2,"width":0,"height":5},"confidence":50}
		]}`))
	})

	v, err := NewVisionClient(Config{Endpoint: srv.URL + "/", APIKey: "secret"}, "de")
	require.NoError(t, err)

	words, err := v.Recognize(context.Background(), 3, image.NewRGBA(image.Rect(0, 0, 20, 30)))
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "café", words[0].Text)
	assert.InDelta(t, 100, words[0].Confidence, 1e-9)
	assert.InDelta(t, 10, words[0].BBox.Width, 1e-9)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		quota     bool
		temporary bool
	}{
		{name: "quota", status: http.StatusTooManyRequests, quota: true},
		{name: "server error", status: http.StatusBadGateway, temporary: true},
		{name: "bad request", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				http.Error(w, "nope", tt.status)
			})
			l, err := NewLanguageClient(Config{Endpoint: srv.URL})
			require.NoError(t, err)

			_, err = l.Refine(context.Background(), []string{"a"})
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
			assert.Equal(t, 7*time.Second, se.RetryAfter)
			assert.Equal(t, tt.quota, IsQuota(err))
			assert.Equal(t, tt.quota, se.Unwrap() != nil)
			assert.Equal(t, tt.temporary, se.Temporary())
		})
	}
}

func TestQuotaPropagatesThroughScheduler(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	v, err := NewVisionClient(Config{Endpoint: srv.URL}, "")
	require.NoError(t, err)

	_, err = v.Recognize(context.Background(), 0, image.NewGray(image.Rect(0, 0, 4, 4)))
	se := &ocr.ServiceError{Page: 0, Err: err}
	assert.ErrorIs(t, se, ocr.ErrQuotaExceeded)
	assert.False(t, se.Retryable())
}

func TestLanguageClient(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/refine":
			var req refineRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			out := make([]string, len(req.Words))
			for i, w := range req.Words {
				out[i] = strings.ReplaceAll(w, "0", "o")
			}
			_ = json.NewEncoder(w).Encode(refineResponse{Words: out})
		case "/v1/translate":
			var req translateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			out := make([]string, len(req.Lines))
			for i, l := range req.Lines {
				out[i] = req.Target + ":" + l
			}
			_ = json.NewEncoder(w).Encode(translateResponse{Lines: out})
		default:
			http.NotFound(w, r)
		}
	})
	l, err := NewLanguageClient(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	refined, err := l.Refine(ctx, []string{"w0rd", "g00d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"word", "good"}, refined)

	translated, err := l.Translate(ctx, []string{"hello"}, "fr")
	require.NoError(t, err)
	assert.Equal(t, []string{"fr:hello"}, translated)

	empty, err := l.Refine(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = l.Translate(ctx, []string{"x"}, "")
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewVisionClient(Config{}, "")
	assert.Error(t, err)
	_, err = NewLanguageClient(Config{})
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}

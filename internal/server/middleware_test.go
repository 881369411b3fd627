package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		expectedCORS   string
		expectedStatus int
		shouldCallNext bool
	}{
		{
			name:           "GET request with CORS headers",
			corsOrigin:     "*",
			method:         http.MethodGet,
			expectedCORS:   "*",
			expectedStatus: http.StatusOK,
			shouldCallNext: true,
		},
		{
			name:           "POST request with specific origin",
			corsOrigin:     "https://example.com",
			method:         http.MethodPost,
			expectedCORS:   "https://example.com",
			expectedStatus: http.StatusOK,
			shouldCallNext: true,
		},
		{
			name:           "OPTIONS request (preflight)",
			corsOrigin:     "*",
			method:         http.MethodOptions,
			expectedCORS:   "*",
			expectedStatus: http.StatusOK,
			shouldCallNext: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{corsOrigin: tt.corsOrigin}
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			w := httptest.NewRecorder()
			s.corsMiddleware(next).ServeHTTP(w, httptest.NewRequest(tt.method, "/documents", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedCORS, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
			assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			assert.Equal(t, tt.shouldCallNext, called)
		})
	}
}

func TestServer_TimeoutMiddleware(t *testing.T) {
	s := &Server{timeout: 50 * time.Millisecond}
	var deadline time.Time
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	})

	s.timeoutMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)
}

func TestServer_SessionMiddleware(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/documents/missing/ocr/jobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "document missing is not open")

	ts.open(t, 1)
	w = ts.do(t, http.MethodGet, "/documents/"+testDoc+"/ocr/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	for i := range 2 {
		w := ts.do(t, http.MethodGet, "/documents", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}
	w := ts.do(t, http.MethodGet, "/documents", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// health is not rate limited
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_HandleRateLimitError(t *testing.T) {
	s := &Server{}
	resets := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		header     string
		want       string
	}{
		{
			name:       "rate limit",
			err:        &RateLimitError{Type: "hour", Limit: 10, RetryAfter: 30 * time.Second},
			wantStatus: http.StatusTooManyRequests,
			header:     "Retry-After",
			want:       "30",
		},
		{
			name:       "quota",
			err:        &QuotaExceededError{Type: "daily_requests", Limit: 5, Used: 5, Resets: resets},
			wantStatus: http.StatusTooManyRequests,
			header:     "X-Quota-Used",
			want:       "5",
		},
		{
			name:       "unknown",
			err:        context.Canceled,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.handleRateLimitError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.header != "" {
				assert.Equal(t, tt.want, w.Header().Get(tt.header))
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.1", want: "192.0.2.1"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, want: "203.0.113.5"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": " 203.0.113.6 "}, want: "203.0.113.6"},
		{name: "real ip", remoteAddr: "10.0.0.1:1", headers: map[string]string{"X-Real-IP": "203.0.113.7"}, want: "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

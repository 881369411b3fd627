package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/integrity"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DocumentSource loads stored document binaries by file id.
type DocumentSource interface {
	Read(fileID string) ([]byte, error)
}

// Server exposes open documents over HTTP.
type Server struct {
	manager     *session.Manager
	source      DocumentSource
	hub         http.Handler
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
	now         func() time.Time
}

// Config holds server configuration.
type Config struct {
	Manager *session.Manager
	// Source serves POST /documents requests that name a file id instead of
	// uploading the binary. Optional.
	Source DocumentSource
	// Hub, when set, is mounted at /cloud/ws.
	Hub         http.Handler
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	RateLimit   RateLimitConfig
}

// RateLimitConfig configures per-client limits.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// Response types for API endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Time      string `json:"time"`
	Documents int    `json:"documents"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// Remedy names a follow-up action, e.g. "save-as" or "retry".
	Remedy string `json:"remedy,omitempty"`
}

// OpenRequest opens a stored document by id.
type OpenRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// DocumentResponse describes an open document.
type DocumentResponse struct {
	session.Info
	Options []integrity.Option `json:"conflict_options,omitempty"`
}

// OCRResponse is the recognition state of one page.
type OCRResponse struct {
	Page   int             `json:"page"`
	Status string          `json:"status"`
	Words  []model.OCRWord `json:"words,omitempty"`
}

// CorrectRequest replaces the text of one word.
type CorrectRequest struct {
	Text string `json:"text"`
}

// ConflictRequest resolves a conflict.
type ConflictRequest struct {
	Action string `json:"action"`
}

// ConflictResponse is the current conflict and its options.
type ConflictResponse struct {
	Conflict integrity.Conflict `json:"conflict"`
	Options  []integrity.Option `json:"options,omitempty"`
}

// ScrollResponse is the mounted page range for a scroll position.
type ScrollResponse struct {
	render.Range
	Offset float64 `json:"offset"`
}

// SyncResponse reports a cloud sync retry.
type SyncResponse struct {
	Pushed int `json:"pushed"`
}

// NewServer creates a server for an existing session manager.
func NewServer(config Config) (*Server, error) {
	if config.Manager == nil {
		return nil, errors.New("server needs a session manager")
	}
	s := &Server{
		manager:     config.Manager,
		source:      config.Source,
		hub:         config.Hub,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
		now:         time.Now,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 100
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Minute
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// Close closes every open document.
func (s *Server) Close() error {
	s.manager.Shutdown()
	return nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Handle("/cloud/ws", s.hub)
	}

	r.Route("/documents", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Get("/", s.listDocumentsHandler)
		r.Post("/", s.openDocumentHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.sessionMiddleware)
			r.Get("/", s.documentHandler)
			r.Delete("/", s.closeDocumentHandler)
			r.Get("/file", s.fileHandler)
			r.Get("/notices", s.noticesWebSocketHandler)

			r.With(s.timeoutMiddleware).Post("/save", s.saveHandler)
			r.Get("/conflict", s.conflictHandler)
			r.With(s.timeoutMiddleware).Post("/conflict", s.resolveConflictHandler)

			r.Get("/scroll", s.scrollHandler)
			r.Put("/zoom", s.zoomHandler)
			r.With(s.timeoutMiddleware).Get("/pages/{page}/image", s.pageImageHandler)
			r.With(s.timeoutMiddleware).Get("/pages/{page}/text", s.textLayerHandler)

			r.Route("/ocr", func(r chi.Router) {
				r.Get("/unburnt", s.unburntHandler)
				r.Get("/jobs", s.jobsHandler)
				r.With(s.timeoutMiddleware).Post("/batch", s.batchHandler)
				r.Get("/{page}", s.wordsHandler)
				r.With(s.timeoutMiddleware).Post("/{page}", s.scheduleOCRHandler)
				r.With(s.timeoutMiddleware).Post("/{page}/refine", s.refineHandler)
				r.Get("/{page}/low-confidence", s.lowConfidenceHandler)
				r.Put("/{page}/words/{index}", s.correctWordHandler)
			})

			r.Route("/annotations", func(r chi.Router) {
				r.Get("/", s.listAnnotationsHandler)
				r.Post("/", s.addAnnotationHandler)
				r.Post("/sync", s.syncHandler)
				r.Put("/{annID}", s.updateAnnotationHandler)
				r.Delete("/{annID}", s.removeAnnotationHandler)
			})
		})
	})
	return r
}

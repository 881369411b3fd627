package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/server"
	"github.com/spf13/cobra"
)

// serveFlags maps config keys to serve flags.
var serveFlags = map[string]string{
	"server.host":                            "host",
	"server.port":                            "port",
	"server.cors_origin":                     "cors-origin",
	"server.max_upload_mb":                   "max-upload-size",
	"server.timeout_sec":                     "timeout",
	"server.shutdown_timeout":                "shutdown-timeout",
	"documents.dir":                          "documents-dir",
	"documents.pages_dir":                    "pages-dir",
	"cloud.hub_url":                          "hub-url",
	"cloud.serve_hub":                        "serve-hub",
	"server.rate_limit.enabled":              "rate-limit-enabled",
	"server.rate_limit.requests_per_minute":  "requests-per-minute",
	"server.rate_limit.requests_per_hour":    "requests-per-hour",
	"server.rate_limit.max_requests_per_day": "max-requests-per-day",
	"server.rate_limit.max_data_per_day_mb":  "max-data-per-day",
}

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for reading and annotating documents",
	Long: `Start an HTTP server that opens documents, renders pages, runs OCR and
manages annotations over a REST API.

The server provides, among others:
  GET    /health                               - Health check
  GET    /metrics                              - Prometheus metrics
  POST   /documents                            - Open an uploaded or stored document
  POST   /documents/{id}/ocr/{page}            - Schedule recognition of a page
  POST   /documents/{id}/annotations           - Add an annotation
  POST   /documents/{id}/save                  - Burn pending work into the document
  GET    /documents/{id}/notices               - Notice stream (WebSocket)
  GET    /cloud/ws                             - Annotation hub (with --serve-hub)

Examples:
  lectorium serve
  lectorium serve --port 8080 --pages-dir ./pages
  lectorium serve --host 0.0.0.0 --serve-hub`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, serveFlags); err != nil {
		return err
	}
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Error("Engine cleanup error", "error", err)
		}
	}()

	rl := cfg.Server.RateLimit
	srv, err := server.NewServer(server.Config{
		Manager:     eng.newManager(cfg),
		Source:      eng.writer,
		Hub:         eng.hub,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     rl.MaxDataPerDayMB << 20,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	timeout := seconds(cfg.Server.TimeoutSec)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		// no WriteTimeout: notice and hub websockets are long-lived
	}

	go func() {
		slog.Info("Starting lectorium server", "host", cfg.Server.Host, "port", cfg.Server.Port,
			"pages_dir", cfg.Documents.PagesDir, "documents_dir", cfg.Documents.Dir,
			"hub", eng.hub != nil, "ocr", eng.opts.Recognizer != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := seconds(cfg.Server.ShutdownTimeout)
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	// closes every open document and waits for its background work
	slog.Info("Closing open documents")
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	flags := serveCmd.Flags()
	flags.StringP("host", "H", "localhost", "server host")
	flags.IntP("port", "p", 8080, "server port")
	flags.String("cors-origin", "*", "CORS allowed origins")
	flags.Int("max-upload-size", 100, "maximum upload size in MB")
	flags.Int("timeout", 120, "request timeout in seconds")
	flags.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	flags.String("documents-dir", "", "directory saved documents are written to")
	flags.String("pages-dir", "", "directory with pre-rendered page images per document")
	flags.String("hub-url", "", "websocket URL of a cloud annotation hub")
	flags.Bool("serve-hub", false, "serve an in-process annotation hub at /cloud/ws")
	flags.Bool("rate-limit-enabled", false, "enable rate limiting")
	flags.Int("requests-per-minute", 600, "maximum requests per minute per client")
	flags.Int("requests-per-hour", 20000, "maximum requests per hour per client")
	flags.Int("max-requests-per-day", 0, "maximum requests per day per client (0 disables)")
	flags.Int64("max-data-per-day", 0, "maximum uploaded MB per day per client (0 disables)")
}

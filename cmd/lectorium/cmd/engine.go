package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/cloud"
	"github.com/MeKo-Tech/lectorium/internal/config"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/raster"
	"github.com/MeKo-Tech/lectorium/internal/remote"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
)

// engine bundles the resources a command needs to open sessions.
type engine struct {
	opts session.Options
	// hub is set when the configuration serves an in-process cloud hub.
	hub     http.Handler
	writer  session.DirWriter
	closers []func() error
}

// Close releases the engine's resources in reverse order.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// newEngine wires the store, remote services, cloud sync, rasterizer and
// burn worker described by cfg. A hub that cannot be reached leaves
// annotations local.
func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	e := &engine{opts: cfg.SessionOptions(), writer: session.DirWriter{Dir: cfg.Documents.Dir}}

	st, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	e.opts.Store = st
	e.closers = append(e.closers, st.Close)

	if err := os.MkdirAll(cfg.Documents.Dir, 0o750); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}
	e.opts.Writer = e.writer

	if err := e.wireRemote(cfg); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.wireCloud(ctx, cfg)

	pagesDir := cfg.Documents.PagesDir
	e.opts.Rasterizer = func(doc model.Document) (render.Rasterizer, error) {
		return raster.ForDocument(pagesDir, doc)
	}

	workerOpts := []burner.WorkerOption{burner.WithTimeout(cfg.BurnTimeout())}
	if m, err := textlayer.NewFontMeasurer(); err == nil {
		e.opts.Measurer = m
		workerOpts = append(workerOpts, burner.WithMeasurer(m))
	} else {
		slog.Warn("Font measuring disabled", "error", err)
	}
	worker := burner.NewWorker(workerOpts...)
	e.opts.Worker = worker
	e.closers = append(e.closers, func() error { worker.Close(); return nil })

	return e, nil
}

func (e *engine) wireRemote(cfg *config.Config) error {
	if vc, ok := cfg.VisionConfig(); ok {
		vision, err := remote.NewVisionClient(vc, cfg.Remote.Vision.Language)
		if err != nil {
			return fmt.Errorf("failed to create vision client: %w", err)
		}
		e.opts.Recognizer = vision
	}
	if lc, ok := cfg.LanguageConfig(); ok {
		language, err := remote.NewLanguageClient(lc)
		if err != nil {
			return fmt.Errorf("failed to create language client: %w", err)
		}
		e.opts.Refiner = language
		e.opts.Translator = language
	}
	return nil
}

func (e *engine) wireCloud(ctx context.Context, cfg *config.Config) {
	if cfg.Cloud.ServeHub {
		backing := cloud.NewMemory()
		e.hub = cloud.NewHub(backing)
		e.opts.Cloud = backing
	}
	if cfg.Cloud.HubURL == "" {
		return
	}

	header := http.Header{}
	if cfg.Cloud.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Cloud.Token)
	}
	opts := []cloud.ClientOption{cloud.WithHeader(header)}
	if cfg.Cloud.RequestTimeout > 0 {
		opts = append(opts, cloud.WithRequestTimeout(seconds(cfg.Cloud.RequestTimeout)))
	}
	client, err := cloud.Dial(ctx, cfg.Cloud.HubURL, opts...)
	if err != nil {
		slog.Warn("Cloud hub unreachable, annotations stay local", "url", cfg.Cloud.HubURL, "error", err)
		return
	}
	e.opts.Cloud = client
	e.closers = append(e.closers, client.Close)
}

// newManager creates a session manager on top of the engine.
func (e *engine) newManager(cfg *config.Config) *session.Manager {
	return session.NewManager(e.opts, cfg.Render.CacheEntries)
}

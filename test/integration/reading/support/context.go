package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/cloud"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/server"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/MeKo-Tech/lectorium/internal/store"
	"github.com/disintegration/imaging"
)

// TestContext holds the state of one scenario: a running server over a
// file-backed store and documents directory, and the last HTTP exchange.
type TestContext struct {
	TempDir string
	Writer  session.DirWriter

	Server     *httptest.Server
	app        *server.Server
	store      *store.SQLite
	worker     *burner.Worker
	Recognizer *ScriptedRecognizer

	// HTTP response state
	LastStatusCode int
	LastBody       []byte

	// Scenario state
	DocumentID  string
	LastSave    session.SaveResult
	Annotations map[string]string
}

// ScriptedRecognizer returns two words per page, one of them uncertain,
// and fails pages listed in Fail.
type ScriptedRecognizer struct {
	mu    sync.Mutex
	Fail  map[int]error
	Calls []int
}

// Recognize implements ocr.Recognizer.
func (r *ScriptedRecognizer) Recognize(_ context.Context, page int, _ image.Image) ([]model.OCRWord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, page)
	if err := r.Fail[page]; err != nil {
		return nil, err
	}
	return []model.OCRWord{
		{Text: "Kapitel", BBox: model.BBox{X: 144, Y: 144, Width: 200, Height: 40}, Confidence: 97},
		{Text: "bta", BBox: model.BBox{X: 360, Y: 144, Width: 90, Height: 40}, Confidence: 38},
	}, nil
}

type blankRasterizer struct{}

func (blankRasterizer) Rasterize(_ context.Context, _ int, scale float64) (image.Image, []model.GlyphRun, error) {
	return imaging.New(int(612*scale), int(792*scale), color.White), nil, nil
}

// NewTestContext starts a server with its own store and documents directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "lectorium-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	st, err := store.Open(filepath.Join(tempDir, "lectorium.db"))
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	tc := &TestContext{
		TempDir:     tempDir,
		Writer:      session.DirWriter{Dir: tempDir},
		store:       st,
		worker:      burner.NewWorker(),
		Recognizer:  &ScriptedRecognizer{Fail: map[int]error{}},
		Annotations: map[string]string{},
	}

	manager := session.NewManager(session.Options{
		Store:      st,
		Cloud:      cloud.NewMemory(),
		Recognizer: tc.Recognizer,
		Rasterizer: func(model.Document) (render.Rasterizer, error) { return blankRasterizer{}, nil },
		Worker:     tc.worker,
		Writer:     tc.Writer,
	}, 4)

	tc.app, err = server.NewServer(server.Config{Manager: manager, Source: tc.Writer, MaxUploadMB: 4})
	if err != nil {
		_ = tc.Cleanup()
		return nil, err
	}
	tc.Server = httptest.NewServer(tc.app.Handler())
	return tc, nil
}

// Cleanup stops the server and removes every file the scenario created.
func (tc *TestContext) Cleanup() error {
	var errs []error
	if tc.Server != nil {
		tc.Server.Close()
	}
	if tc.app != nil {
		if err := tc.app.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close server: %w", err))
		}
	}
	tc.worker.Close()
	if err := tc.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if err := os.RemoveAll(tc.TempDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", tc.TempDir, err))
	}
	return errors.Join(errs...)
}

// documentPath returns the API path of the current document.
func (tc *TestContext) documentPath(suffix string) string {
	return "/documents/" + tc.DocumentID + suffix
}

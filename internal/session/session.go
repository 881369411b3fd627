// Package session drives one open document. It wires the renderer, the OCR
// scheduler, the annotation reconciler, the integrity detector and the burn
// worker behind the operations the API exposes.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/annotation"
	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/cloud"
	"github.com/MeKo-Tech/lectorium/internal/integrity"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/store"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
)

const (
	// DefaultOCRScale is the zoom pages are rasterized at for recognition.
	DefaultOCRScale = 2.0
	// DefaultCacheEntries bounds a session-owned render cache.
	DefaultCacheEntries = 64
	noticeBuffer        = 32
)

// RasterizerFactory returns the rasterizer of an opened document.
type RasterizerFactory func(doc model.Document) (render.Rasterizer, error)

// Options configures a Session. Store is required; everything else is
// optional.
type Options struct {
	Store store.Store
	Cloud cloud.Store

	Recognizer ocr.Recognizer
	Refiner    ocr.Refiner
	Translator ocr.Translator

	// Rasterizer is needed to render pages and to run OCR.
	Rasterizer RasterizerFactory
	// Writer persists saved binaries. Without it Save only updates the
	// session.
	Writer Writer

	// Cache and Worker may be shared between sessions. Missing ones are
	// created and owned by the session.
	Cache  *render.Cache
	Worker *burner.Worker

	Measurer   textlayer.Measurer
	OCRScale   float64
	OCRWorkers int
	ColumnMode bool
	// PageGap is the vertical space between pages in the scroll view.
	PageGap float64
	// AutoOCR schedules recognition for pages scrolled into view that lack
	// usable native text.
	AutoOCR bool
	// SyncInterval retries queued cloud changes periodically. Zero disables
	// the loop.
	SyncInterval time.Duration
	Now          func() time.Time
}

// Session is one open document.
type Session struct {
	opts   Options
	id     string
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	annotations   *annotation.Reconciler
	scheduler     *ocr.Scheduler
	detector      *integrity.Detector
	renderer      *render.Renderer
	rasterizer    render.Rasterizer
	overlay       *render.Overlay
	reconstructor *textlayer.Reconstructor
	cache         *render.Cache
	worker        *burner.Worker
	ownsWorker    bool

	// burnMu serializes burns of this document.
	burnMu sync.Mutex

	mu         sync.Mutex
	data       []byte
	pages      []model.Page
	zoom       float64
	virtual    *render.Virtualizer
	luminance  map[int]float64
	textLayers map[int]textlayer.Result
	conflict   integrity.Conflict
	// recordDirty is set when the embedded annotation record is stale
	// although every annotation is burned, e.g. after a burned note edit.
	recordDirty bool
	closed      bool

	noticeMu      sync.Mutex
	notices       chan Notice
	noticesClosed bool

	wg sync.WaitGroup
}

// Open opens doc: it checks the binary against its recorded fingerprint,
// merges the embedded, local and cloud annotations and warms the OCR cache.
// A conflict does not fail Open; it is reported by Conflict and as a notice.
func Open(ctx context.Context, doc model.Document, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session needs a store")
	}
	if doc.ID == "" {
		return nil, errors.New("document id is required")
	}
	if opts.OCRScale <= 0 {
		opts.OCRScale = DefaultOCRScale
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	insp, err := burner.Inspect(doc.Data)
	if errors.Is(err, burner.ErrBurnFailed) {
		return nil, fmt.Errorf("failed to open %s: %w", doc.ID, err)
	}
	if err != nil {
		slog.Warn("Ignoring unreadable embedded annotations", "file_id", doc.ID, "error", err)
	}
	doc.PageCount = insp.PageCount

	base, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:       opts,
		id:         doc.ID,
		name:       doc.Name,
		ctx:        base,
		cancel:     cancel,
		detector:   integrity.NewDetector(opts.Store),
		overlay:    render.NewOverlay(nil, 0, 0),
		data:       doc.Data,
		pages:      insp.Pages,
		zoom:       1,
		luminance:  make(map[int]float64),
		textLayers: make(map[int]textlayer.Result),
		notices:    make(chan Notice, noticeBuffer),
		reconstructor: textlayer.New(textlayer.Options{
			ColumnMode: opts.ColumnMode,
			Measurer:   opts.Measurer,
		}),
	}
	s.virtual = s.layout(1)

	s.cache = opts.Cache
	if s.cache == nil {
		s.cache = render.NewCache(DefaultCacheEntries)
	}
	s.worker = opts.Worker
	if s.worker == nil {
		var wopts []burner.WorkerOption
		if opts.Measurer != nil {
			wopts = append(wopts, burner.WithMeasurer(opts.Measurer))
		}
		s.worker = burner.NewWorker(wopts...)
		s.ownsWorker = true
	}

	if err := s.load(ctx, doc, insp.Embedded); err != nil {
		s.shutdown()
		return nil, err
	}
	sessionsOpen.Inc()
	return s, nil
}

func (s *Session) load(ctx context.Context, doc model.Document, embedded []model.Annotation) error {
	conflict, err := s.detector.Check(ctx, doc.ID, doc.Data, doc.PageCount)
	if err != nil {
		return err
	}
	s.conflict = conflict

	s.annotations = annotation.New(annotation.Options{
		FileID: doc.ID,
		Local:  s.opts.Store,
		Cloud:  s.opts.Cloud,
		Now:    s.opts.Now,
	})
	if _, err := s.annotations.Load(ctx, embedded); err != nil {
		return err
	}
	if s.opts.Cloud != nil {
		events, err := s.annotations.Subscribe(s.ctx)
		if err != nil {
			slog.Info("Cloud subscription unavailable", "file_id", doc.ID, "error", err)
		} else {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.annotations.Follow(s.ctx, events)
			}()
		}
	}

	if s.opts.Rasterizer != nil {
		r, err := s.opts.Rasterizer(doc)
		if err != nil {
			return fmt.Errorf("failed to create rasterizer: %w", err)
		}
		s.rasterizer = r
		s.renderer = render.NewRenderer(s.cache, r)
	}

	s.scheduler = ocr.NewScheduler(ocr.Options{
		FileID:     doc.ID,
		Store:      s.opts.Store,
		Pages:      ocrPages{s},
		Recognizer: s.opts.Recognizer,
		Refiner:    s.opts.Refiner,
		Translator: s.opts.Translator,
		Burns:      s.annotations,
		Workers:    s.opts.OCRWorkers,
	})
	if n, err := s.scheduler.Warm(ctx); err != nil {
		slog.Warn("Failed to warm OCR cache", "file_id", doc.ID, "error", err)
	} else if n > 0 {
		slog.Debug("OCR cache warmed", "file_id", doc.ID, "pages", n)
	}

	if err := s.opts.Store.Touch(ctx, doc.ID, doc.Name); err != nil {
		slog.Debug("Failed to touch recency", "file_id", doc.ID, "error", err)
	}

	if conflict.Conflicting {
		s.notify(Notice{Kind: NoticeConflict, Message: conflict.Reason, Remedy: "resolve"})
	}
	if s.opts.Cloud != nil && s.opts.SyncInterval > 0 {
		s.wg.Add(1)
		go s.syncLoop()
	}

	slog.Info("Document opened", "file_id", doc.ID, "pages", doc.PageCount,
		"conflict", conflict.Severity, "annotations", len(s.annotations.List()))
	return nil
}

// layout builds the scroll virtualizer for a zoom factor. Documents whose
// pages share one height use the constant-time uniform mode.
func (s *Session) layout(zoom float64) *render.Virtualizer {
	if len(s.pages) == 0 {
		return render.NewUniform(0, 0, s.opts.PageGap)
	}
	uniform := true
	heights := make([]float64, len(s.pages))
	for i, p := range s.pages {
		heights[i] = p.Height * zoom
		if p.Height != s.pages[0].Height {
			uniform = false
		}
	}
	if uniform {
		return render.NewUniform(len(heights), heights[0], s.opts.PageGap)
	}
	return render.NewPrecise(heights, s.opts.PageGap)
}

func (s *Session) syncLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if len(s.annotations.SyncPending()) == 0 {
				continue
			}
			n, err := s.annotations.RetrySync(s.ctx)
			if n > 0 {
				slog.Info("Queued annotation changes synced", "file_id", s.id, "count", n)
			}
			if err != nil {
				slog.Debug("Annotation sync still deferred", "file_id", s.id, "error", err)
			}
		}
	}
}

// ID returns the document id.
func (s *Session) ID() string { return s.id }

// Info describes an open session.
type Info struct {
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	PageCount   int                `json:"page_count"`
	Annotations int                `json:"annotations"`
	Conflict    integrity.Conflict `json:"conflict"`
	Pending     []string           `json:"sync_pending,omitempty"`
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.id,
		Name:        s.name,
		PageCount:   len(s.pages),
		Annotations: len(s.annotations.List()),
		Conflict:    s.conflict,
		Pending:     s.annotations.SyncPending(),
	}
}

// PageCount returns the number of pages of the current binary.
func (s *Session) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Data returns a copy of the current binary.
func (s *Session) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Conflict returns the result of the integrity check made when the document
// was opened, or the state after the last resolution.
func (s *Session) Conflict() (integrity.Conflict, []integrity.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflict, integrity.Options(s.conflict)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) checkPage(page int) error {
	s.mu.Lock()
	n := len(s.pages)
	s.mu.Unlock()
	if page < 0 || page >= n {
		return fmt.Errorf("%w: page %d of %d", ErrPageRange, page, n)
	}
	return nil
}

// Close releases the session. Persisted state is kept; the render cache
// entries and in-memory collections of the document are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// wait for a running save before tearing down
	s.burnMu.Lock()
	defer s.burnMu.Unlock()

	s.shutdown()
	sessionsOpen.Dec()
	slog.Info("Document closed", "file_id", s.id)
	return nil
}

func (s *Session) shutdown() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Close()
	}
	for page := range s.pages {
		s.overlay.Cancel(page)
	}
	if s.renderer != nil {
		s.renderer.Wait()
	}
	s.cache.Evict(s.id)
	if s.annotations != nil {
		s.annotations.Reset()
	}
	if s.ownsWorker {
		s.worker.Close()
	}
	s.wg.Wait()

	s.noticeMu.Lock()
	if !s.noticesClosed {
		s.noticesClosed = true
		close(s.notices)
	}
	s.noticeMu.Unlock()
}

// ocrPages renders pages for the OCR scheduler.
type ocrPages struct{ s *Session }

func (p ocrPages) PageImage(ctx context.Context, page int) (image.Image, float64, error) {
	scale := p.s.opts.OCRScale
	frame, err := p.s.render(ctx, page, scale, render.SurfaceFunc(func(image.Image, bool) {}))
	if err != nil {
		return nil, 0, err
	}
	return frame.Image, scale, nil
}

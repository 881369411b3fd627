// Package ocr schedules page recognition, caches its results and runs the
// follow-up language passes (refinement, correction, batch export).
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/store"
	"golang.org/x/text/unicode/norm"
)

// Recognizer turns a page image into words. Boxes are in image pixels.
type Recognizer interface {
	Recognize(ctx context.Context, page int, img image.Image) ([]model.OCRWord, error)
}

// PageSource renders a page for recognition and reports the scale used, so
// word boxes can be mapped back to document units.
type PageSource interface {
	PageImage(ctx context.Context, page int) (image.Image, float64, error)
}

// Refiner corrects recognized words. The answer must keep order and length.
type Refiner interface {
	Refine(ctx context.Context, words []string) ([]string, error)
}

// Translator translates lines of text. The answer must keep order and length.
type Translator interface {
	Translate(ctx context.Context, lines []string, target string) ([]string, error)
}

// BurnTracker is told when a page's OCR layer no longer matches what was
// baked into the document.
type BurnTracker interface {
	ClearBurned(ctx context.Context, page int) error
}

// Options configures a Scheduler.
type Options struct {
	FileID     string
	Store      store.Store // optional persistent cache
	Pages      PageSource
	Recognizer Recognizer
	Refiner    Refiner
	Translator Translator
	Burns      BurnTracker
	// Workers bounds concurrent recognitions. Default 1.
	Workers int
}

type job struct {
	page     int
	priority model.Priority
	queued   bool
	done     chan struct{}
	words    []model.OCRWord
	err      error
}

// Ticket is a handle on a scheduled page.
type Ticket struct {
	Page int
	j    *job
}

// Done is closed when the job finished.
func (t *Ticket) Done() <-chan struct{} { return t.j.done }

// Wait blocks until the page is recognized or ctx is done.
func (t *Ticket) Wait(ctx context.Context) ([]model.OCRWord, error) {
	select {
	case <-t.j.done:
		if t.j.err != nil {
			return nil, t.j.err
		}
		return model.CloneWords(t.j.words), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Scheduler runs at most one recognition per page. Duplicate requests
// coalesce onto the pending job and high-priority jobs are always dequeued
// before background ones.
type Scheduler struct {
	opts   Options
	base   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     map[int]model.JobStatus
	words      map[int][]model.OCRWord
	rev        map[int]uint64
	jobs       map[int]*job
	high       []*job
	background []*job
	running    int
	closed     bool
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler for one document.
func NewScheduler(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:   opts,
		base:   base,
		cancel: cancel,
		status: make(map[int]model.JobStatus),
		words:  make(map[int][]model.OCRWord),
		rev:    make(map[int]uint64),
		jobs:   make(map[int]*job),
	}
}

// Schedule requests recognition of page. A page that is already recognized
// returns a completed ticket; a page with a pending job returns that job's
// ticket, upgrading it when the new priority is higher.
func (s *Scheduler) Schedule(ctx context.Context, page int, priority model.Priority) (*Ticket, error) {
	if page < 0 {
		return nil, fmt.Errorf("invalid page %d", page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.status[page] == model.StatusDone {
		j := &job{page: page, priority: priority, done: make(chan struct{}), words: model.CloneWords(s.words[page])}
		close(j.done)
		jobsTotal.WithLabelValues("cached").Inc()
		return &Ticket{Page: page, j: j}, nil
	}
	if j, ok := s.jobs[page]; ok {
		jobsTotal.WithLabelValues("coalesced").Inc()
		if priority > j.priority && j.queued {
			s.background = removeJob(s.background, j)
			j.priority = priority
			s.high = append(s.high, j)
		}
		return &Ticket{Page: page, j: j}, nil
	}

	j := &job{page: page, priority: priority, queued: true, done: make(chan struct{})}
	s.jobs[page] = j
	s.status[page] = model.StatusProcessing
	if priority == model.PriorityHigh {
		s.high = append(s.high, j)
	} else {
		s.background = append(s.background, j)
	}
	jobsTotal.WithLabelValues("scheduled").Inc()
	slog.Debug("OCR job scheduled", "file", s.opts.FileID, "page", page, "priority", priority.String())

	s.dispatch()
	return &Ticket{Page: page, j: j}, nil
}

func removeJob(q []*job, j *job) []*job {
	for i, x := range q {
		if x == j {
			return append(q[:i], q[i+1:]...)
		}
	}
	return q
}

// dispatch starts workers up to the configured bound. Caller holds s.mu.
func (s *Scheduler) dispatch() {
	for s.running < s.opts.Workers && len(s.high)+len(s.background) > 0 {
		s.running++
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Scheduler) next() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var j *job
	switch {
	case len(s.high) > 0:
		j, s.high = s.high[0], s.high[1:]
	case len(s.background) > 0:
		j, s.background = s.background[0], s.background[1:]
	default:
		s.running--
		return nil
	}
	j.queued = false
	return j
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		j := s.next()
		if j == nil {
			return
		}
		s.process(j)
	}
}

func (s *Scheduler) process(j *job) {
	words, err := s.recognize(s.base, j.page)

	s.mu.Lock()
	delete(s.jobs, j.page)
	if err != nil {
		s.status[j.page] = model.StatusIdle
		var se *ServiceError
		if !errors.As(err, &se) {
			err = &ServiceError{Page: j.page, Err: err}
		}
		j.err = err
		jobsTotal.WithLabelValues("failed").Inc()
	} else {
		s.status[j.page] = model.StatusDone
		s.words[j.page] = words
		s.rev[j.page]++
		j.words = model.CloneWords(words)
		jobsTotal.WithLabelValues("done").Inc()
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("OCR job failed", "file", s.opts.FileID, "page", j.page, "error", err)
	}
	close(j.done)
}

// recognize returns the words of a page from the persistent cache or the
// recognition service. Fresh results are normalized, mapped to document
// units and persisted.
func (s *Scheduler) recognize(ctx context.Context, page int) ([]model.OCRWord, error) {
	if s.opts.Store != nil {
		p, ok, err := s.opts.Store.OCR(ctx, s.opts.FileID, page)
		if err != nil {
			slog.Debug("OCR cache lookup failed", "page", page, "error", err)
		} else if ok {
			return p.Words, nil
		}
	}

	if s.opts.Pages == nil || s.opts.Recognizer == nil {
		return nil, fmt.Errorf("no recognizer configured: %w", ErrServiceUnavailable)
	}
	img, scale, err := s.opts.Pages.PageImage(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	if scale <= 0 {
		scale = 1
	}

	start := time.Now()
	words, err := s.opts.Recognizer.Recognize(ctx, page, img)
	recognitionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	wordsRecognized.Observe(float64(len(words)))

	out := make([]model.OCRWord, 0, len(words))
	for _, w := range words {
		w.Text = norm.NFC.String(w.Text)
		if w.Text == "" {
			continue
		}
		w.BBox = w.BBox.Scale(1 / scale)
		out = append(out, w)
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.PutOCR(ctx, s.opts.FileID, page, out); err != nil {
			return nil, fmt.Errorf("failed to persist page %d: %w", page, err)
		}
		if err := s.opts.Store.Touch(ctx, s.opts.FileID, ""); err != nil {
			slog.Debug("Failed to touch recency", "file", s.opts.FileID, "error", err)
		}
	}
	return out, nil
}

// Status returns the state of a page.
func (s *Scheduler) Status(page int) model.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[page]; ok {
		return st
	}
	return model.StatusIdle
}

// Words returns a copy of the recognized words of a page.
func (s *Scheduler) Words(page int) ([]model.OCRWord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status[page] != model.StatusDone {
		return nil, false
	}
	return model.CloneWords(s.words[page]), true
}

// Pages returns the recognized page indices in ascending order.
func (s *Scheduler) Pages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pages []int
	for p, st := range s.status {
		if st == model.StatusDone {
			pages = append(pages, p)
		}
	}
	sort.Ints(pages)
	return pages
}

// Jobs returns the pending jobs, high priority first.
func (s *Scheduler) Jobs() []model.OcrJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OcrJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, model.OcrJob{Page: j.page, Priority: j.priority, Status: model.StatusProcessing})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].Page < out[k].Page
	})
	return out
}

// Warm loads every persisted page of the document into memory.
func (s *Scheduler) Warm(ctx context.Context) (int, error) {
	if s.opts.Store == nil {
		return 0, nil
	}
	pages, err := s.opts.Store.OCRPages(ctx, s.opts.FileID)
	if err != nil {
		return 0, fmt.Errorf("failed to load OCR cache: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range pages {
		if _, pending := s.jobs[p.Page]; pending {
			continue
		}
		s.words[p.Page] = p.Words
		s.status[p.Page] = model.StatusDone
		s.rev[p.Page]++
		n++
	}
	return n, nil
}

// Close stops the workers. Queued jobs fail with ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queued := append(s.high, s.background...)
	s.high, s.background = nil, nil
	for _, j := range queued {
		delete(s.jobs, j.page)
		s.status[j.page] = model.StatusIdle
		j.err = ErrClosed
		close(j.done)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

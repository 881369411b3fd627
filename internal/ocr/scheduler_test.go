package ocr

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 5 * time.Millisecond
)

// fakePages renders every page as a 10x10 image at a fixed scale.
type fakePages struct {
	scale float64
}

func (f fakePages) PageImage(_ context.Context, page int) (image.Image, float64, error) {
	return image.NewGray(image.Rect(0, 0, 10, 10)), f.scale, nil
}

// fakeRecognizer records call order and can hold calls until released.
type fakeRecognizer struct {
	mu    sync.Mutex
	order []int
	gate  chan struct{}
	fail  map[int]error
	words func(page int) []model.OCRWord
}

func (f *fakeRecognizer) Recognize(ctx context.Context, page int, _ image.Image) ([]model.OCRWord, error) {
	f.mu.Lock()
	f.order = append(f.order, page)
	err := f.fail[page]
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if f.words != nil {
		return f.words(page), nil
	}
	return []model.OCRWord{
		{Text: "alpha", BBox: model.BBox{X: 10, Y: 10, Width: 40, Height: 10}, Confidence: 95},
		{Text: "bta", BBox: model.BBox{X: 60, Y: 10, Width: 30, Height: 10}, Confidence: 42},
	}, nil
}

func (f *fakeRecognizer) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.order...)
}

type burnRecorder struct {
	mu      sync.Mutex
	cleared []int
}

func (b *burnRecorder) ClearBurned(_ context.Context, page int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleared = append(b.cleared, page)
	return nil
}

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestScheduler(t *testing.T, rec *fakeRecognizer, opts Options) *Scheduler {
	t.Helper()
	if opts.FileID == "" {
		opts.FileID = "file-1"
	}
	if opts.Pages == nil {
		opts.Pages = fakePages{scale: 1}
	}
	opts.Recognizer = rec
	s := NewScheduler(opts)
	t.Cleanup(s.Close)
	return s
}

func TestSchedule_CoalescesDuplicates(t *testing.T) {
	rec := &fakeRecognizer{gate: make(chan struct{})}
	s := newTestScheduler(t, rec, Options{})
	ctx := context.Background()

	t1, err := s.Schedule(ctx, 1, model.PriorityBackground)
	require.NoError(t, err)
	t2, err := s.Schedule(ctx, 1, model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, s.Status(1))

	close(rec.gate)
	w1, err := t1.Wait(ctx)
	require.NoError(t, err)
	w2, err := t2.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, w1, w2)
	assert.Equal(t, []int{1}, rec.calls(), "one recognition call for two schedules")
	assert.Equal(t, model.StatusDone, s.Status(1))

	// a recognized page is served from memory
	t3, err := s.Schedule(ctx, 1, model.PriorityHigh)
	require.NoError(t, err)
	_, err = t3.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.calls(), 1)
}

func TestSchedule_HighPriorityFirst(t *testing.T) {
	rec := &fakeRecognizer{gate: make(chan struct{})}
	s := newTestScheduler(t, rec, Options{Workers: 1})
	ctx := context.Background()

	first, err := s.Schedule(ctx, 0, model.PriorityBackground)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, waitTimeout, waitTick)

	var tickets []*Ticket
	for _, p := range []int{1, 2} {
		tk, err := s.Schedule(ctx, p, model.PriorityBackground)
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}
	tk, err := s.Schedule(ctx, 3, model.PriorityHigh)
	require.NoError(t, err)
	tickets = append(tickets, tk)
	// upgrading a queued background job moves it ahead of page 1
	tk, err = s.Schedule(ctx, 2, model.PriorityHigh)
	require.NoError(t, err)
	tickets = append(tickets, tk)

	jobs := s.Jobs()
	require.Len(t, jobs, 4)
	assert.Equal(t, model.PriorityHigh, jobs[0].Priority)

	close(rec.gate)
	_, err = first.Wait(ctx)
	require.NoError(t, err)
	for _, tk := range tickets {
		_, err := tk.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 3, 2, 1}, rec.calls())
	assert.Equal(t, []int{0, 1, 2, 3}, s.Pages())
}

func TestSchedule_FailureReturnsToIdle(t *testing.T) {
	boom := errors.New("vision service unavailable")
	rec := &fakeRecognizer{fail: map[int]error{2: boom}}
	s := newTestScheduler(t, rec, Options{})
	ctx := context.Background()

	tk, err := s.Schedule(ctx, 2, model.PriorityHigh)
	require.NoError(t, err)
	_, err = tk.Wait(ctx)
	require.Error(t, err)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Page)
	assert.True(t, se.Retryable())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.StatusIdle, s.Status(2))

	rec.mu.Lock()
	delete(rec.fail, 2)
	rec.mu.Unlock()

	tk, err = s.Schedule(ctx, 2, model.PriorityHigh)
	require.NoError(t, err)
	_, err = tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, s.Status(2))
}

func TestSchedule_QuotaIsNotRetryable(t *testing.T) {
	rec := &fakeRecognizer{fail: map[int]error{0: ErrQuotaExceeded}}
	s := newTestScheduler(t, rec, Options{})

	tk, err := s.Schedule(context.Background(), 0, model.PriorityHigh)
	require.NoError(t, err)
	_, err = tk.Wait(context.Background())

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestSchedule_PersistsAndMapsScale(t *testing.T) {
	st := newTestStore(t)
	rec := &fakeRecognizer{}
	s := newTestScheduler(t, rec, Options{Store: st, Pages: fakePages{scale: 2}})
	ctx := context.Background()

	tk, err := s.Schedule(ctx, 0, model.PriorityHigh)
	require.NoError(t, err)
	words, err := tk.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, words, 2)
	assert.InDelta(t, 20, words[0].BBox.Width, 1e-9, "pixel boxes mapped to document units")

	cached, ok, err := st.OCR(ctx, "file-1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, words, cached.Words)

	recent, err := st.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "file-1", recent[0].FileID)

	// a fresh scheduler reuses the persistent cache
	rec2 := &fakeRecognizer{}
	s2 := newTestScheduler(t, rec2, Options{Store: st})
	tk, err = s2.Schedule(ctx, 0, model.PriorityBackground)
	require.NoError(t, err)
	again, err := tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, words, again)
	assert.Empty(t, rec2.calls())
}

func TestWarm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.PutOCR(ctx, "file-1", 4, []model.OCRWord{{Text: "cached", Confidence: 80}}))

	s := newTestScheduler(t, &fakeRecognizer{}, Options{Store: st})
	n, err := s.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusDone, s.Status(4))

	words, ok := s.Words(4)
	require.True(t, ok)
	assert.Equal(t, "cached", words[0].Text)

	_, ok = s.Words(5)
	assert.False(t, ok)
}

func TestClose_FailsQueuedJobs(t *testing.T) {
	rec := &fakeRecognizer{gate: make(chan struct{})}
	s := NewScheduler(Options{FileID: "f", Pages: fakePages{scale: 1}, Recognizer: rec})
	ctx := context.Background()

	running, err := s.Schedule(ctx, 0, model.PriorityHigh)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, waitTimeout, waitTick)
	queued, err := s.Schedule(ctx, 1, model.PriorityBackground)
	require.NoError(t, err)

	s.Close()

	_, err = queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = running.Wait(ctx)
	assert.Error(t, err)

	_, err = s.Schedule(ctx, 2, model.PriorityHigh)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSchedule_InvalidInput(t *testing.T) {
	s := newTestScheduler(t, &fakeRecognizer{}, Options{})

	_, err := s.Schedule(context.Background(), -1, model.PriorityHigh)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Schedule(ctx, 0, model.PriorityHigh)
	assert.ErrorIs(t, err, context.Canceled)
}

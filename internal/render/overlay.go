package render

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultFrameBudget is the time one overlay batch may spend appending.
	DefaultFrameBudget = 8 * time.Millisecond
	// DefaultBatchSize caps the words appended per batch.
	DefaultBatchSize = 64
)

// Half selects a column of the page for overlay injection.
type Half int

const (
	// HalfAll injects every word.
	HalfAll Half = iota
	// HalfLeft injects words whose center lies left of the midline.
	HalfLeft
	// HalfRight injects words whose center lies on or right of the midline.
	HalfRight
)

// Column restricts injection to one half of a page.
type Column struct {
	Half    Half
	Midline float64 // unscaled document units
}

func (c Column) contains(b model.BBox) bool {
	switch c.Half {
	case HalfLeft:
		return b.X+b.Width/2 < c.Midline
	case HalfRight:
		return b.X+b.Width/2 >= c.Midline
	default:
		return true
	}
}

// PlacedWord is a word span positioned at display scale.
type PlacedWord struct {
	Index int            // index into the page's word list
	Word  model.WordSpan // unscaled
	Box   model.BBox     // scaled
	Font  float64        // scaled font size
}

// Sink receives overlay batches.
type Sink interface {
	Append(page int, words []PlacedWord)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(page int, words []PlacedWord)

// Append implements Sink.
func (f SinkFunc) Append(page int, words []PlacedWord) { f(page, words) }

type injection struct {
	sig    uint64
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Overlay injects selectable text over rendered pages in time-sliced batches.
type Overlay struct {
	yielder   Yielder
	budget    time.Duration
	batchSize int

	mu       sync.Mutex
	inflight map[int]*injection
}

// NewOverlay creates an overlay injector. Zero budget and batch size use the
// defaults; a nil yielder uses a QuantumYielder.
func NewOverlay(yielder Yielder, budget time.Duration, batchSize int) *Overlay {
	if yielder == nil {
		yielder = QuantumYielder{Quantum: DefaultQuantum}
	}
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Overlay{
		yielder:   yielder,
		budget:    budget,
		batchSize: batchSize,
		inflight:  make(map[int]*injection),
	}
}

// Inject appends the page's words to sink at scale. A run for the same page
// with identical words, scale and column joins the one in flight; any change
// cancels the previous run and starts over.
func (o *Overlay) Inject(ctx context.Context, page int, words []model.WordSpan, scale float64, column Column, sink Sink) error {
	sig := signature(words, scale, column)

	o.mu.Lock()
	if prev, ok := o.inflight[page]; ok {
		if prev.sig == sig {
			o.mu.Unlock()
			select {
			case <-prev.done:
				return prev.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		prev.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	inj := &injection{sig: sig, cancel: cancel, done: make(chan struct{})}
	o.inflight[page] = inj
	o.mu.Unlock()

	inj.err = o.run(runCtx, page, words, scale, column, sink)
	cancel()

	o.mu.Lock()
	if o.inflight[page] == inj {
		delete(o.inflight, page)
	}
	o.mu.Unlock()
	close(inj.done)
	return inj.err
}

// Cancel stops any in-flight injection for page.
func (o *Overlay) Cancel(page int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inj, ok := o.inflight[page]; ok {
		inj.cancel()
	}
}

func (o *Overlay) run(ctx context.Context, page int, words []model.WordSpan, scale float64, column Column, sink Sink) error {
	batch := make([]PlacedWord, 0, o.batchSize)
	sliceStart := time.Now()

	flush := func() error {
		if len(batch) > 0 {
			sink.Append(page, batch)
			batch = make([]PlacedWord, 0, o.batchSize)
		}
		if err := o.yielder.Yield(ctx); err != nil {
			return err
		}
		sliceStart = time.Now()
		return nil
	}

	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !column.contains(w.BBox) {
			continue
		}
		batch = append(batch, PlacedWord{
			Index: i,
			Word:  w,
			Box:   w.BBox.Scale(scale),
			Font:  w.FontSize * scale,
		})
		if len(batch) >= o.batchSize || time.Since(sliceStart) >= o.budget {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		sink.Append(page, batch)
	}
	return nil
}

// signature fingerprints the inputs that invalidate an injection.
func signature(words []model.WordSpan, scale float64, column Column) uint64 {
	d := xxhash.New()
	var buf [8]byte
	putFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = d.Write(buf[:])
	}
	putFloat(RoundScale(scale))
	putFloat(float64(column.Half))
	putFloat(column.Midline)
	for _, w := range words {
		_, _ = d.WriteString(w.Text)
		putFloat(w.BBox.X)
		putFloat(w.BBox.Y)
		putFloat(w.BBox.Width)
		putFloat(w.BBox.Height)
	}
	return d.Sum64()
}

package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/disintegration/imaging"
)

// ErrRasterizationCancelled is returned when a render became stale before the
// rasterizer finished. Callers swallow it.
var ErrRasterizationCancelled = errors.New("rasterization cancelled")

// Rasterizer draws one page of a document at a zoom factor and reports the
// glyph runs found on it.
type Rasterizer interface {
	Rasterize(ctx context.Context, page int, scale float64) (image.Image, []model.GlyphRun, error)
}

// Surface receives painted frames. placeholder is true for a stretched bitmap
// from another scale shown while the exact one is produced.
type Surface interface {
	Draw(img image.Image, placeholder bool)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(img image.Image, placeholder bool)

// Draw implements Surface.
func (f SurfaceFunc) Draw(img image.Image, placeholder bool) { f(img, placeholder) }

// Frame describes the outcome of a render.
type Frame struct {
	Image           image.Image
	Runs            []model.GlyphRun
	CacheHit        bool
	UsedPlaceholder bool
}

// Renderer paints pages of one document through a shared cache.
type Renderer struct {
	cache      *Cache
	rasterizer Rasterizer

	// pending tracks asynchronous cache stores.
	pending sync.WaitGroup
}

// NewRenderer creates a renderer for a document's rasterizer.
func NewRenderer(cache *Cache, rasterizer Rasterizer) *Renderer {
	return &Renderer{cache: cache, rasterizer: rasterizer}
}

// Render paints page at scale onto surface. An exact cache hit is drawn
// directly. Otherwise the closest cached scale is stretched as a placeholder
// and the rasterizer is invoked; its bitmap is painted and stored in the
// background under the exact key. When ctx is cancelled before the
// rasterizer finishes ErrRasterizationCancelled is returned.
func (r *Renderer) Render(ctx context.Context, doc string, page int, scale float64, surface Surface) (Frame, error) {
	if scale <= 0 {
		return Frame{}, fmt.Errorf("invalid scale %v", scale)
	}
	key := NewKey(doc, page, scale)

	if img, ok := r.cache.Get(key); ok {
		surface.Draw(img, false)
		return Frame{Image: img, CacheHit: true}, nil
	}

	var frame Frame
	if near, nearScale, ok := r.cache.Nearest(doc, page, key.Scale); ok && nearScale > 0 {
		surface.Draw(stretch(near, key.Scale/nearScale), true)
		frame.UsedPlaceholder = true
	}

	if ctx.Err() != nil {
		rasterizeCancelled.Inc()
		return frame, ErrRasterizationCancelled
	}

	start := time.Now()
	img, runs, err := r.rasterizer.Rasterize(ctx, page, key.Scale)
	rasterizeDuration.Observe(time.Since(start).Seconds())
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		rasterizeCancelled.Inc()
		return frame, ErrRasterizationCancelled
	}
	if err != nil {
		return frame, fmt.Errorf("failed to rasterize page %d: %w", page, err)
	}

	surface.Draw(img, false)
	frame.Image = img
	frame.Runs = runs

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.store(key, img)
	}()
	return frame, nil
}

// Wait blocks until background cache stores have finished.
func (r *Renderer) Wait() {
	r.pending.Wait()
}

// store re-encodes the bitmap as PNG and keeps the decoded copy, which drops
// any backing memory owned by the rasterizer.
func (r *Renderer) store(key Key, img image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		slog.Debug("Failed to encode page bitmap", "doc", key.Doc, "page", key.Page, "error", err)
		return
	}
	decoded, err := imaging.Decode(&buf)
	if err != nil {
		slog.Debug("Failed to decode page bitmap", "doc", key.Doc, "page", key.Page, "error", err)
		return
	}
	r.cache.Put(key, decoded)
}

// stretch resizes img by factor.
func stretch(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	if w < 1 || h < 1 {
		return img
	}
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Linear)
}

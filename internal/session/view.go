package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
)

// Render paints page at scale onto surface. Stale renders are swallowed:
// the returned error is nil and the frame has no image.
func (s *Session) Render(ctx context.Context, page int, scale float64, surface render.Surface) (render.Frame, error) {
	frame, err := s.render(ctx, page, scale, surface)
	if errors.Is(err, render.ErrRasterizationCancelled) {
		return frame, nil
	}
	return frame, err
}

func (s *Session) render(ctx context.Context, page int, scale float64, surface render.Surface) (render.Frame, error) {
	if err := s.checkPage(page); err != nil {
		return render.Frame{}, err
	}
	s.mu.Lock()
	renderer := s.renderer
	s.mu.Unlock()
	if renderer == nil {
		return render.Frame{}, ErrNoRasterizer
	}
	frame, err := renderer.Render(ctx, s.id, page, scale, surface)
	if err != nil {
		return frame, err
	}

	lum := render.Luminance(frame.Image)
	s.mu.Lock()
	s.luminance[page] = lum
	_, known := s.textLayers[page]
	s.mu.Unlock()
	if !known && frame.Runs != nil {
		s.reconstruct(page, frame.Runs)
	}
	return frame, nil
}

func (s *Session) reconstruct(page int, runs []model.GlyphRun) textlayer.Result {
	s.mu.Lock()
	p := s.pages[page]
	s.mu.Unlock()
	p.Runs = runs
	res := s.reconstructor.Reconstruct(p)

	s.mu.Lock()
	s.textLayers[page] = res
	s.mu.Unlock()
	return res
}

// TextLayer returns the selectable text of a page. Pages without usable
// native text fall back to their OCR words once recognized.
func (s *Session) TextLayer(ctx context.Context, page int) (textlayer.Result, error) {
	if err := s.checkPage(page); err != nil {
		return textlayer.Result{}, err
	}
	s.mu.Lock()
	res, ok := s.textLayers[page]
	rasterizer := s.rasterizer
	s.mu.Unlock()

	if !ok {
		if rasterizer == nil {
			return textlayer.Result{}, ErrNoRasterizer
		}
		// unit scale: only the glyph runs matter here
		_, runs, err := rasterizer.Rasterize(ctx, page, 1)
		if err != nil {
			return textlayer.Result{}, fmt.Errorf("failed to read text of page %d: %w", page, err)
		}
		res = s.reconstruct(page, runs)
	}

	if res.Analysis.NoUsableText {
		if words, ok := s.scheduler.Words(page); ok {
			res.Spans = make([]model.WordSpan, len(words))
			for i, w := range words {
				res.Spans[i] = w.Span()
			}
			textlayer.Normalize(res.Spans)
		}
	}
	return res, nil
}

// InjectOverlay appends the page's text layer to sink at scale in
// time-sliced batches. A repeated call with the same inputs joins the run
// in flight; changed inputs restart it.
func (s *Session) InjectOverlay(ctx context.Context, page int, scale float64, column render.Column, sink render.Sink) error {
	res, err := s.TextLayer(ctx, page)
	if err != nil {
		return err
	}
	err = s.overlay.Inject(ctx, page, res.Spans, scale, column, sink)
	if errors.Is(err, context.Canceled) && s.ctx.Err() == nil {
		// superseded by a newer injection
		return nil
	}
	return err
}

// SetZoom changes the zoom factor used by HandleScroll.
func (s *Session) SetZoom(zoom float64) error {
	if zoom <= 0 {
		return fmt.Errorf("invalid zoom %v", zoom)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = zoom
	s.virtual = s.layout(zoom)
	return nil
}

// HandleScroll returns the pages to mount for a scroll position. With
// AutoOCR, pages that came into view and have no usable native text are
// scheduled: the current page first, the buffer in the background.
func (s *Session) HandleScroll(ctx context.Context, offset, viewportHeight float64) render.Range {
	s.mu.Lock()
	r := s.virtual.Visible(offset, viewportHeight)
	s.mu.Unlock()

	if s.opts.AutoOCR && !r.Empty() && s.opts.Recognizer != nil {
		for page := r.First; page <= r.Last; page++ {
			priority := model.PriorityBackground
			if page == r.Current {
				priority = model.PriorityHigh
			}
			if !s.needsOCR(page) {
				continue
			}
			if _, err := s.ScheduleOcr(ctx, page, priority); err != nil {
				slog.Debug("Auto OCR not scheduled", "file_id", s.id, "page", page, "error", err)
			}
		}
	}
	return r
}

// OffsetOf returns the scroll offset of a page's top edge at the current
// zoom.
func (s *Session) OffsetOf(page int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.virtual.OffsetOf(page)
}

// needsOCR reports whether a page's native text is known to be unusable and
// it has not been recognized yet.
func (s *Session) needsOCR(page int) bool {
	if s.scheduler.Status(page) != model.StatusIdle {
		return false
	}
	s.mu.Lock()
	res, ok := s.textLayers[page]
	s.mu.Unlock()
	return ok && res.Analysis.NoUsableText
}

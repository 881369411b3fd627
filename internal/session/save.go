package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/integrity"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/render"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
)

// SaveResult reports what a save baked into the binary.
type SaveResult struct {
	FileID      string   `json:"file_id"`
	Kind        string   `json:"kind"`
	Bytes       int      `json:"bytes"`
	PageCount   int      `json:"page_count"`
	OCRPages    []int    `json:"ocr_pages,omitempty"`
	Annotations []string `json:"annotations,omitempty"`
}

// Burn bakes annotations and OCR words into source and returns the new
// binary. It does not touch the session's state; Save does.
func (s *Session) Burn(ctx context.Context, source []byte, annotations []model.Annotation, ocrWords map[int][]model.OCRWord) ([]byte, error) {
	req := &burner.Request{
		Source:      source,
		Annotations: annotations,
		OCR:         ocrWords,
		Luminance:   s.luminanceSnapshot(),
	}
	resp, err := s.worker.Submit(ctx, burner.Full, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (s *Session) luminanceSnapshot() map[int]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.luminance)
}

// Save burns pending annotations and OCR text into the document, writes it
// and records its fingerprint. On failure the previous binary is kept and a
// notice is emitted. A refused overwrite returns ErrPermissionDenied; SaveAs
// writes a copy instead.
func (s *Session) Save(ctx context.Context) (SaveResult, error) {
	if err := s.checkOpen(); err != nil {
		return SaveResult{}, err
	}
	s.burnMu.Lock()
	defer s.burnMu.Unlock()
	return s.save(ctx, s.id, true)
}

// SaveAs writes the burned document under another file id. The session
// keeps editing the original, whose pending changes stay pending.
func (s *Session) SaveAs(ctx context.Context, fileID string) (SaveResult, error) {
	if err := s.checkOpen(); err != nil {
		return SaveResult{}, err
	}
	if s.opts.Writer == nil {
		return SaveResult{}, errors.New("no writer configured")
	}
	if fileID == "" || fileID == s.id {
		return SaveResult{}, fmt.Errorf("invalid copy id %q", fileID)
	}
	s.burnMu.Lock()
	defer s.burnMu.Unlock()
	return s.save(ctx, fileID, false)
}

// save runs one burn with burnMu held. adopt makes the output the session's
// binary and flips the burned flags.
func (s *Session) save(ctx context.Context, target string, adopt bool) (SaveResult, error) {
	start := time.Now()
	defer func() { saveDuration.Observe(time.Since(start).Seconds()) }()

	unburnt, err := s.annotations.GetUnburnt(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	anns := s.annotations.List()

	s.mu.Lock()
	req := &burner.Request{
		Source:      append([]byte(nil), s.data...),
		Annotations: anns,
		OCR:         unburnt,
		Luminance:   maps.Clone(s.luminance),
	}
	kind := burner.Incremental
	if s.recordDirty || slices.ContainsFunc(anns, func(a model.Annotation) bool { return !a.IsBurned }) {
		kind = burner.Full
	}
	s.mu.Unlock()

	resp, err := s.worker.Submit(ctx, kind, req)
	if err != nil {
		savesTotal.WithLabelValues(kind.String(), "burn_error").Inc()
		slog.Error("Burn failed", "file_id", s.id, "kind", kind, "error", err)
		s.report(err)
		return SaveResult{}, err
	}

	if s.opts.Writer != nil {
		if err := s.opts.Writer.Write(ctx, target, resp.Data); err != nil {
			savesTotal.WithLabelValues(kind.String(), "write_error").Inc()
			s.report(err)
			return SaveResult{}, fmt.Errorf("failed to write %s: %w", target, err)
		}
	}

	result := SaveResult{
		FileID:    target,
		Kind:      kind.String(),
		Bytes:     len(resp.Data),
		PageCount: resp.PageCount,
	}
	if adopt {
		if result.OCRPages, err = s.markOCR(ctx, unburnt, resp.OCRPages); err != nil {
			return result, err
		}
		result.Annotations = unchanged(anns, s.annotations.List(), resp.Annotations)
		if err := s.annotations.MarkAnnotationsBurned(ctx, result.Annotations); err != nil {
			return result, err
		}
		s.mu.Lock()
		s.data = resp.Data
		if kind == burner.Full {
			s.recordDirty = false
		}
		s.mu.Unlock()
	}

	if err := s.detector.Record(ctx, target, resp.Data, resp.PageCount); err != nil {
		slog.Warn("Failed to record fingerprint", "file_id", target, "error", err)
	}
	savesTotal.WithLabelValues(kind.String(), "success").Inc()
	slog.Info("Document saved", "file_id", target, "kind", kind, "bytes", result.Bytes,
		"ocr_pages", len(result.OCRPages), "annotations", len(result.Annotations))
	return result, nil
}

// markOCR flags the burned pages whose words did not change while the burn
// ran. A page corrected meanwhile stays pending.
func (s *Session) markOCR(ctx context.Context, burned map[int][]model.OCRWord, pages []int) ([]int, error) {
	current, err := s.annotations.GetUnburnt(ctx)
	if err != nil {
		return nil, err
	}
	var marked []int
	for _, p := range pages {
		if words, ok := current[p]; ok && slices.EqualFunc(words, burned[p], sameWord) {
			marked = append(marked, p)
		}
	}
	if err := s.annotations.MarkBurned(ctx, marked); err != nil {
		return nil, err
	}
	return marked, nil
}

func sameWord(a, b model.OCRWord) bool {
	return a.Text == b.Text && a.BBox == b.BBox && a.Confidence == b.Confidence &&
		a.IsRefined == b.IsRefined && a.IsManuallyCorrected == b.IsManuallyCorrected
}

// unchanged returns the burned ids whose annotation was not edited after
// the snapshot was taken.
func unchanged(snapshot, current []model.Annotation, ids []string) []string {
	before := make(map[string]time.Time, len(snapshot))
	for _, a := range snapshot {
		before[a.ID] = a.UpdatedAt
	}
	after := make(map[string]time.Time, len(current))
	for _, a := range current {
		after[a.ID] = a.UpdatedAt
	}
	var out []string
	for _, id := range ids {
		if t, ok := after[id]; ok && t.Equal(before[id]) {
			out = append(out, id)
		}
	}
	return out
}

// ResolveConflict applies the user's choice for the conflict found when the
// document was opened.
//   - KeepExternal accepts the external binary as the new baseline and
//     drops the annotations its embedded record does not carry.
//   - AttemptMerge reapplies this session's annotations and OCR text
//     verbatim on top of the external binary; page count must be unchanged.
//   - RestorePrevious replaces the binary with the last one saved here.
func (s *Session) ResolveConflict(ctx context.Context, action integrity.Action) (SaveResult, error) {
	if err := s.checkOpen(); err != nil {
		return SaveResult{}, err
	}
	s.burnMu.Lock()
	defer s.burnMu.Unlock()

	s.mu.Lock()
	c := s.conflict
	data := s.data
	s.mu.Unlock()
	if !c.Conflicting {
		return SaveResult{}, ErrNoConflict
	}
	if !integrity.Allowed(c, action) {
		return SaveResult{}, fmt.Errorf("%w: %s for a %s conflict", ErrActionNotAllowed, action, c.Severity)
	}

	var result SaveResult
	switch action {
	case integrity.KeepExternal:
		embedded, err := burner.ReadEmbedded(data)
		if errors.Is(err, burner.ErrBurnFailed) {
			return SaveResult{}, err
		}
		if err != nil {
			slog.Warn("Ignoring unreadable embedded annotations", "file_id", s.id, "error", err)
			embedded = nil
		}
		keep := make(map[string]bool, len(embedded))
		for _, a := range embedded {
			keep[a.ID] = true
		}
		dropped, err := s.annotations.Retain(ctx, keep)
		if err != nil {
			return SaveResult{}, err
		}
		if _, err := s.annotations.Load(ctx, embedded); err != nil {
			return SaveResult{}, err
		}
		s.mu.Lock()
		s.recordDirty = false
		s.mu.Unlock()
		if err := s.detector.Record(ctx, s.id, data, s.PageCount()); err != nil {
			return SaveResult{}, err
		}
		if len(dropped) > 0 {
			slog.Info("Discarded annotations missing from external version", "file_id", s.id, "count", len(dropped))
		}
		result = SaveResult{FileID: s.id, Bytes: len(data), PageCount: s.PageCount()}

	case integrity.AttemptMerge:
		embedded, err := burner.ReadEmbedded(data)
		if err != nil {
			return SaveResult{}, err
		}
		external := make(map[string]bool, len(embedded))
		for _, a := range embedded {
			external[a.ID] = true
		}
		var ids []string
		for _, a := range s.annotations.List() {
			if a.IsBurned && !external[a.ID] {
				ids = append(ids, a.ID)
			}
		}
		if err := s.annotations.Reapply(ctx, ids); err != nil {
			return SaveResult{}, err
		}
		if err := s.annotations.ClearAllBurned(ctx); err != nil {
			return SaveResult{}, err
		}
		s.mu.Lock()
		s.recordDirty = true
		s.mu.Unlock()
		if result, err = s.save(ctx, s.id, true); err != nil {
			return SaveResult{}, err
		}

	case integrity.RestorePrevious:
		prev, ok, err := s.detector.LastGood(ctx, s.id)
		if err != nil {
			return SaveResult{}, err
		}
		if !ok {
			return SaveResult{}, errors.New("no previous version recorded")
		}
		insp, err := burner.Inspect(prev)
		if errors.Is(err, burner.ErrBurnFailed) {
			return SaveResult{}, err
		}
		if s.opts.Writer != nil {
			if err := s.opts.Writer.Write(ctx, s.id, prev); err != nil {
				s.report(err)
				return SaveResult{}, fmt.Errorf("failed to restore %s: %w", s.id, err)
			}
		}
		if err := s.replace(model.Document{ID: s.id, Name: s.name, Data: prev, PageCount: insp.PageCount}, insp); err != nil {
			return SaveResult{}, err
		}
		if _, err := s.annotations.Load(ctx, insp.Embedded); err != nil {
			return SaveResult{}, err
		}
		result = SaveResult{FileID: s.id, Bytes: len(prev), PageCount: insp.PageCount}
	}

	s.mu.Lock()
	cur := s.data
	s.conflict = integrity.Conflict{
		FileID:       s.id,
		Severity:     integrity.SeverityNone,
		CurrentHash:  integrity.SparseHash(cur),
		CurrentPages: len(s.pages),
	}
	s.mu.Unlock()
	conflictResolutions.WithLabelValues(string(action)).Inc()
	slog.Info("Conflict resolved", "file_id", s.id, "action", action, "severity", c.Severity)
	return result, nil
}

// replace swaps the session's binary, dropping everything derived from the
// old one.
func (s *Session) replace(doc model.Document, insp burner.Inspection) error {
	var rasterizer render.Rasterizer
	if s.opts.Rasterizer != nil {
		r, err := s.opts.Rasterizer(doc)
		if err != nil {
			return fmt.Errorf("failed to create rasterizer: %w", err)
		}
		rasterizer = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderer != nil {
		s.renderer.Wait()
	}
	if rasterizer != nil {
		s.rasterizer = rasterizer
		s.renderer = render.NewRenderer(s.cache, rasterizer)
	}
	s.cache.Evict(s.id)
	s.data = doc.Data
	s.pages = insp.Pages
	s.virtual = s.layout(s.zoom)
	s.luminance = make(map[int]float64)
	s.textLayers = make(map[int]textlayer.Result)
	s.recordDirty = false
	return nil
}

package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"golang.org/x/text/unicode/norm"
)

// DefaultReviewThreshold is the confidence below which a word is offered
// for manual review.
const DefaultReviewThreshold = 60.0

// IndexedWord is a word together with its position in the page's word list.
type IndexedWord struct {
	Index int           `json:"index"`
	Word  model.OCRWord `json:"word"`
}

// Refine sends the page's words to the refinement service and replaces
// their text. Boxes are untouched. A length mismatch leaves the page as it
// was and returns ErrRefinementMismatch.
func (s *Scheduler) Refine(ctx context.Context, page int) ([]model.OCRWord, error) {
	if s.opts.Refiner == nil {
		return nil, fmt.Errorf("no refiner configured: %w", ErrServiceUnavailable)
	}

	s.mu.Lock()
	if s.status[page] != model.StatusDone {
		s.mu.Unlock()
		return nil, ErrNotRecognized
	}
	words := model.CloneWords(s.words[page])
	rev := s.rev[page]
	s.mu.Unlock()

	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	refined, err := s.opts.Refiner.Refine(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to refine page %d: %w", page, err)
	}
	if len(refined) != len(words) {
		slog.Warn("Refinement word count mismatch", "page", page, "sent", len(words), "received", len(refined))
		return nil, fmt.Errorf("page %d: sent %d words, received %d: %w", page, len(words), len(refined), ErrRefinementMismatch)
	}

	for i := range words {
		words[i].Text = norm.NFC.String(refined[i])
		words[i].IsRefined = true
	}

	if err := s.replace(ctx, page, rev, words); err != nil {
		return nil, err
	}
	return model.CloneWords(words), nil
}

// CorrectWord replaces one word's text with a manual correction. The word
// gets full confidence and the page must be burned again.
func (s *Scheduler) CorrectWord(ctx context.Context, page, index int, text string) (model.OCRWord, error) {
	s.mu.Lock()
	if s.status[page] != model.StatusDone {
		s.mu.Unlock()
		return model.OCRWord{}, ErrNotRecognized
	}
	words := model.CloneWords(s.words[page])
	rev := s.rev[page]
	s.mu.Unlock()

	if index < 0 || index >= len(words) {
		return model.OCRWord{}, fmt.Errorf("page %d word %d: %w", page, index, ErrWordIndex)
	}
	words[index].Text = norm.NFC.String(text)
	words[index].Confidence = 100
	words[index].IsManuallyCorrected = true

	if err := s.replace(ctx, page, rev, words); err != nil {
		return model.OCRWord{}, err
	}
	return words[index], nil
}

// replace persists new words for a page, provided nobody changed the page
// since rev was read, and clears the page's burned state. The store is
// written first; memory only changes once it succeeded.
func (s *Scheduler) replace(ctx context.Context, page int, rev uint64, words []model.OCRWord) error {
	s.mu.Lock()
	if s.rev[page] != rev {
		s.mu.Unlock()
		return fmt.Errorf("page %d changed concurrently", page)
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.PutOCR(ctx, s.opts.FileID, page, words); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to persist page %d: %w", page, err)
		}
	}
	s.words[page] = words
	s.rev[page]++
	s.mu.Unlock()

	if s.opts.Burns != nil {
		if err := s.opts.Burns.ClearBurned(ctx, page); err != nil {
			return fmt.Errorf("failed to clear burned state of page %d: %w", page, err)
		}
	}
	return nil
}

// LowConfidence lists the words of a page below threshold that were not
// corrected by hand. A non-positive threshold uses DefaultReviewThreshold.
func (s *Scheduler) LowConfidence(page int, threshold float64) []IndexedWord {
	if threshold <= 0 {
		threshold = DefaultReviewThreshold
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []IndexedWord
	for i, w := range s.words[page] {
		if w.Confidence < threshold && !w.IsManuallyCorrected {
			out = append(out, IndexedWord{Index: i, Word: w})
		}
	}
	return out
}

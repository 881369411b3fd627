package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// MaxBatchPages is the hard ceiling on pages per batch run.
const MaxBatchPages = 50

// BatchRequest describes a batch run over an inclusive page range.
type BatchRequest struct {
	Start int `json:"start"`
	End   int `json:"end"`
	// Markdown also produces Markdown and an HTML preview per page.
	Markdown bool `json:"markdown"`
	// TranslateTo, when set, translates each page's lines to that language.
	TranslateTo string           `json:"translate_to,omitempty"`
	Progress    ProgressCallback `json:"-"`
}

// Validate checks the page range.
func (r BatchRequest) Validate() error {
	if r.Start < 0 || r.End < r.Start {
		return fmt.Errorf("invalid page range %d-%d", r.Start, r.End)
	}
	if n := r.End - r.Start + 1; n > MaxBatchPages {
		return fmt.Errorf("%d pages requested, at most %d allowed: %w", n, MaxBatchPages, ErrBatchTooLarge)
	}
	return nil
}

// BatchPage is the output for one page.
type BatchPage struct {
	Page        int             `json:"page"`
	Words       []model.OCRWord `json:"words"`
	Text        string          `json:"text"`
	Markdown    string          `json:"markdown,omitempty"`
	HTML        string          `json:"html,omitempty"`
	Translation []string        `json:"translation,omitempty"`
}

// BatchResult collects the pages completed by a batch run.
type BatchResult struct {
	Pages  []BatchPage `json:"pages"`
	Failed []int       `json:"failed,omitempty"`
	// Halted is set when the run stopped early because of a quota.
	Halted bool `json:"halted"`
	// ResumeFrom is the last completed page, or Start-1 when none completed.
	// A resumed run starts at ResumeFrom+1.
	ResumeFrom int `json:"resume_from"`
}

// RunBatch recognizes every page of the range in order, reusing cached
// pages. A quota error halts the run: completed pages are kept and returned
// together with an error wrapping ErrQuotaExceeded. Other page failures are
// recorded in Failed and the run continues.
func (s *Scheduler) RunBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	result := BatchResult{ResumeFrom: req.Start - 1}
	if err := req.Validate(); err != nil {
		return result, err
	}
	progress := req.Progress
	if progress == nil {
		progress = NoOpProgress{}
	}
	if req.TranslateTo != "" && s.opts.Translator == nil {
		return result, fmt.Errorf("no translator configured: %w", ErrServiceUnavailable)
	}

	var renderer *MarkdownRenderer
	if req.Markdown {
		renderer = NewMarkdownRenderer()
	}

	total := req.End - req.Start + 1
	progress.OnStart(total)
	defer func() { progress.OnComplete(result) }()

	done := 0
	for page := req.Start; page <= req.End; page++ {
		out, err := s.batchPage(ctx, page, req, renderer)
		done++
		if err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				result.Halted = true
				batchPagesTotal.WithLabelValues("halted").Inc()
				slog.Warn("Batch halted on quota", "page", page, "resume_from", result.ResumeFrom)
				progress.OnError(page, err)
				return result, fmt.Errorf("batch halted at page %d: %w", page, err)
			}
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed = append(result.Failed, page)
			batchPagesTotal.WithLabelValues("failed").Inc()
			progress.OnError(page, err)
			progress.OnPage(page, done, total)
			continue
		}

		result.Pages = append(result.Pages, out)
		result.ResumeFrom = page
		batchPagesTotal.WithLabelValues("done").Inc()
		progress.OnPage(page, done, total)
	}
	return result, nil
}

func (s *Scheduler) batchPage(ctx context.Context, page int, req BatchRequest, renderer *MarkdownRenderer) (BatchPage, error) {
	t, err := s.Schedule(ctx, page, model.PriorityBackground)
	if err != nil {
		return BatchPage{}, err
	}
	words, err := t.Wait(ctx)
	if err != nil {
		return BatchPage{}, err
	}

	lines := Lines(words)
	out := BatchPage{Page: page, Words: words, Text: strings.Join(lines, "\n")}

	if renderer != nil {
		out.Markdown = renderer.Markdown(words)
		if out.HTML, err = renderer.HTML(out.Markdown); err != nil {
			return BatchPage{}, err
		}
	}

	if req.TranslateTo != "" && len(lines) > 0 {
		translated, err := s.opts.Translator.Translate(ctx, lines, req.TranslateTo)
		if err != nil {
			return BatchPage{}, fmt.Errorf("failed to translate page %d: %w", page, err)
		}
		if len(translated) != len(lines) {
			return BatchPage{}, fmt.Errorf("page %d: translation returned %d lines for %d", page, len(translated), len(lines))
		}
		out.Translation = translated
	}
	return out, nil
}

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
)

// ScheduleOcr requests recognition of page. Failures are delivered as
// notices as well as through the ticket.
func (s *Session) ScheduleOcr(ctx context.Context, page int, priority model.Priority) (*ocr.Ticket, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.checkPage(page); err != nil {
		return nil, err
	}
	if _, ok := s.scheduler.Words(page); !ok && s.opts.Recognizer == nil {
		return nil, ErrNoRecognizer
	}
	t, err := s.scheduler.Schedule(ctx, page, priority)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-t.Done():
		case <-s.ctx.Done():
			return
		}
		if _, err := t.Wait(s.ctx); err != nil && !errors.Is(err, ocr.ErrClosed) {
			s.report(err)
		}
	}()
	return t, nil
}

// RecognizePage schedules page at high priority and waits for its words.
func (s *Session) RecognizePage(ctx context.Context, page int) ([]model.OCRWord, error) {
	t, err := s.ScheduleOcr(ctx, page, model.PriorityHigh)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// OcrStatus returns the recognition state of page.
func (s *Session) OcrStatus(page int) model.JobStatus {
	return s.scheduler.Status(page)
}

// OcrJobs lists the queued and running recognitions.
func (s *Session) OcrJobs() []model.OcrJob {
	return s.scheduler.Jobs()
}

// Words returns the recognized words of page.
func (s *Session) Words(page int) ([]model.OCRWord, bool) {
	return s.scheduler.Words(page)
}

// RefinePage runs the language pass over a recognized page.
func (s *Session) RefinePage(ctx context.Context, page int) ([]model.OCRWord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	words, err := s.scheduler.Refine(ctx, page)
	if err != nil {
		s.report(err)
		return nil, err
	}
	return words, nil
}

// CorrectWord replaces the text of one recognized word. The page's OCR data
// becomes pending again, so the next save burns the correction.
func (s *Session) CorrectWord(ctx context.Context, page, index int, text string) (model.OCRWord, error) {
	if err := s.checkOpen(); err != nil {
		return model.OCRWord{}, err
	}
	return s.scheduler.CorrectWord(ctx, page, index, text)
}

// LowConfidence returns the words of page below threshold, for review.
func (s *Session) LowConfidence(page int, threshold float64) []ocr.IndexedWord {
	return s.scheduler.LowConfidence(page, threshold)
}

// GetUnburntOcr returns the recognized pages whose text is not yet burned
// into the binary.
func (s *Session) GetUnburntOcr(ctx context.Context) (map[int][]model.OCRWord, error) {
	return s.annotations.GetUnburnt(ctx)
}

// MarkBurned flags the pages' OCR data as burned.
func (s *Session) MarkBurned(ctx context.Context, pages []int) error {
	return s.annotations.MarkBurned(ctx, pages)
}

// RunBatch recognizes a page range in order. A quota halt is reported as a
// notice naming the page to resume from.
func (s *Session) RunBatch(ctx context.Context, req ocr.BatchRequest) (ocr.BatchResult, error) {
	if err := s.checkOpen(); err != nil {
		return ocr.BatchResult{}, err
	}
	if req.End >= s.PageCount() {
		return ocr.BatchResult{ResumeFrom: req.Start - 1}, fmt.Errorf("%w: batch ends at page %d of %d", ErrPageRange, req.End, s.PageCount())
	}
	res, err := s.scheduler.RunBatch(ctx, req)
	if res.Halted {
		s.notify(Notice{
			Kind:    NoticeQuotaExceeded,
			Message: fmt.Sprintf("The recognition quota is used up. %d pages were processed.", len(res.Pages)),
			Remedy:  fmt.Sprintf("resume-from:%d", res.ResumeFrom+1),
			Page:    res.ResumeFrom + 1,
		})
	} else if err != nil {
		s.report(err)
	}
	return res, err
}

package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned by remote services when the account quota
	// is exhausted. Batch processing halts on it.
	ErrQuotaExceeded = errors.New("ocr quota exceeded")
	// ErrRefinementMismatch is returned when the refinement service answers
	// with a different number of words than it was sent.
	ErrRefinementMismatch = errors.New("refinement returned a different word count")
	// ErrNotRecognized is returned for operations that need a recognized page.
	ErrNotRecognized = errors.New("page has not been recognized")
	// ErrWordIndex is returned when a correction targets a missing word.
	ErrWordIndex = errors.New("word index out of range")
	// ErrBatchTooLarge is returned for batch ranges over MaxBatchPages.
	ErrBatchTooLarge = errors.New("batch range too large")
	// ErrServiceUnavailable is returned when the remote service an
	// operation needs is not configured.
	ErrServiceUnavailable = errors.New("service not configured")
	// ErrClosed is returned after the scheduler was closed.
	ErrClosed = errors.New("scheduler closed")
)

// ServiceError is a transient failure of the recognition service. The page
// returns to idle and may be scheduled again.
type ServiceError struct {
	Page int
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("ocr service failed on page %d: %v", e.Page, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether scheduling the page again may succeed.
func (e *ServiceError) Retryable() bool {
	return !errors.Is(e.Err, ErrQuotaExceeded)
}

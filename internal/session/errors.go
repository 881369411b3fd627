package session

import "errors"

var (
	// ErrPermissionDenied is returned when the file transport refuses to
	// overwrite the document. SaveAs writes a copy instead.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNoRasterizer is returned when a page must be drawn but the session
	// has no rasterizer.
	ErrNoRasterizer = errors.New("no rasterizer configured")
	// ErrNoRecognizer is returned when OCR is requested without a
	// recognition service.
	ErrNoRecognizer = errors.New("no recognizer configured")
	// ErrNoConflict is returned by ResolveConflict when nothing conflicts.
	ErrNoConflict = errors.New("no conflict to resolve")
	// ErrActionNotAllowed is returned for a resolution the conflict does
	// not offer.
	ErrActionNotAllowed = errors.New("conflict action not allowed")
	// ErrPageRange is returned for a page outside the document.
	ErrPageRange = errors.New("page out of range")
)

package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
)

// NoticeKind classifies a user-facing notice.
type NoticeKind string

const (
	NoticeOCRFailed        NoticeKind = "ocr-failed"
	NoticeQuotaExceeded    NoticeKind = "quota-exceeded"
	NoticeBurnFailed       NoticeKind = "burn-failed"
	NoticePermissionDenied NoticeKind = "permission-denied"
	NoticeConflict         NoticeKind = "conflict"
	NoticeSyncDeferred     NoticeKind = "sync-deferred"
)

// Notice is an error the user can act on. Remedy names the suggested
// follow-up action.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Remedy  string     `json:"remedy,omitempty"`
	Page    int        `json:"page,omitempty"`
}

// noticeFor maps an engine error to a notice. Errors the user cannot act on
// yield false.
func noticeFor(err error) (Notice, bool) {
	var se *ocr.ServiceError
	switch {
	case err == nil:
		return Notice{}, false
	case errors.Is(err, ocr.ErrQuotaExceeded):
		return Notice{Kind: NoticeQuotaExceeded, Message: "The recognition quota is used up.", Remedy: "resume-later"}, true
	case errors.As(err, &se):
		return Notice{
			Kind:    NoticeOCRFailed,
			Message: fmt.Sprintf("Text recognition failed on page %d.", se.Page+1),
			Remedy:  "retry",
			Page:    se.Page,
		}, true
	case errors.Is(err, burner.ErrBurnFailed):
		return Notice{Kind: NoticeBurnFailed, Message: "The document could not be saved. Your previous version is unchanged.", Remedy: "retry"}, true
	case errors.Is(err, ErrPermissionDenied):
		return Notice{Kind: NoticePermissionDenied, Message: "You cannot overwrite this file.", Remedy: "save-as"}, true
	default:
		return Notice{}, false
	}
}

// notify queues n without blocking. Notices are dropped when nobody reads
// them.
func (s *Session) notify(n Notice) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	if s.noticesClosed {
		return
	}
	select {
	case s.notices <- n:
	default:
		slog.Debug("Notice dropped", "kind", n.Kind, "file_id", s.id)
	}
}

// report turns err into a notice when the user can act on it and logs the
// rest at debug level.
func (s *Session) report(err error) {
	if n, ok := noticeFor(err); ok {
		s.notify(n)
		return
	}
	if err != nil {
		slog.Debug("Engine error absorbed", "file_id", s.id, "error", err)
	}
}

// Notices returns the notice stream. It is closed by Close.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

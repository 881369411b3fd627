// Package burner bakes annotations and OCR text into a PDF. Burns run on a
// dedicated worker goroutine that owns the source buffer while it works.
package burner

import (
	"errors"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

var (
	// ErrBurnFailed wraps every burn failure. No output is produced and
	// the caller keeps its previous binary.
	ErrBurnFailed = errors.New("burn failed")
	// ErrWorkerClosed is returned by Submit after Close.
	ErrWorkerClosed = errors.New("burn worker closed")
)

// Kind selects what a burn writes.
type Kind int

const (
	// Full draws pending annotations, writes OCR text and rewrites the
	// embedded annotation record.
	Full Kind = iota
	// Incremental only appends OCR text; annotation layers are untouched.
	Incremental
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Request is the input of one burn.
type Request struct {
	// Source is the current binary. Submit moves it: the caller's field is
	// nil afterwards.
	Source []byte
	// Annotations is the complete collection. Burned ones are only
	// recorded, unburned ones are drawn too.
	Annotations []model.Annotation
	// OCR holds the pending OCR words per page.
	OCR map[int][]model.OCRWord
	// Luminance is the mean luminance per page, used to pick the highlight
	// blend mode. Missing pages count as light.
	Luminance map[int]float64
}

// Response is the output of a burn.
type Response struct {
	Data      []byte
	PageCount int
	// OCRPages lists the pages whose OCR text was written.
	OCRPages []int
	// Annotations lists the ids that are now burned.
	Annotations []string
}

// pending reports whether the request would change the document.
func (r *Request) pending(kind Kind) bool {
	if len(r.OCR) > 0 {
		return true
	}
	if kind == Incremental {
		return false
	}
	for _, a := range r.Annotations {
		if !a.IsBurned {
			return true
		}
	}
	return false
}

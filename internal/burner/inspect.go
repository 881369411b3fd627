package burner

import (
	"fmt"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// Inspection is what a session needs to know about a binary when opening it.
type Inspection struct {
	PageCount int
	// Pages carries the page sizes in document units; Runs are not filled.
	Pages    []model.Page
	Embedded []model.Annotation
}

// Inspect reads data once and reports its pages and embedded annotations.
// A malformed embedded record is logged by the caller, not fatal here: the
// error is returned alongside a usable inspection.
func Inspect(data []byte) (Inspection, error) {
	ctx, err := readContext(data)
	if err != nil {
		return Inspection{}, err
	}
	out := Inspection{PageCount: ctx.PageCount}

	dims, err := ctx.PageDims()
	if err != nil {
		return Inspection{}, fmt.Errorf("%w: failed to read page sizes: %w", ErrBurnFailed, err)
	}
	out.Pages = make([]model.Page, len(dims))
	for i, d := range dims {
		out.Pages[i] = model.Page{Index: i, Width: d.Width, Height: d.Height}
	}

	out.Embedded, err = readEmbedded(ctx)
	return out, err
}

package textlayer

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"golang.org/x/text/unicode/norm"
)

// Options configures a Reconstructor.
type Options struct {
	// ColumnMode reads the left half of the page before the right half.
	ColumnMode bool
	// DensityThreshold overrides DefaultDensityThreshold.
	DensityThreshold float64
	// Measurer performs the geometry correction pass; nil skips it.
	Measurer Measurer
}

// Result is the reconstructed text layer of one page.
type Result struct {
	Page     int              `json:"page"`
	Spans    []model.WordSpan `json:"spans"`
	Analysis Analysis         `json:"analysis"`
}

// Reconstructor converts glyph runs into word spans.
type Reconstructor struct {
	opts Options
}

// New creates a Reconstructor.
func New(opts Options) *Reconstructor {
	if opts.DensityThreshold <= 0 {
		opts.DensityThreshold = DefaultDensityThreshold
	}
	return &Reconstructor{opts: opts}
}

// Reconstruct builds the text layer for a page. Span geometry is in unscaled
// document units with a top-left origin.
func (r *Reconstructor) Reconstruct(page model.Page) Result {
	runs := make([]placedRun, 0, len(page.Runs))
	for i, run := range page.Runs {
		run.Text = norm.NFC.String(run.Text)
		geo := Decompose(run, page.Height)
		if geo.FontHeight <= 0 {
			continue
		}
		if geo.Advance <= 0 && !isBlank(run.Text) {
			geo.Advance = estimateAdvance(run.Text, geo.FontWidth)
		}
		runs = append(runs, placedRun{run: run, geo: geo, seq: i})
	}

	var spans []model.WordSpan
	widthRatio := make(map[int]float64)
	for _, l := range readingOrder(runs, r.opts.ColumnMode, page.Width) {
		for _, s := range mergeLine(l) {
			if s.Text == "" {
				continue
			}
			widthRatio[len(spans)] = fontWidthRatio(l, s)
			spans = append(spans, s)
		}
	}

	correctScale(spans, widthRatio, r.opts.Measurer)

	a := analyze(page, spans, r.opts.DensityThreshold)
	if a.NoUsableText {
		slog.Debug("Page has no usable native text", "page", page.Index, "chars", a.Chars, "density", a.Density)
	}

	return Result{Page: page.Index, Spans: spans, Analysis: a}
}

// fontWidthRatio returns the anisotropic font scale (width / height) of the
// first run that starts the span; it is the provisional horizontal scale.
func fontWidthRatio(l line, s model.WordSpan) float64 {
	for _, pr := range l.runs {
		if pr.run.FontName == s.FontName && math.Abs(pr.geo.X-s.BBox.X) < 1e-6 && pr.geo.FontHeight > 0 {
			return pr.geo.FontWidth / pr.geo.FontHeight
		}
	}
	return 1
}

// Lines groups spans into visual lines, top to bottom, each ordered by x.
func Lines(spans []model.WordSpan) [][]model.WordSpan {
	if len(spans) == 0 {
		return nil
	}

	ordered := make([]model.WordSpan, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		tol := LineTolerance * math.Min(a.BBox.Height, b.BBox.Height)
		if math.Abs(a.BBox.Bottom()-b.BBox.Bottom()) > tol {
			return a.BBox.Bottom() < b.BBox.Bottom()
		}
		return a.BBox.X < b.BBox.X
	})

	lines := [][]model.WordSpan{{ordered[0]}}
	for _, s := range ordered[1:] {
		cur := lines[len(lines)-1]
		prev := cur[len(cur)-1]
		tol := LineTolerance * math.Min(prev.BBox.Height, s.BBox.Height)
		if math.Abs(s.BBox.Bottom()-prev.BBox.Bottom()) > tol {
			lines = append(lines, []model.WordSpan{s})
			continue
		}
		lines[len(lines)-1] = append(cur, s)
	}
	return lines
}

// Plain linearizes spans into text, one output line per visual line.
func Plain(spans []model.WordSpan) string {
	var sb strings.Builder
	for i, l := range Lines(spans) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, s := range l {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Normalize applies Unicode NFC to every span's text.
func Normalize(spans []model.WordSpan) {
	for i := range spans {
		spans[i].Text = norm.NFC.String(spans[i].Text)
	}
}

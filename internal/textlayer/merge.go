package textlayer

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

const (
	// WordBreakRatio is the gap, as a fraction of font size, at which a new
	// span starts.
	WordBreakRatio = 0.2
	// TouchEpsilon absorbs coordinate rounding, in document units. Runs closer
	// than this touch and are concatenated without a space.
	TouchEpsilon = 1e-6
	// FontSizeTolerance is the absolute font-size difference still treated as
	// the same size.
	FontSizeTolerance = 0.5
)

// spanBuilder accumulates runs into one span.
type spanBuilder struct {
	text  strings.Builder
	box   model.BBox
	font  string
	size  float64
	angle float64
	// explicitSpace is set when a whitespace-only run followed the last
	// appended run.
	explicitSpace bool
}

func newSpanBuilder(r placedRun) *spanBuilder {
	b := &spanBuilder{
		box:   r.geo.Box(),
		font:  r.run.FontName,
		size:  r.geo.FontHeight,
		angle: r.geo.Angle,
	}
	b.text.WriteString(r.run.Text)
	return b
}

// gapTo returns the horizontal distance from the span's right edge to r.
func (b *spanBuilder) gapTo(r placedRun) float64 {
	return r.geo.X - b.box.Right()
}

// accepts reports whether r continues this span.
func (b *spanBuilder) accepts(r placedRun) bool {
	if r.run.FontName != b.font {
		return false
	}
	if math.Abs(r.geo.FontHeight-b.size) > FontSizeTolerance {
		return false
	}
	return b.gapTo(r) < WordBreakRatio*b.size
}

// append merges r into the span, inserting at most one space at the seam.
func (b *spanBuilder) append(r placedRun) {
	gap := b.gapTo(r)
	text := r.run.Text
	if endsWithSpace(b.text.String()) {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
	} else if !startsWithSpace(text) && (b.explicitSpace || gap > TouchEpsilon) {
		b.text.WriteByte(' ')
	}
	b.text.WriteString(text)
	b.box = b.box.Union(r.geo.Box())
	b.explicitSpace = false
}

func (b *spanBuilder) span() model.WordSpan {
	return model.WordSpan{
		Text:            strings.TrimSpace(b.text.String()),
		BBox:            b.box,
		Confidence:      100,
		Source:          model.SourceNative,
		FontName:        b.font,
		FontSize:        b.size,
		HorizontalScale: 1,
		Angle:           b.angle,
	}
}

// mergeLine de-fragments the runs of one line into word spans.
func mergeLine(l line) []model.WordSpan {
	var spans []model.WordSpan
	var cur *spanBuilder

	for _, r := range l.runs {
		if isBlank(r.run.Text) {
			if cur != nil {
				cur.explicitSpace = true
			}
			continue
		}
		if cur != nil && cur.accepts(r) {
			cur.append(r)
			continue
		}
		if cur != nil {
			spans = append(spans, cur.span())
		}
		cur = newSpanBuilder(r)
	}
	if cur != nil {
		spans = append(spans, cur.span())
	}
	return spans
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}

// estimateAdvance guesses a run's width when the rasterizer reports none:
// half an em per Latin character and 0.9 em for CJK.
func estimateAdvance(text string, fontWidth float64) float64 {
	var w float64
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
			w += 0.9
		} else {
			w += 0.5
		}
	}
	return w * fontWidth
}

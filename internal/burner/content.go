package burner

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"golang.org/x/text/encoding/charmap"
)

const (
	defaultStrokeWidth = 2.0
	// ocrDescent is the share of the word box below the baseline.
	ocrDescent = 0.2
	minTz      = 10.0
	maxTz      = 1000.0
)

// pageSpace maps top-left document coordinates to PDF user space.
type pageSpace struct {
	llx, lly float64
	width    float64
	height   float64
}

func (s pageSpace) x(v float64) float64 { return s.llx + v }

// y converts a top-left y coordinate to a y-up one.
func (s pageSpace) y(v float64) float64 { return s.lly + s.height - v }

// rect returns the lower-left corner and size of a box in user space.
func (s pageSpace) rect(b model.BBox) (x, y, w, h float64) {
	return s.x(b.X), s.y(b.Bottom()), b.Width, b.Height
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

// stream accumulates content stream operators.
type stream struct {
	sb strings.Builder
}

func (s *stream) op(args ...string) {
	s.sb.WriteString(strings.Join(args, " "))
	s.sb.WriteByte('\n')
}

func (s *stream) bytes() []byte { return []byte(s.sb.String()) }

func (s *stream) empty() bool { return s.sb.Len() == 0 }

func colorOps(c model.RGB, op string) []string {
	return []string{num(c.R), num(c.G), num(c.B), op}
}

// drawHighlight fills the box through the named graphics state.
func drawHighlight(s *stream, space pageSpace, a model.Annotation, gs string) {
	x, y, w, h := space.rect(*a.BBox)
	s.op("q")
	s.op("/"+gs, "gs")
	s.op(colorOps(model.ColorOr(a.Color, model.HighlightYellow), "rg")...)
	s.op(num(x), num(y), num(w), num(h), "re", "f")
	s.op("Q")
}

// drawInk strokes every path of an ink annotation.
func drawInk(s *stream, space pageSpace, a model.Annotation, gs string) {
	width := a.StrokeWidth
	if width <= 0 {
		width = defaultStrokeWidth
	}
	s.op("q")
	s.op("/"+gs, "gs")
	s.op(colorOps(model.ColorOr(a.Color, model.HighlightYellow), "RG")...)
	s.op(num(width), "w", "1", "J", "1", "j")
	for _, path := range a.Paths {
		if len(path) == 0 {
			continue
		}
		s.op(num(space.x(path[0].X)), num(space.y(path[0].Y)), "m")
		if len(path) == 1 {
			// a dot: zero-length segment with round caps
			s.op(num(space.x(path[0].X)), num(space.y(path[0].Y)), "l")
		}
		for _, p := range path[1:] {
			s.op(num(space.x(p.X)), num(space.y(p.Y)), "l")
		}
		s.op("S")
	}
	s.op("Q")
}

// widthFunc measures text at a font size in user space units.
type widthFunc func(text string, size float64) float64

// writeOCR emits invisible text for each word, scaled horizontally so it
// spans the word box.
func writeOCR(s *stream, space pageSpace, words []model.OCRWord, font string, measure widthFunc) int {
	written := 0
	s.op("q")
	s.op("BT")
	s.op("3", "Tr")
	for _, w := range words {
		if w.Text == "" || w.BBox.IsEmpty() {
			continue
		}
		size := w.BBox.Height
		tz := 100.0
		if natural := measure(w.Text, size); natural > 0 {
			tz = math.Max(minTz, math.Min(maxTz, 100*w.BBox.Width/natural))
		}
		x, y, _, h := space.rect(w.BBox)
		s.op("/"+font, num(size), "Tf")
		s.op(num(tz), "Tz")
		s.op("1", "0", "0", "1", num(x), num(y+ocrDescent*h), "Tm")
		s.op(hexText(w.Text), "Tj")
		written++
	}
	s.op("ET")
	s.op("Q")
	return written
}

// hexText encodes text for a WinAnsi font as a hex string. Runes outside the
// code page become '?'.
func hexText(text string) string {
	enc := charmap.Windows1252
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := enc.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return "<" + hex.EncodeToString(out) + ">"
}

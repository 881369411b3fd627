// Package textlayer reconstructs selectable word spans from raw glyph runs.
//
// The pipeline is: geometry extraction, reading-order sort, de-fragmentation
// merge and a measuring pass that corrects horizontal scale so selection boxes
// line up with the raster underneath.
package textlayer

import (
	"math"
	"strings"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

const (
	// DefaultAscent is the ascent ratio used when the font reports none.
	DefaultAscent = 0.85
	// SerifAscent is used for serif-like font names without metrics.
	SerifAscent = 0.89
)

// serifHints are lowercase font-name fragments that indicate a serif face.
var serifHints = []string{"serif", "times", "roman", "georgia", "garamond", "minion", "palatino", "cambria"}

// Geometry is the decomposed placement of one glyph run in top-left page space.
type Geometry struct {
	X          float64 // left edge of the baseline origin
	Baseline   float64 // baseline y, measured downward from the top of the page
	FontHeight float64 // vertical font scale (font size)
	FontWidth  float64 // horizontal font scale
	Angle      float64 // rotation in radians
	Ascent     float64 // ascent ratio used for the box
	Advance    float64 // advance width in page units
}

// Top returns the top edge of the run's box.
func (g Geometry) Top() float64 { return g.Baseline - g.FontHeight*g.Ascent }

// Box returns the axis-aligned box of the run.
func (g Geometry) Box() model.BBox {
	return model.BBox{X: g.X, Y: g.Top(), Width: g.Advance, Height: g.FontHeight}
}

// Decompose splits a run's text matrix into baseline position, anisotropic
// font size and rotation. pageHeight flips PDF y-up space into top-left space.
func Decompose(run model.GlyphRun, pageHeight float64) Geometry {
	a, b, c, d, e, f := run.Transform[0], run.Transform[1], run.Transform[2],
		run.Transform[3], run.Transform[4], run.Transform[5]

	height := math.Hypot(c, d)
	width := math.Hypot(a, b)
	if height == 0 {
		height = width
	}

	return Geometry{
		X:          e,
		Baseline:   pageHeight - f,
		FontHeight: height,
		FontWidth:  width,
		Angle:      math.Atan2(b, a),
		Ascent:     AscentRatio(run.FontName, run.Ascent),
		Advance:    run.Width,
	}
}

// AscentRatio returns the font's reported ascent or a name-based default.
func AscentRatio(fontName string, reported float64) float64 {
	if reported > 0 && reported <= 1.5 {
		return reported
	}
	if LooksSerif(fontName) {
		return SerifAscent
	}
	return DefaultAscent
}

// LooksSerif reports whether a font name suggests a serif face.
func LooksSerif(fontName string) bool {
	name := strings.ToLower(fontName)
	if strings.Contains(name, "sans") {
		return false
	}
	for _, hint := range serifHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

package textlayer

import (
	"fmt"
	"math"
	"sync"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

const (
	minHorizontalScale = 0.25
	maxHorizontalScale = 4.0
	// minFaceSize is the smallest cached face size.
	minFaceSize = 0.25
)

// Measurer returns the rendered width of text at a font size.
type Measurer interface {
	Measure(fontName, text string, size float64) float64
}

// FontMeasurer measures text with a substitute face (Go Regular). Embedded
// document fonts are not available to the text layer, so every span is
// measured with the substitute and corrected afterwards.
type FontMeasurer struct {
	mu        sync.Mutex
	font      *opentype.Font
	faces     map[float64]font.Face
	attempted map[string]struct{}
}

// NewFontMeasurer parses the substitute font.
func NewFontMeasurer() (*FontMeasurer, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse substitute font: %w", err)
	}
	return &FontMeasurer{
		font:      f,
		faces:     make(map[float64]font.Face),
		attempted: make(map[string]struct{}),
	}, nil
}

// Measure implements Measurer.
func (m *FontMeasurer) Measure(fontName, text string, size float64) float64 {
	if text == "" || !(size > 0) || math.IsInf(size, 0) {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempted[fontName] = struct{}{}
	key := math.Max(math.Round(size*4)/4, minFaceSize)
	face, ok := m.faces[key]
	if !ok {
		var err error
		face, err = opentype.NewFace(m.font, &opentype.FaceOptions{
			Size:    key,
			DPI:     72,
			Hinting: font.HintingNone,
		})
		if err != nil {
			return 0
		}
		m.faces[key] = face
	}
	adv := font.MeasureString(face, text)
	return float64(adv) / 64 * (size / key)
}

// Attempted returns the set of document font names that were substituted.
func (m *FontMeasurer) Attempted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.attempted))
	for n := range m.attempted {
		names = append(names, n)
	}
	return names
}

// Reset drops cached faces and the attempted-font set.
func (m *FontMeasurer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.faces {
		_ = f.Close()
	}
	m.faces = make(map[float64]font.Face)
	m.attempted = make(map[string]struct{})
}

// correctScale runs the two-pass geometry correction. The first pass lays
// the text out with the provisional scale from the font matrix; the second
// measures it and stretches it to the target width of the box.
func correctScale(spans []model.WordSpan, widthRatio map[int]float64, m Measurer) {
	if m == nil {
		return
	}
	for i := range spans {
		s := &spans[i]
		provisional := 1.0
		if r, ok := widthRatio[i]; ok && r > 0 {
			provisional = r
		}
		measured := m.Measure(s.FontName, s.Text, s.FontSize) * provisional
		if !(measured > 0) || math.IsInf(measured, 0) || s.BBox.Width <= 0 {
			s.HorizontalScale = provisional
			continue
		}
		s.HorizontalScale = clamp(provisional*s.BBox.Width/measured, minHorizontalScale, maxHorizontalScale)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

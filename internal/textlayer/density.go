package textlayer

import (
	"strings"
	"unicode"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// DefaultDensityThreshold is the minimum native-text density, in characters
// per 1000 square units, for a page to count as having usable text.
const DefaultDensityThreshold = 0.05

// Analysis describes how much native text a page carries.
type Analysis struct {
	Chars        int     `json:"chars"`
	Words        int     `json:"words"`
	Density      float64 `json:"density"`
	Coverage     float64 `json:"coverage"` // share of page area covered by spans (0-1)
	NoUsableText bool    `json:"no_usable_text"`
}

// analyze scores the reconstructed spans of a page. Pages below threshold
// are flagged and routed to OCR.
func analyze(page model.Page, spans []model.WordSpan, threshold float64) Analysis {
	if threshold <= 0 {
		threshold = DefaultDensityThreshold
	}

	var a Analysis
	var covered float64
	for _, s := range spans {
		for _, r := range s.Text {
			if !unicode.IsSpace(r) {
				a.Chars++
			}
		}
		a.Words += len(strings.Fields(s.Text))
		covered += s.BBox.Width * s.BBox.Height
	}

	area := page.Width * page.Height
	if area > 0 {
		a.Density = float64(a.Chars) / area * 1000
		a.Coverage = covered / area
		if a.Coverage > 1 {
			a.Coverage = 1
		}
	}
	a.NoUsableText = a.Chars == 0 || a.Density < threshold
	return a
}

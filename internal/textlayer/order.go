package textlayer

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// LineTolerance is the fraction of the smaller font size within which two
// baselines are considered the same line.
const LineTolerance = 0.4

// placedRun is a glyph run with its decomposed geometry.
type placedRun struct {
	run model.GlyphRun
	geo Geometry
	seq int // original stream position, keeps the sort stable
}

// line is a group of runs sharing a vertical bucket.
type line struct {
	baseline float64
	minFont  float64
	runs     []placedRun
}

// readingOrder groups runs into lines and returns them top to bottom, each
// line sorted left to right. In column mode the left half of the page is
// emitted completely before the right half.
func readingOrder(runs []placedRun, columnMode bool, pageWidth float64) []line {
	if !columnMode || pageWidth <= 0 {
		return groupLines(runs)
	}

	mid := pageWidth / 2
	var left, right []placedRun
	for _, r := range runs {
		if r.geo.X+r.geo.Advance/2 < mid {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return append(groupLines(left), groupLines(right)...)
}

// groupLines buckets runs by baseline with a tolerance of 40% of the smaller
// adjacent font size, then orders each bucket by x.
func groupLines(runs []placedRun) []line {
	if len(runs) == 0 {
		return nil
	}

	sorted := make([]placedRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].geo.Baseline != sorted[j].geo.Baseline {
			return sorted[i].geo.Baseline < sorted[j].geo.Baseline
		}
		return sorted[i].seq < sorted[j].seq
	})

	var lines []line
	for _, r := range sorted {
		if n := len(lines); n > 0 {
			cur := &lines[n-1]
			tol := LineTolerance * math.Min(cur.minFont, r.geo.FontHeight)
			if math.Abs(r.geo.Baseline-cur.baseline) <= tol {
				cur.runs = append(cur.runs, r)
				cur.minFont = math.Min(cur.minFont, r.geo.FontHeight)
				continue
			}
		}
		lines = append(lines, line{
			baseline: r.geo.Baseline,
			minFont:  r.geo.FontHeight,
			runs:     []placedRun{r},
		})
	}

	for i := range lines {
		runs := lines[i].runs
		sort.SliceStable(runs, func(a, b int) bool {
			if runs[a].geo.X != runs[b].geo.X {
				return runs[a].geo.X < runs[b].geo.X
			}
			return runs[a].seq < runs[b].seq
		})
	}
	return lines
}

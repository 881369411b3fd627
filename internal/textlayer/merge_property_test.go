package textlayer

import (
	"strings"
	"testing"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMerge_SubThresholdGapJoinsWithOneSpace verifies that two same-font runs
// separated by less than the word-break gap become one span with exactly one
// space between them.
func TestMerge_SubThresholdGapJoinsWithOneSpace(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("gap below 0.2em merges with a single space", prop.ForAll(
		func(size, ratio float64) bool {
			gap := ratio * size
			res := New(Options{}).Reconstruct(page(
				run("left", 10, 200, 4*size, size),
				run("right", 10+4*size+gap, 200, 5*size, size),
			))
			if len(res.Spans) != 1 {
				return false
			}
			text := res.Spans[0].Text
			return text == "left right" && strings.Count(text, " ") == 1
		},
		gen.Float64Range(6, 48),
		gen.Float64Range(0.0001, 0.19),
	))

	properties.Property("explicit whitespace never doubles the separator", prop.ForAll(
		func(size, ratio float64) bool {
			gap := ratio * size
			res := New(Options{}).Reconstruct(page(
				run("left ", 10, 200, 4*size, size),
				run(" right", 10+4*size+gap, 200, 5*size, size),
			))
			return len(res.Spans) == 1 && !strings.Contains(res.Spans[0].Text, "  ")
		},
		gen.Float64Range(6, 48),
		gen.Float64Range(0, 0.19),
	))

	properties.TestingRun(t)
}

// TestMerge_ThresholdGapSplits verifies that a gap at or above the word-break
// ratio always yields two spans.
func TestMerge_ThresholdGapSplits(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("gap of at least 0.2em starts a new span", prop.ForAll(
		func(size, ratio float64) bool {
			gap := ratio * size
			res := New(Options{}).Reconstruct(page(
				run("left", 10, 200, 4*size, size),
				run("right", 10+4*size+gap, 200, 5*size, size),
			))
			return len(res.Spans) == 2 &&
				res.Spans[0].Text == "left" &&
				res.Spans[1].Text == "right"
		},
		gen.Float64Range(6, 48),
		gen.Float64Range(0.21, 10),
	))

	properties.Property("span order follows x within a line", prop.ForAll(
		func(xs []float64) bool {
			var runs []placedRunSpec
			for i, x := range xs {
				runs = append(runs, placedRunSpec{text: string(rune('a' + i%26)), x: float64(i)*50 + x})
			}
			res := New(Options{}).Reconstruct(pageFromSpecs(runs, 10))
			for i := 1; i < len(res.Spans); i++ {
				if res.Spans[i].BBox.X < res.Spans[i-1].BBox.X {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.Float64Range(0, 10)),
	))

	properties.TestingRun(t)
}

type placedRunSpec struct {
	text string
	x    float64
}

// pageFromSpecs lays the runs out on one baseline in reverse stream order.
func pageFromSpecs(specs []placedRunSpec, size float64) model.Page {
	p := page()
	for i := len(specs) - 1; i >= 0; i-- {
		p.Runs = append(p.Runs, run(specs[i].text, specs[i].x, 300, size, size))
	}
	return p
}

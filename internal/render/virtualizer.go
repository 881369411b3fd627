package render

import (
	"math"
)

// Range is the set of pages to keep mounted for a scroll position.
type Range struct {
	First   int `json:"first"`   // first mounted page (buffer included)
	Last    int `json:"last"`    // last mounted page (buffer included)
	Current int `json:"current"` // page containing the viewport's vertical center
}

// Empty reports whether no page is mounted.
func (r Range) Empty() bool { return r.Last < r.First }

// Contains reports whether page is mounted.
func (r Range) Contains(page int) bool { return page >= r.First && page <= r.Last }

// Virtualizer maps a scroll offset to the pages that must be mounted. In
// uniform mode every page has the same height and lookups are constant time;
// precise mode walks a per-page height table.
type Virtualizer struct {
	count   int
	height  float64   // uniform mode
	heights []float64 // precise mode
	gap     float64
	buffer  int
}

// NewUniform creates a virtualizer for count pages of equal height.
func NewUniform(count int, height, gap float64) *Virtualizer {
	return &Virtualizer{count: count, height: height, gap: math.Max(gap, 0), buffer: 1}
}

// NewPrecise creates a virtualizer from per-page heights.
func NewPrecise(heights []float64, gap float64) *Virtualizer {
	h := make([]float64, len(heights))
	copy(h, heights)
	return &Virtualizer{count: len(h), heights: h, gap: math.Max(gap, 0), buffer: 1}
}

// Count returns the number of pages.
func (v *Virtualizer) Count() int { return v.count }

// Uniform reports whether the virtualizer is in uniform mode.
func (v *Virtualizer) Uniform() bool { return v.heights == nil }

// TotalHeight returns the scrollable height of the document.
func (v *Virtualizer) TotalHeight() float64 {
	if v.count == 0 {
		return 0
	}
	if v.Uniform() {
		return float64(v.count)*v.height + float64(v.count-1)*v.gap
	}
	var total float64
	for _, h := range v.heights {
		total += h
	}
	return total + float64(v.count-1)*v.gap
}

// OffsetOf returns the scroll offset of the top of page.
func (v *Virtualizer) OffsetOf(page int) float64 {
	if page <= 0 || v.count == 0 {
		return 0
	}
	if page >= v.count {
		page = v.count - 1
	}
	if v.Uniform() {
		return float64(page) * (v.height + v.gap)
	}
	var off float64
	for _, h := range v.heights[:page] {
		off += h + v.gap
	}
	return off
}

// Visible returns the mounted range for a scroll offset and viewport height:
// every page intersecting the viewport plus one buffer page on each side.
func (v *Virtualizer) Visible(offset, viewport float64) Range {
	if v.count == 0 {
		return Range{First: 0, Last: -1, Current: -1}
	}
	offset = math.Max(offset, 0)
	viewport = math.Max(viewport, 0)

	var first, last, current int
	if v.Uniform() {
		first, last, current = v.uniformVisible(offset, viewport)
	} else {
		first, last, current = v.preciseVisible(offset, viewport)
	}

	return Range{
		First:   max(first-v.buffer, 0),
		Last:    min(last+v.buffer, v.count-1),
		Current: current,
	}
}

func (v *Virtualizer) uniformVisible(offset, viewport float64) (first, last, current int) {
	stride := v.height + v.gap
	if stride <= 0 {
		return 0, 0, 0
	}
	end := offset + viewport

	// page i intersects when i*stride < end and i*stride+height > offset
	first = int(math.Floor((offset-v.height)/stride)) + 1
	last = int(math.Ceil(end/stride)) - 1
	if viewport == 0 {
		last = first
	}

	center := offset + viewport/2
	current = int(math.Floor(center / stride))
	if center-float64(current)*stride >= v.height {
		current++ // center falls into the gap below a page
	}

	clampPage := func(i int) int { return min(max(i, 0), v.count-1) }
	first, last, current = clampPage(first), clampPage(last), clampPage(current)
	if last < first {
		last = first
	}
	return first, last, current
}

func (v *Virtualizer) preciseVisible(offset, viewport float64) (first, last, current int) {
	end := offset + viewport
	center := offset + viewport/2
	first, last, current = -1, -1, -1

	var top float64
	for i, h := range v.heights {
		bottom := top + h
		if first < 0 && bottom > offset {
			first = i
		}
		if top < end || (viewport == 0 && first == i) {
			last = i
		}
		if current < 0 && center < bottom {
			current = i
		}
		if top >= end && current >= 0 {
			break
		}
		top = bottom + v.gap
	}

	if first < 0 {
		first = v.count - 1
	}
	if last < first {
		last = first
	}
	if current < 0 {
		current = v.count - 1
	}
	return first, last, current
}

package render

import (
	"image/color"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestVirtualizer_Visible(t *testing.T) {
	tests := []struct {
		name     string
		v        *Virtualizer
		offset   float64
		viewport float64
		want     Range
	}{
		{
			name:     "uniform mid document",
			v:        NewUniform(100, 1000, 0),
			offset:   2000,
			viewport: 800,
			want:     Range{First: 1, Last: 3, Current: 2},
		},
		{
			name:     "uniform top clamps buffer",
			v:        NewUniform(100, 1000, 0),
			offset:   0,
			viewport: 800,
			want:     Range{First: 0, Last: 1, Current: 0},
		},
		{
			name:     "uniform viewport spanning two pages",
			v:        NewUniform(100, 1000, 0),
			offset:   2500,
			viewport: 800,
			want:     Range{First: 1, Last: 4, Current: 2},
		},
		{
			name:     "uniform past the end",
			v:        NewUniform(5, 1000, 0),
			offset:   99999,
			viewport: 800,
			want:     Range{First: 3, Last: 4, Current: 4},
		},
		{
			name:     "uniform center in gap picks next page",
			v:        NewUniform(10, 1000, 100),
			offset:   650,
			viewport: 800,
			want:     Range{First: 0, Last: 2, Current: 1},
		},
		{
			name:     "precise mixed heights",
			v:        NewPrecise([]float64{500, 1500, 800, 800}, 0),
			offset:   600,
			viewport: 400,
			want:     Range{First: 0, Last: 2, Current: 1},
		},
		{
			name:     "precise mid document matches uniform",
			v:        NewPrecise(repeat(100, 1000), 0),
			offset:   2000,
			viewport: 800,
			want:     Range{First: 1, Last: 3, Current: 2},
		},
		{
			name:     "negative offset treated as top",
			v:        NewUniform(3, 1000, 0),
			offset:   -50,
			viewport: 500,
			want:     Range{First: 0, Last: 1, Current: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Visible(tt.offset, tt.viewport))
		})
	}
}

func TestVirtualizer_Empty(t *testing.T) {
	r := NewUniform(0, 1000, 0).Visible(0, 800)
	assert.True(t, r.Empty())
	assert.Equal(t, -1, r.Current)
	assert.Zero(t, NewPrecise(nil, 0).TotalHeight())
}

func TestVirtualizer_OffsetOf(t *testing.T) {
	u := NewUniform(10, 1000, 20)
	assert.InDelta(t, 0, u.OffsetOf(0), 1e-9)
	assert.InDelta(t, 3060, u.OffsetOf(3), 1e-9)
	assert.InDelta(t, 9180, u.OffsetOf(42), 1e-9, "clamped to last page")
	assert.InDelta(t, 10180, u.TotalHeight(), 1e-9)

	p := NewPrecise([]float64{500, 1500, 800}, 10)
	assert.InDelta(t, 2020, p.OffsetOf(2), 1e-9)
	assert.InDelta(t, 2820, p.TotalHeight(), 1e-9)

	// jumping to a page makes it current
	assert.Equal(t, 2, p.Visible(p.OffsetOf(2), 100).Current)
}

func TestVirtualizer_UniformMatchesPrecise(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("uniform and precise agree on equal heights", prop.ForAll(
		func(count, height, gap, offset, viewport int) bool {
			u := NewUniform(count, float64(height), float64(gap))
			p := NewPrecise(repeat(count, float64(height)), float64(gap))
			return u.Visible(float64(offset), float64(viewport)) == p.Visible(float64(offset), float64(viewport))
		},
		gen.IntRange(1, 200),
		gen.IntRange(100, 2000),
		gen.IntRange(0, 50),
		gen.IntRange(0, 400000),
		gen.IntRange(1, 3000),
	))

	properties.Property("current page is within the mounted range", prop.ForAll(
		func(count, offset, viewport int) bool {
			r := NewUniform(count, 1000, 0).Visible(float64(offset), float64(viewport))
			return r.Contains(r.Current) && r.First >= 0 && r.Last < count
		},
		gen.IntRange(1, 200),
		gen.IntRange(0, 300000),
		gen.IntRange(0, 3000),
	))

	properties.TestingRun(t)
}

func repeat(n int, h float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = h
	}
	return out
}

func TestLuminance(t *testing.T) {
	tests := []struct {
		name string
		c    color.Color
		want float64
		dark bool
	}{
		{name: "white paper", c: color.White, want: 1, dark: false},
		{name: "black page", c: color.Black, want: 0, dark: true},
		{name: "transparent counts as paper", c: color.Transparent, want: 1, dark: false},
		{name: "dark gray", c: color.Gray{Y: 51}, want: 0.2, dark: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Luminance(solid(300, 400, tt.c))
			assert.InDelta(t, tt.want, l, 0.01)
			assert.Equal(t, tt.dark, IsDark(l))
		})
	}

	assert.InDelta(t, 1, Luminance(nil), 1e-9)
}

package render

import (
	"image"

	"github.com/disintegration/imaging"
)

// thumbSize is the longest side of the thumbnail sampled by Luminance.
const thumbSize = 64

// Luminance returns the mean relative luminance (0 dark, 1 light) of img,
// sampled from a downscaled thumbnail. Transparent pixels count as paper
// white. A nil or empty image reports 1.
func Luminance(img image.Image) float64 {
	if img == nil || img.Bounds().Empty() {
		return 1
	}

	thumb := imaging.Fit(img, thumbSize, thumbSize, imaging.Box)
	b := thumb.Bounds()
	if b.Empty() {
		return 1
	}

	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := thumb.Pix[(y-b.Min.Y)*thumb.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			a := float64(p[3]) / 255
			r := float64(p[0])/255*a + (1 - a)
			g := float64(p[1])/255*a + (1 - a)
			bl := float64(p[2])/255*a + (1 - a)
			sum += 0.2126*r + 0.7152*g + 0.0722*bl
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}

// IsDark reports whether a page is dark enough that highlights should
// lighten instead of darken.
func IsDark(luminance float64) bool {
	return luminance < 0.5
}

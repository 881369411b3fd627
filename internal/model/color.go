package model

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultHighlightColor is used when an annotation carries no color.
const DefaultHighlightColor = "#ffeb3b"

// RGB is a color with components in [0,1].
type RGB struct {
	R, G, B float64
}

// ParseColor parses "#rrggbb" or "#rgb" hex colors.
func ParseColor(s string) (RGB, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{
		R: float64((v>>16)&0xff) / 255,
		G: float64((v>>8)&0xff) / 255,
		B: float64(v&0xff) / 255,
	}, nil
}

// ColorOr parses s and returns fallback when s is not a valid color.
func ColorOr(s string, fallback RGB) RGB {
	c, err := ParseColor(s)
	if err != nil {
		return fallback
	}
	return c
}

// HighlightYellow is DefaultHighlightColor parsed.
var HighlightYellow = RGB{R: 1, G: float64(0xeb) / 255, B: float64(0x3b) / 255}

// Package model holds the data types shared by the reading engine: documents,
// pages, word spans, annotations and OCR jobs.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Document is an opened binary together with its identity.
type Document struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Data      []byte `json:"-"`
	PageCount int    `json:"page_count"`
}

// Page is a single page with its raster dimensions and raw glyph records.
type Page struct {
	Index  int        `json:"index"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Runs   []GlyphRun `json:"runs,omitempty"`
}

// GlyphRun is one raw text-showing record as reported by the rasterizer.
// Transform is the PDF text rendering matrix [a b c d e f] in y-up page space.
type GlyphRun struct {
	Transform [6]float64 `json:"transform"`
	Text      string     `json:"text"`
	Width     float64    `json:"width"` // advance width in page units
	FontName  string     `json:"font_name,omitempty"`
	// Ascent and Descent are font-relative ratios; zero means unknown.
	Ascent  float64 `json:"ascent,omitempty"`
	Descent float64 `json:"descent,omitempty"`
}

// Point is a position in document space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned box in unscaled document units, top-left origin.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the right edge.
func (b BBox) Right() float64 { return b.X + b.Width }

// Bottom returns the bottom edge.
func (b BBox) Bottom() float64 { return b.Y + b.Height }

// IsEmpty reports whether the box has non-positive dimensions.
func (b BBox) IsEmpty() bool { return b.Width <= 0 || b.Height <= 0 }

// Union returns the smallest box containing b and o.
func (b BBox) Union(o BBox) BBox {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	x0 := math.Min(b.X, o.X)
	y0 := math.Min(b.Y, o.Y)
	x1 := math.Max(b.Right(), o.Right())
	y1 := math.Max(b.Bottom(), o.Bottom())
	return BBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Scale returns the box multiplied by a display scale factor. Stored geometry
// is never scaled; this is only used when painting.
func (b BBox) Scale(s float64) BBox {
	return BBox{X: b.X * s, Y: b.Y * s, Width: b.Width * s, Height: b.Height * s}
}

// TextSource tells where a span's text came from.
type TextSource string

const (
	SourceNative TextSource = "native"
	SourceOCR    TextSource = "ocr"
)

// WordSpan is a positioned, merged unit of selectable text.
type WordSpan struct {
	Text                string     `json:"text"`
	BBox                BBox       `json:"bbox"`
	Confidence          float64    `json:"confidence"`
	Source              TextSource `json:"source"`
	IsRefined           bool       `json:"is_refined,omitempty"`
	IsManuallyCorrected bool       `json:"is_manually_corrected,omitempty"`
	FontName            string     `json:"font_name,omitempty"`
	FontSize            float64    `json:"font_size,omitempty"`
	// HorizontalScale stretches the rendered text so it covers BBox.Width.
	HorizontalScale float64 `json:"horizontal_scale,omitempty"`
	Angle           float64 `json:"angle,omitempty"`
}

// OCRWord is the persisted layout of a recognized word.
type OCRWord struct {
	Text                string  `json:"text"`
	BBox                BBox    `json:"bbox"`
	Confidence          float64 `json:"confidence"`
	IsRefined           bool    `json:"isRefined,omitempty"`
	IsManuallyCorrected bool    `json:"isManuallyCorrected,omitempty"`
}

// Span converts the persisted word into a selectable OCR span.
func (w OCRWord) Span() WordSpan {
	return WordSpan{
		Text:                w.Text,
		BBox:                w.BBox,
		Confidence:          w.Confidence,
		Source:              SourceOCR,
		IsRefined:           w.IsRefined,
		IsManuallyCorrected: w.IsManuallyCorrected,
		FontSize:            w.BBox.Height,
		HorizontalScale:     1,
	}
}

// CloneWords returns a deep copy of a word slice.
func CloneWords(words []OCRWord) []OCRWord {
	if words == nil {
		return nil
	}
	out := make([]OCRWord, len(words))
	copy(out, words)
	return out
}

// AnnotationType enumerates the supported annotation kinds.
type AnnotationType string

const (
	AnnotationHighlight AnnotationType = "highlight"
	AnnotationInk       AnnotationType = "ink"
	AnnotationNote      AnnotationType = "note"
)

// Valid reports whether t is a known annotation type.
func (t AnnotationType) Valid() bool {
	switch t {
	case AnnotationHighlight, AnnotationInk, AnnotationNote:
		return true
	default:
		return false
	}
}

// AnnotationSource tags where a reconciled annotation was last seen.
type AnnotationSource string

const (
	FromEmbedded AnnotationSource = "embedded"
	FromLocal    AnnotationSource = "local"
	FromCloud    AnnotationSource = "cloud"
)

// Annotation is a user mark on a page.
type Annotation struct {
	ID      string         `json:"id" yaml:"id"`
	Page    int            `json:"page" yaml:"page"`
	Type    AnnotationType `json:"type" yaml:"type"`
	BBox    *BBox          `json:"bbox,omitempty" yaml:"bbox,omitempty"`
	Paths   [][]Point      `json:"paths,omitempty" yaml:"paths,omitempty"`
	Color   string         `json:"color" yaml:"color"`
	Opacity float64        `json:"opacity" yaml:"opacity"`
	Text    string         `json:"text,omitempty" yaml:"text,omitempty"`
	// StrokeWidth applies to ink only.
	StrokeWidth float64   `json:"strokeWidth,omitempty" yaml:"stroke_width,omitempty"`
	IsBurned    bool      `json:"isBurned" yaml:"is_burned"`
	CreatedAt   time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty" yaml:"updated_at,omitempty"`
	// Source is informational and never used to decide conflicts.
	Source AnnotationSource `json:"-" yaml:"-"`
}

// ErrInvalidAnnotation is wrapped by every Validate failure.
var ErrInvalidAnnotation = errors.New("invalid annotation")

// Validate checks the geometry matches the annotation type.
func (a *Annotation) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAnnotation, a.Type)
	}
	if a.Page < 0 {
		return fmt.Errorf("%w: page %d", ErrInvalidAnnotation, a.Page)
	}
	if a.Opacity < 0 || a.Opacity > 1 {
		return fmt.Errorf("%w: opacity %.2f out of range [0,1]", ErrInvalidAnnotation, a.Opacity)
	}
	switch a.Type {
	case AnnotationInk:
		if len(a.Paths) == 0 {
			return fmt.Errorf("%w: ink annotation %s has no paths", ErrInvalidAnnotation, a.ID)
		}
	case AnnotationHighlight, AnnotationNote:
		if a.BBox == nil {
			return fmt.Errorf("%w: %s annotation %s has no bbox", ErrInvalidAnnotation, a.Type, a.ID)
		}
	}
	return nil
}

// Mutable reports whether the annotation may still be edited in this session.
// Burned notes stay editable because they do not alter the burned layout.
func (a *Annotation) Mutable() bool {
	return !a.IsBurned || a.Type == AnnotationNote
}

// Clone returns a deep copy.
func (a Annotation) Clone() Annotation {
	if a.BBox != nil {
		b := *a.BBox
		a.BBox = &b
	}
	if a.Paths != nil {
		paths := make([][]Point, len(a.Paths))
		for i, p := range a.Paths {
			paths[i] = append([]Point(nil), p...)
		}
		a.Paths = paths
	}
	return a
}

// Priority of an OCR job.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityHigh
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ParsePriority converts "high"/"background" into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "background", "":
		return PriorityBackground, nil
	default:
		return PriorityBackground, fmt.Errorf("unknown priority %q", s)
	}
}

// JobStatus is the per-page OCR state.
type JobStatus string

const (
	StatusIdle       JobStatus = "idle"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
)

// OcrJob describes one queued or running recognition.
type OcrJob struct {
	Page     int       `json:"page"`
	Priority Priority  `json:"priority"`
	Status   JobStatus `json:"status"`
}

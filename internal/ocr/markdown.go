package ocr

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	// headingRatio is the line height, relative to the median, above which
	// a line is treated as a heading.
	headingRatio = 1.4
	// paragraphGapRatio is the vertical gap, relative to the median line
	// height, that starts a new paragraph.
	paragraphGapRatio = 1.2
)

// MarkdownRenderer turns recognized words into Markdown and a sanitized HTML
// preview.
type MarkdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdownRenderer creates a renderer with GitHub-flavoured Markdown and a
// user-generated-content sanitizer.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

// Lines reconstructs text lines from words in reading order.
func Lines(words []model.OCRWord) []string {
	spans := make([]model.WordSpan, len(words))
	for i, w := range words {
		spans[i] = w.Span()
	}
	var out []string
	for _, l := range textlayer.Lines(spans) {
		out = append(out, joinLine(l))
	}
	return out
}

func joinLine(l []model.WordSpan) string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Markdown builds a Markdown document from words. Lines noticeably taller
// than the median become headings and large vertical gaps start new
// paragraphs.
func (r *MarkdownRenderer) Markdown(words []model.OCRWord) string {
	spans := make([]model.WordSpan, len(words))
	for i, w := range words {
		spans[i] = w.Span()
	}
	lines := textlayer.Lines(spans)
	if len(lines) == 0 {
		return ""
	}

	type lineInfo struct {
		text   string
		top    float64
		bottom float64
		height float64
	}
	infos := make([]lineInfo, len(lines))
	heights := make([]float64, len(lines))
	for i, l := range lines {
		box := l[0].BBox
		for _, s := range l[1:] {
			box = box.Union(s.BBox)
		}
		infos[i] = lineInfo{text: joinLine(l), top: box.Y, bottom: box.Bottom(), height: box.Height}
		heights[i] = box.Height
	}
	sort.Float64s(heights)
	median := heights[len(heights)/2]

	var sb strings.Builder
	for i, li := range infos {
		heading := isHeadingLine(li.height, median)
		if i > 0 {
			gap := li.top - infos[i-1].bottom
			if heading || gap > paragraphGapRatio*median || isHeadingLine(infos[i-1].height, median) {
				sb.WriteString("\n\n")
			} else {
				sb.WriteByte('\n')
			}
		}
		if heading {
			sb.WriteString("## ")
		}
		sb.WriteString(escapeMarkdown(li.text))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func isHeadingLine(height, median float64) bool {
	return median > 0 && height > headingRatio*median
}

// escapeMarkdown keeps recognized text from being read as block syntax.
func escapeMarkdown(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '#', '>', '=', '|':
		return `\` + s
	}
	return s
}

// HTML renders Markdown to sanitized HTML.
func (r *MarkdownRenderer) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return string(r.policy.SanitizeBytes(buf.Bytes())), nil
}

// Package annotation reconciles annotations from the burned document, the
// local store and the cloud store into one collection with a single write
// path.
package annotation

import (
	"log/slog"
	"sort"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// Source is one origin of annotations.
type Source struct {
	Kind  model.AnnotationSource
	Items []model.Annotation
}

// Precedence ranks a source kind. A higher rank wins a conflict on the same
// id: cloud over local over embedded.
func Precedence(kind model.AnnotationSource) int {
	switch kind {
	case model.FromEmbedded:
		return 0
	case model.FromLocal:
		return 1
	case model.FromCloud:
		return 2
	default:
		return -1
	}
}

// Merge folds sources in ascending precedence into a map keyed by id, so a
// later source overwrites an earlier one. Timestamps never decide. Invalid
// items are dropped. The result is sorted by page, creation time and id.
func Merge(sources ...Source) []model.Annotation {
	ordered := make([]Source, 0, len(sources))
	for _, s := range sources {
		if Precedence(s.Kind) >= 0 {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return Precedence(ordered[i].Kind) < Precedence(ordered[j].Kind)
	})

	byID := make(map[string]model.Annotation)
	for _, s := range ordered {
		for _, a := range s.Items {
			if a.ID == "" {
				continue
			}
			if err := a.Validate(); err != nil {
				slog.Warn("Dropping invalid annotation", "id", a.ID, "source", s.Kind, "error", err)
				continue
			}
			a = a.Clone()
			a.Source = s.Kind
			if prev, ok := byID[a.ID]; ok {
				a = keepBurnedLayout(prev, a)
			}
			byID[a.ID] = a
		}
	}

	out := make([]model.Annotation, 0, len(byID))
	for _, a := range byID {
		out = append(out, a)
	}
	Sort(out)
	return out
}

// keepBurnedLayout returns next with the burned layout of cur. A burned
// highlight or ink keeps its drawing; a burned note keeps its page and box
// and may change text and color. Unburned annotations are taken as is.
func keepBurnedLayout(cur, next model.Annotation) model.Annotation {
	if !cur.IsBurned {
		return next
	}
	cur = cur.Clone()
	next.IsBurned = true
	next.Page, next.Type, next.BBox = cur.Page, cur.Type, cur.BBox
	if cur.Type != model.AnnotationNote {
		next.Paths = cur.Paths
		next.Color, next.Opacity, next.StrokeWidth = cur.Color, cur.Opacity, cur.StrokeWidth
	}
	return next
}

// Sort orders annotations by page, creation time and id.
func Sort(items []model.Annotation) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

package session

import (
	"context"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// Annotations returns the merged collection.
func (s *Session) Annotations() []model.Annotation {
	return s.annotations.List()
}

// Annotation returns one annotation by id.
func (s *Session) Annotation(id string) (model.Annotation, bool) {
	return s.annotations.Get(id)
}

// AddAnnotation inserts an annotation. It is pending until the next save.
func (s *Session) AddAnnotation(ctx context.Context, ann model.Annotation) (model.Annotation, error) {
	if err := s.checkOpen(); err != nil {
		return model.Annotation{}, err
	}
	if err := s.checkPage(ann.Page); err != nil {
		return model.Annotation{}, err
	}
	return s.annotations.Add(ctx, ann)
}

// UpdateAnnotation edits an annotation. Burned annotations other than notes
// are immutable.
func (s *Session) UpdateAnnotation(ctx context.Context, ann model.Annotation) (model.Annotation, error) {
	if err := s.checkOpen(); err != nil {
		return model.Annotation{}, err
	}
	cur, ok := s.annotations.Get(ann.ID)
	updated, err := s.annotations.Update(ctx, ann)
	if err == nil && ok && cur.IsBurned {
		s.mu.Lock()
		s.recordDirty = true
		s.mu.Unlock()
	}
	return updated, err
}

// RemoveAnnotation deletes an annotation. Burned annotations cannot be
// removed and removing an unknown one is a no-op.
func (s *Session) RemoveAnnotation(ctx context.Context, ann model.Annotation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.annotations.Remove(ctx, ann)
}

// RetrySync pushes queued cloud changes.
func (s *Session) RetrySync(ctx context.Context) (int, error) {
	return s.annotations.RetrySync(ctx)
}

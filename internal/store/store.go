// Package store persists session state that must outlive a document close:
// annotations, the OCR cache, the last good binary, recency metadata and
// content hashes.
package store

import (
	"context"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// OCRPage is the cached recognition result of one page.
type OCRPage struct {
	Page   int             `json:"page"`
	Words  []model.OCRWord `json:"words"`
	Burned bool            `json:"burned"`
}

// HashRecord is the content fingerprint recorded after a successful save.
type HashRecord struct {
	Hash       string    `json:"hash"`
	PageCount  int       `json:"page_count"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecentFile is a recency entry for a document.
type RecentFile struct {
	FileID   string    `json:"file_id"`
	Name     string    `json:"name"`
	OpenedAt time.Time `json:"opened_at"`
}

// Store is the local persistent key-value store.
type Store interface {
	PutAnnotation(ctx context.Context, fileID string, ann model.Annotation) error
	DeleteAnnotation(ctx context.Context, fileID, id string) error
	Annotations(ctx context.Context, fileID string) ([]model.Annotation, error)

	PutOCR(ctx context.Context, fileID string, page int, words []model.OCRWord) error
	OCR(ctx context.Context, fileID string, page int) (OCRPage, bool, error)
	OCRPages(ctx context.Context, fileID string) ([]OCRPage, error)
	SetOCRBurned(ctx context.Context, fileID string, pages []int, burned bool) error

	PutBlob(ctx context.Context, key string, data []byte) error
	Blob(ctx context.Context, key string) ([]byte, bool, error)

	Touch(ctx context.Context, fileID, name string) error
	Recent(ctx context.Context, limit int) ([]RecentFile, error)

	PutHash(ctx context.Context, fileID string, rec HashRecord) error
	Hash(ctx context.Context, fileID string) (HashRecord, bool, error)

	Close() error
}

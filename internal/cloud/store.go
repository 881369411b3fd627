// Package cloud provides the cloud annotation store: an interface the
// reconciler pushes to and subscribes on, a websocket client for it, the
// hub that serves it, and an in-memory implementation.
package cloud

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// ErrOffline is returned when the store cannot be reached.
var ErrOffline = errors.New("cloud store offline")

// EventKind is the kind of change carried by an Event.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventDelete EventKind = "delete"
)

// Event is a change pushed to subscribers of a file.
type Event struct {
	Kind       EventKind         `json:"kind"`
	FileID     string            `json:"file_id"`
	ID         string            `json:"id"`
	Annotation *model.Annotation `json:"annotation,omitempty"`
}

// Store is a subscribable annotation store keyed by file.
type Store interface {
	// List returns every annotation stored for a file.
	List(ctx context.Context, fileID string) ([]model.Annotation, error)
	// Upsert inserts or replaces an annotation.
	Upsert(ctx context.Context, fileID string, ann model.Annotation) error
	// Delete removes an annotation. Deleting a missing id is not an error.
	Delete(ctx context.Context, fileID, id string) error
	// Subscribe streams changes to a file until ctx is cancelled, after
	// which the channel is closed.
	Subscribe(ctx context.Context, fileID string) (<-chan Event, error)
	// Online reports whether the store is currently reachable.
	Online() bool
}

// subscriberBuffer is the per-subscriber event backlog before events are
// dropped.
const subscriberBuffer = 64

package annotation

import (
	"errors"
	"fmt"
)

var (
	// ErrBurnedImmutable is returned when changing or removing an
	// annotation that was baked into the document.
	ErrBurnedImmutable = errors.New("annotation is burned into the document")
	// ErrNotFound is returned when updating an unknown annotation.
	ErrNotFound = errors.New("annotation not found")
	// ErrDuplicateID is returned when adding an id that already exists.
	ErrDuplicateID = errors.New("annotation id already exists")
)

// SyncError is a failed cloud push. It is logged and the operation is queued
// for RetrySync; it is never returned from Add, Update or Remove.
type SyncError struct {
	Op  string
	ID  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("cloud %s of annotation %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

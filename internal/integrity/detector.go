package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/store"
)

// Severity grades a detected conflict.
type Severity string

const (
	SeverityNone Severity = "none"
	// SeverityWeak: content changed, page count unchanged.
	SeverityWeak Severity = "weak"
	// SeverityStrong: the page count changed, so page-anchored data may
	// no longer line up.
	SeverityStrong Severity = "strong"
)

// Action is a user choice for resolving a conflict.
type Action string

const (
	KeepExternal    Action = "keep-external"
	AttemptMerge    Action = "attempt-merge"
	RestorePrevious Action = "restore-previous"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case KeepExternal, AttemptMerge, RestorePrevious:
		return a, nil
	default:
		return "", fmt.Errorf("unknown conflict action %q", s)
	}
}

// Conflict is the result of a check. It is a value, not an error.
type Conflict struct {
	FileID       string   `json:"file_id"`
	Conflicting  bool     `json:"conflicting"`
	Severity     Severity `json:"severity"`
	Reason       string   `json:"reason,omitempty"`
	StoredHash   string   `json:"stored_hash,omitempty"`
	CurrentHash  string   `json:"current_hash"`
	StoredPages  int      `json:"stored_pages,omitempty"`
	CurrentPages int      `json:"current_pages"`
}

// Option is one resolution choice offered for a conflict.
type Option struct {
	Action  Action `json:"action"`
	Enabled bool   `json:"enabled"`
	Label   string `json:"label"`
}

// Options lists the resolution choices for c. Merging is disabled when the
// page count changed.
func Options(c Conflict) []Option {
	if !c.Conflicting {
		return nil
	}
	return []Option{
		{Action: KeepExternal, Enabled: true, Label: "Keep the external version"},
		{Action: AttemptMerge, Enabled: c.Severity != SeverityStrong, Label: "Reapply my annotations to the external version"},
		{Action: RestorePrevious, Enabled: true, Label: "Restore my last saved version"},
	}
}

// Allowed reports whether action is an enabled option for c.
func Allowed(c Conflict, action Action) bool {
	for _, o := range Options(c) {
		if o.Action == action {
			return o.Enabled
		}
	}
	return false
}

// Detector checks documents against their recorded fingerprints.
type Detector struct {
	store store.Store
	now   func() time.Time
}

// NewDetector creates a detector on top of the local store.
func NewDetector(s store.Store) *Detector {
	return &Detector{store: s, now: time.Now}
}

func lastGoodKey(fileID string) string {
	return "lastgood:" + fileID
}

// Check compares data with the fingerprint recorded at the last save. No
// record means no conflict, and an equal hash never conflicts.
func (d *Detector) Check(ctx context.Context, fileID string, data []byte, pageCount int) (Conflict, error) {
	c := Conflict{
		FileID:       fileID,
		Severity:     SeverityNone,
		CurrentHash:  SparseHash(data),
		CurrentPages: pageCount,
	}
	rec, ok, err := d.store.Hash(ctx, fileID)
	if err != nil {
		return c, fmt.Errorf("failed to read recorded hash: %w", err)
	}
	if !ok {
		return c, nil
	}
	c.StoredHash = rec.Hash
	c.StoredPages = rec.PageCount

	if rec.Hash == c.CurrentHash {
		return c, nil
	}

	c.Conflicting = true
	if rec.PageCount != pageCount {
		c.Severity = SeverityStrong
		c.Reason = fmt.Sprintf("page count changed from %d to %d", rec.PageCount, pageCount)
	} else {
		c.Severity = SeverityWeak
		c.Reason = "content changed outside this application"
	}
	conflictsTotal.WithLabelValues(string(c.Severity)).Inc()
	slog.Info("Document changed externally", "file_id", fileID, "severity", c.Severity, "reason", c.Reason)
	return c, nil
}

// Record stores the fingerprint and keeps data as the last good binary.
func (d *Detector) Record(ctx context.Context, fileID string, data []byte, pageCount int) error {
	if err := d.store.PutBlob(ctx, lastGoodKey(fileID), data); err != nil {
		return fmt.Errorf("failed to keep last good binary: %w", err)
	}
	rec := store.HashRecord{Hash: SparseHash(data), PageCount: pageCount, RecordedAt: d.now()}
	if err := d.store.PutHash(ctx, fileID, rec); err != nil {
		return fmt.Errorf("failed to record hash: %w", err)
	}
	return nil
}

// LastGood returns the binary kept by the last Record.
func (d *Detector) LastGood(ctx context.Context, fileID string) ([]byte, bool, error) {
	return d.store.Blob(ctx, lastGoodKey(fileID))
}

package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/cloud"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/store"
	"github.com/google/uuid"
)

// Options configures a Reconciler.
type Options struct {
	FileID string
	Local  store.Store
	// Cloud is optional; without it every change stays local.
	Cloud cloud.Store
	Now   func() time.Time
}

type pendingOp struct {
	op  string // upsert|delete
	ann model.Annotation
}

// Reconciler owns the session's annotation collection. Every change goes
// through it: memory first, then the local store, then the cloud.
type Reconciler struct {
	opts Options

	mu      sync.Mutex
	items   map[string]model.Annotation
	pending map[string]pendingOp
}

// New creates an empty reconciler.
func New(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		opts:    opts,
		items:   make(map[string]model.Annotation),
		pending: make(map[string]pendingOp),
	}
}

// Load merges the embedded annotations with the local and cloud stores and
// replaces the in-memory collection with the result. An unreachable cloud
// is logged and skipped.
func (r *Reconciler) Load(ctx context.Context, embedded []model.Annotation) ([]model.Annotation, error) {
	local, err := r.opts.Local.Annotations(ctx, r.opts.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local annotations: %w", err)
	}

	sources := []Source{
		{Kind: model.FromEmbedded, Items: embedded},
		{Kind: model.FromLocal, Items: local},
	}
	if r.opts.Cloud != nil && r.opts.Cloud.Online() {
		remote, err := r.opts.Cloud.List(ctx, r.opts.FileID)
		if err != nil {
			slog.Warn("Cloud annotations unavailable", "file_id", r.opts.FileID, "error", err)
		} else {
			sources = append(sources, Source{Kind: model.FromCloud, Items: remote})
		}
	}
	merged := Merge(sources...)

	localByID := make(map[string]model.Annotation, len(local))
	for _, a := range local {
		localByID[a.ID] = a
	}
	for _, a := range merged {
		if prev, ok := localByID[a.ID]; ok && sameContent(prev, a) {
			continue
		}
		if err := r.opts.Local.PutAnnotation(ctx, r.opts.FileID, a); err != nil {
			return nil, fmt.Errorf("failed to persist merged annotation %s: %w", a.ID, err)
		}
	}

	r.mu.Lock()
	r.items = make(map[string]model.Annotation, len(merged))
	for _, a := range merged {
		r.items[a.ID] = a
	}
	r.mu.Unlock()

	slog.Debug("Annotations reconciled", "file_id", r.opts.FileID,
		"embedded", len(embedded), "local", len(local), "merged", len(merged))
	return cloneAll(merged), nil
}

// sameContent compares the persisted form of two annotations.
func sameContent(a, b model.Annotation) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// List returns the collection sorted by page, creation time and id.
func (r *Reconciler) List() []model.Annotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Annotation, 0, len(r.items))
	for _, a := range r.items {
		out = append(out, a.Clone())
	}
	Sort(out)
	return out
}

// Get returns one annotation by id.
func (r *Reconciler) Get(id string) (model.Annotation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	return a.Clone(), ok
}

// Add inserts a new annotation. A missing id is filled with a UUIDv7. Cloud
// failures are queued for RetrySync and never returned.
func (r *Reconciler) Add(ctx context.Context, ann model.Annotation) (model.Annotation, error) {
	ann = ann.Clone()
	if ann.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.Annotation{}, fmt.Errorf("failed to generate annotation id: %w", err)
		}
		ann.ID = id.String()
	}
	if err := ann.Validate(); err != nil {
		return model.Annotation{}, err
	}
	now := r.opts.Now()
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = now
	}
	ann.UpdatedAt = now
	ann.IsBurned = false
	ann.Source = model.FromLocal

	r.mu.Lock()
	if _, exists := r.items[ann.ID]; exists {
		r.mu.Unlock()
		return model.Annotation{}, fmt.Errorf("%s: %w", ann.ID, ErrDuplicateID)
	}
	r.items[ann.ID] = ann
	r.mu.Unlock()

	if err := r.opts.Local.PutAnnotation(ctx, r.opts.FileID, ann); err != nil {
		r.mu.Lock()
		delete(r.items, ann.ID)
		r.mu.Unlock()
		return model.Annotation{}, fmt.Errorf("failed to persist annotation %s: %w", ann.ID, err)
	}

	r.push(ctx, pendingOp{op: "upsert", ann: ann})
	return ann.Clone(), nil
}

// Update replaces an existing annotation's content. Burned annotations can
// only be updated when they are notes; their burned state is kept.
func (r *Reconciler) Update(ctx context.Context, ann model.Annotation) (model.Annotation, error) {
	if err := ann.Validate(); err != nil {
		return model.Annotation{}, err
	}

	r.mu.Lock()
	cur, ok := r.items[ann.ID]
	if !ok {
		r.mu.Unlock()
		return model.Annotation{}, fmt.Errorf("%s: %w", ann.ID, ErrNotFound)
	}
	if !cur.Mutable() {
		r.mu.Unlock()
		return model.Annotation{}, fmt.Errorf("%s: %w", ann.ID, ErrBurnedImmutable)
	}
	next := ann.Clone()
	next.CreatedAt = cur.CreatedAt
	next.IsBurned = cur.IsBurned
	next.UpdatedAt = r.opts.Now()
	next.Source = model.FromLocal
	if cur.IsBurned {
		// burned notes keep their position and page
		next.Page, next.BBox, next.Type = cur.Page, cur.Clone().BBox, cur.Type
	}
	r.items[next.ID] = next
	r.mu.Unlock()

	if err := r.opts.Local.PutAnnotation(ctx, r.opts.FileID, next); err != nil {
		r.mu.Lock()
		r.items[cur.ID] = cur
		r.mu.Unlock()
		return model.Annotation{}, fmt.Errorf("failed to persist annotation %s: %w", next.ID, err)
	}

	r.push(ctx, pendingOp{op: "upsert", ann: next})
	return next.Clone(), nil
}

// Remove deletes an annotation from memory, the local store and the cloud.
// Burned annotations, notes included, cannot be removed. Removing an
// unknown id is a no-op.
func (r *Reconciler) Remove(ctx context.Context, ann model.Annotation) error {
	r.mu.Lock()
	cur, ok := r.items[ann.ID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if cur.IsBurned {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", ann.ID, ErrBurnedImmutable)
	}
	delete(r.items, ann.ID)
	r.mu.Unlock()

	if err := r.opts.Local.DeleteAnnotation(ctx, r.opts.FileID, ann.ID); err != nil {
		r.mu.Lock()
		r.items[cur.ID] = cur
		r.mu.Unlock()
		return fmt.Errorf("failed to delete annotation %s: %w", ann.ID, err)
	}

	r.push(ctx, pendingOp{op: "delete", ann: cur})
	return nil
}

// Retain drops every annotation whose id is not in keep, burned or not,
// from memory, the local store and the cloud. It returns the dropped ids.
// Accepting an externally edited binary as the new baseline uses it.
func (r *Reconciler) Retain(ctx context.Context, keep map[string]bool) ([]string, error) {
	var dropped []model.Annotation
	r.mu.Lock()
	for id, a := range r.items {
		if !keep[id] {
			dropped = append(dropped, a)
			delete(r.items, id)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].ID < dropped[j].ID })

	ids := make([]string, 0, len(dropped))
	for _, a := range dropped {
		if err := r.opts.Local.DeleteAnnotation(ctx, r.opts.FileID, a.ID); err != nil {
			return ids, fmt.Errorf("failed to delete annotation %s: %w", a.ID, err)
		}
		r.push(ctx, pendingOp{op: "delete", ann: a})
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// MarkAnnotationsBurned flags annotations as baked into the document.
func (r *Reconciler) MarkAnnotationsBurned(ctx context.Context, ids []string) error {
	var changed []model.Annotation
	r.mu.Lock()
	for _, id := range ids {
		a, ok := r.items[id]
		if !ok || a.IsBurned {
			continue
		}
		a.IsBurned = true
		r.items[id] = a
		changed = append(changed, a)
	}
	r.mu.Unlock()

	for _, a := range changed {
		if err := r.opts.Local.PutAnnotation(ctx, r.opts.FileID, a); err != nil {
			return fmt.Errorf("failed to persist burned annotation %s: %w", a.ID, err)
		}
		r.push(ctx, pendingOp{op: "upsert", ann: a})
	}
	return nil
}

// Reapply clears the burned flag of the given annotations so the next full
// burn draws them again. Merging into an externally changed binary, which
// lacks their drawings, uses it.
func (r *Reconciler) Reapply(ctx context.Context, ids []string) error {
	var changed []model.Annotation
	r.mu.Lock()
	for _, id := range ids {
		a, ok := r.items[id]
		if !ok || !a.IsBurned {
			continue
		}
		a.IsBurned = false
		r.items[id] = a
		changed = append(changed, a)
	}
	r.mu.Unlock()

	for _, a := range changed {
		if err := r.opts.Local.PutAnnotation(ctx, r.opts.FileID, a); err != nil {
			return fmt.Errorf("failed to persist reapplied annotation %s: %w", a.ID, err)
		}
	}
	return nil
}

// ClearAllBurned makes the OCR data of every cached page pending again.
func (r *Reconciler) ClearAllBurned(ctx context.Context) error {
	pages, err := r.opts.Local.OCRPages(ctx, r.opts.FileID)
	if err != nil {
		return fmt.Errorf("failed to read OCR cache: %w", err)
	}
	var burned []int
	for _, p := range pages {
		if p.Burned {
			burned = append(burned, p.Page)
		}
	}
	if len(burned) == 0 {
		return nil
	}
	return r.opts.Local.SetOCRBurned(ctx, r.opts.FileID, burned, false)
}

// Unburned returns the annotations not yet baked into the document.
func (r *Reconciler) Unburned() []model.Annotation {
	var out []model.Annotation
	for _, a := range r.List() {
		if !a.IsBurned {
			out = append(out, a)
		}
	}
	return out
}

// GetUnburnt returns the cached OCR pages not burned in the current
// revision, keyed by page.
func (r *Reconciler) GetUnburnt(ctx context.Context) (map[int][]model.OCRWord, error) {
	pages, err := r.opts.Local.OCRPages(ctx, r.opts.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCR cache: %w", err)
	}
	out := make(map[int][]model.OCRWord)
	for _, p := range pages {
		if !p.Burned {
			out[p.Page] = p.Words
		}
	}
	return out, nil
}

// MarkBurned flags the pages' OCR data as burned. Each page flips as a
// whole, and the set is applied in one transaction.
func (r *Reconciler) MarkBurned(ctx context.Context, pages []int) error {
	if len(pages) == 0 {
		return nil
	}
	if err := r.opts.Local.SetOCRBurned(ctx, r.opts.FileID, pages, true); err != nil {
		return fmt.Errorf("failed to mark pages burned: %w", err)
	}
	return nil
}

// ClearBurned makes a page's OCR data pending again, e.g. after a manual
// correction.
func (r *Reconciler) ClearBurned(ctx context.Context, page int) error {
	return r.opts.Local.SetOCRBurned(ctx, r.opts.FileID, []int{page}, false)
}

// ApplyRemote applies a cloud event. Cloud has the highest precedence, so
// an upsert overwrites the local copy, except that a burned annotation
// keeps its burned layout and is never deleted remotely. Invalid upserts
// are rejected.
func (r *Reconciler) ApplyRemote(ctx context.Context, evt cloud.Event) error {
	if evt.FileID != "" && evt.FileID != r.opts.FileID {
		return nil
	}
	remoteEventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	switch evt.Kind {
	case cloud.EventUpsert:
		if evt.Annotation == nil {
			return errors.New("upsert event without annotation")
		}
		a := evt.Annotation.Clone()
		if err := a.Validate(); err != nil {
			return fmt.Errorf("remote annotation %s: %w", a.ID, err)
		}
		a.Source = model.FromCloud
		r.mu.Lock()
		if cur, ok := r.items[a.ID]; ok {
			a = keepBurnedLayout(cur, a)
		}
		r.items[a.ID] = a
		delete(r.pending, a.ID)
		r.mu.Unlock()
		return r.opts.Local.PutAnnotation(ctx, r.opts.FileID, a)

	case cloud.EventDelete:
		r.mu.Lock()
		cur, ok := r.items[evt.ID]
		if !ok {
			r.mu.Unlock()
			return nil
		}
		if cur.IsBurned {
			r.mu.Unlock()
			slog.Debug("Ignoring remote delete of burned annotation", "id", evt.ID)
			return nil
		}
		delete(r.items, evt.ID)
		delete(r.pending, evt.ID)
		r.mu.Unlock()
		return r.opts.Local.DeleteAnnotation(ctx, r.opts.FileID, evt.ID)

	default:
		return fmt.Errorf("unknown event kind %q", evt.Kind)
	}
}

// Subscribe opens the cloud event stream for the file. Follow applies it.
func (r *Reconciler) Subscribe(ctx context.Context) (<-chan cloud.Event, error) {
	if r.opts.Cloud == nil {
		return nil, cloud.ErrOffline
	}
	return r.opts.Cloud.Subscribe(ctx, r.opts.FileID)
}

// Follow applies cloud events until ctx is cancelled or the stream ends.
// Events still buffered when ctx is cancelled are not applied.
func (r *Reconciler) Follow(ctx context.Context, events <-chan cloud.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok || ctx.Err() != nil {
				return
			}
			if err := r.ApplyRemote(ctx, evt); err != nil {
				slog.Warn("Failed to apply cloud event", "id", evt.ID, "kind", evt.Kind, "error", err)
			}
		}
	}
}

// push sends a change to the cloud, queueing it on failure.
func (r *Reconciler) push(ctx context.Context, p pendingOp) {
	if err := r.send(ctx, p); err != nil {
		r.mu.Lock()
		r.pending[p.ann.ID] = p
		r.mu.Unlock()
		syncTotal.WithLabelValues(p.op, "queued").Inc()
		se := &SyncError{Op: p.op, ID: p.ann.ID, Err: err}
		slog.Warn("Cloud sync deferred", "error", se)
		return
	}
	r.mu.Lock()
	delete(r.pending, p.ann.ID)
	r.mu.Unlock()
	syncTotal.WithLabelValues(p.op, "success").Inc()
}

func (r *Reconciler) send(ctx context.Context, p pendingOp) error {
	c := r.opts.Cloud
	if c == nil || !c.Online() {
		return cloud.ErrOffline
	}
	if p.op == "delete" {
		return c.Delete(ctx, r.opts.FileID, p.ann.ID)
	}
	a := p.ann.Clone()
	a.Source = ""
	return c.Upsert(ctx, r.opts.FileID, a)
}

// SyncPending returns the ids with a queued cloud change.
func (r *Reconciler) SyncPending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RetrySync pushes every queued change and returns how many went through.
// Changes that fail again stay queued and are reported as SyncErrors.
func (r *Reconciler) RetrySync(ctx context.Context) (int, error) {
	r.mu.Lock()
	queue := make([]pendingOp, 0, len(r.pending))
	for _, p := range r.pending {
		queue = append(queue, p)
	}
	r.mu.Unlock()
	sort.Slice(queue, func(i, j int) bool { return queue[i].ann.ID < queue[j].ann.ID })

	synced := 0
	var errs []error
	for _, p := range queue {
		if err := r.send(ctx, p); err != nil {
			errs = append(errs, &SyncError{Op: p.op, ID: p.ann.ID, Err: err})
			continue
		}
		r.mu.Lock()
		if cur, ok := r.pending[p.ann.ID]; ok && cur.op == p.op && cur.ann.UpdatedAt.Equal(p.ann.UpdatedAt) {
			delete(r.pending, p.ann.ID)
		}
		r.mu.Unlock()
		syncTotal.WithLabelValues(p.op, "success").Inc()
		synced++
	}
	return synced, errors.Join(errs...)
}

// Reset drops the session-scoped collection and queue. Persisted data is
// kept.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]model.Annotation)
	r.pending = make(map[string]pendingOp)
}

func cloneAll(items []model.Annotation) []model.Annotation {
	out := make([]model.Annotation, len(items))
	for i, a := range items {
		out[i] = a.Clone()
	}
	return out
}

package cloud

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/MeKo-Tech/lectorium/internal/model"
)

// Memory is an in-process Store. It backs the websocket hub and is used
// directly in tests. It can be switched offline to simulate outages.
type Memory struct {
	mu     sync.Mutex
	items  map[string]map[string]model.Annotation
	subs   map[string]map[chan Event]struct{}
	online bool
}

// NewMemory creates an empty, online store.
func NewMemory() *Memory {
	return &Memory{
		items:  make(map[string]map[string]model.Annotation),
		subs:   make(map[string]map[chan Event]struct{}),
		online: true,
	}
}

// SetOnline toggles reachability.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

// Online implements Store.
func (m *Memory) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// List implements Store. Annotations are returned in (page, createdAt, id)
// order.
func (m *Memory) List(_ context.Context, fileID string) ([]model.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return nil, ErrOffline
	}
	out := make([]model.Annotation, 0, len(m.items[fileID]))
	for _, a := range m.items[fileID] {
		a = a.Clone()
		a.Source = model.FromCloud
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, fileID string, ann model.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return ErrOffline
	}
	if m.items[fileID] == nil {
		m.items[fileID] = make(map[string]model.Annotation)
	}
	ann = ann.Clone()
	ann.Source = ""
	m.items[fileID][ann.ID] = ann

	evt := ann.Clone()
	m.publish(Event{Kind: EventUpsert, FileID: fileID, ID: ann.ID, Annotation: &evt})
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, fileID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return ErrOffline
	}
	if _, ok := m.items[fileID][id]; !ok {
		return nil
	}
	delete(m.items[fileID], id)
	m.publish(Event{Kind: EventDelete, FileID: fileID, ID: id})
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, fileID string) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return nil, ErrOffline
	}
	ch := make(chan Event, subscriberBuffer)
	if m.subs[fileID] == nil {
		m.subs[fileID] = make(map[chan Event]struct{})
	}
	m.subs[fileID][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[fileID], ch)
		close(ch)
	}()
	return ch, nil
}

// publish must be called with m.mu held.
func (m *Memory) publish(evt Event) {
	for ch := range m.subs[evt.FileID] {
		select {
		case ch <- evt:
		default:
			slog.Warn("Dropping cloud event for slow subscriber", "file_id", evt.FileID, "id", evt.ID)
		}
	}
}

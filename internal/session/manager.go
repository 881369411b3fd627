package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/render"
)

// Manager keeps the open sessions of a process. Its sessions share one
// render cache and one burn worker.
type Manager struct {
	opts       Options
	ownsWorker bool

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. Missing shared resources are created and
// owned by the manager.
func NewManager(opts Options, cacheEntries int) *Manager {
	m := &Manager{opts: opts, sessions: make(map[string]*Session)}
	if m.opts.Cache == nil {
		if cacheEntries <= 0 {
			cacheEntries = DefaultCacheEntries
		}
		m.opts.Cache = render.NewCache(cacheEntries)
	}
	if m.opts.Worker == nil {
		var wopts []burner.WorkerOption
		if opts.Measurer != nil {
			wopts = append(wopts, burner.WithMeasurer(opts.Measurer))
		}
		m.opts.Worker = burner.NewWorker(wopts...)
		m.ownsWorker = true
	}
	return m
}

// Open opens doc, or returns the session already open under its id.
func (m *Manager) Open(ctx context.Context, doc model.Document) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[doc.ID]; ok {
		return s, nil
	}
	s, err := Open(ctx, doc, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[doc.ID] = s
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("document %s is not open", id)
	}
	return s.Close()
}

// List describes the open sessions, sorted by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.Info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown closes every session and the shared worker.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	if m.ownsWorker {
		m.opts.Worker.Close()
	}
}

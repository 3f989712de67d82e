package meeting

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory meeting store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
	byJob    map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meetings: make(map[string]*Meeting),
		byJob:    make(map[string]string),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, m *Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[m.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byJob[m.JobID]; ok {
		return ErrAlreadyExists
	}

	now := s.now()
	cp := *m
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.meetings[cp.ID] = &cp
	s.byJob[cp.JobID] = cp.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Meeting
	for _, m := range s.meetings {
		if m.WorkspaceID == workspaceID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, params UpdateParams) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, ErrNotFound
	}

	if params.Title != nil {
		m.Title = *params.Title
	}
	if params.Tags != nil {
		m.Tags = append([]string(nil), (*params.Tags)...)
	}
	if params.Summary != nil {
		m.Summary = params.Summary
	}
	m.UpdatedAt = s.now()

	cp := *m
	return &cp, nil
}

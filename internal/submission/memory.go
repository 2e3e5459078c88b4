package submission

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development. Its
// UpdateStatus holds the lock across the compare and the set, giving the same
// at-most-one-winner guarantee as the SQL implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Submission
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Submission)}
}

func (m *MemoryStore) Insert(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; ok {
		return ErrDuplicate
	}
	if s.DedupeKey != "" {
		for _, row := range m.rows {
			if row.Kind == s.Kind && row.DedupeKey == s.DedupeKey && row.Status != StatusError {
				return ErrDuplicate
			}
		}
	}
	m.rows[s.ID] = copySubmission(s)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySubmission(row), nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*Submission, 0)
	for _, row := range m.rows {
		if f.Kind != "" && row.Kind != f.Kind {
			continue
		}
		if f.ActorID != "" && row.Actor.ID != f.ActorID {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		matched = append(matched, copySubmission(row))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*Submission{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) FindByDedupeKey(_ context.Context, kind, key string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.Kind == kind && row.DedupeKey == key && row.Status != StatusError {
			return copySubmission(row), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, result map[string]any, errMsg string, now time.Time) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if row.Status != from {
		return nil, ErrStaleTransition
	}
	row.Status = to
	row.Result = copyPayload(result)
	row.Error = errMsg
	row.UpdatedAt = now
	return copySubmission(row), nil
}

func copySubmission(s *Submission) *Submission {
	cp := *s
	cp.Payload = copyPayload(s.Payload)
	cp.Result = copyPayload(s.Result)
	return &cp
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	cp := make(map[string]any, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

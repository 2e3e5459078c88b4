package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory audit store for tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, q Query) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*Event, 0)
	for _, e := range m.events {
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if q.SubmissionID != "" && e.SubmissionID != q.SubmissionID {
			continue
		}
		if !q.Since.IsZero() && e.OccurredAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.OccurredAt.After(q.Until) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []*Event{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development. All
// methods copy records on the way in and out so callers never share state
// with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal
	byIdentity map[string]string
	sessions   map[string]*Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]*Principal),
		byIdentity: make(map[string]string),
		sessions:   make(map[string]*Session),
	}
}

func (m *MemoryStore) Principals(context.Context) PrincipalStore { return (*memoryPrincipals)(m) }
func (m *MemoryStore) Sessions(context.Context) SessionStore     { return (*memorySessions)(m) }

type memoryPrincipals MemoryStore

func (m *memoryPrincipals) Create(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byIdentity[p.Identity]; ok {
		return ErrConflict
	}
	if _, ok := m.principals[p.ID]; ok {
		return ErrConflict
	}
	m.principals[p.ID] = copyPrincipal(p)
	m.byIdentity[p.Identity] = p.ID
	return nil
}

func (m *memoryPrincipals) Find(_ context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPrincipal(p), nil
}

func (m *memoryPrincipals) FindByIdentity(_ context.Context, identity string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byIdentity[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPrincipal(m.principals[id]), nil
}

func (m *memoryPrincipals) List(context.Context) ([]*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Principal, 0, len(m.principals))
	for _, p := range m.principals {
		out = append(out, copyPrincipal(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryPrincipals) Update(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.principals[p.ID]
	if !ok {
		return ErrNotFound
	}
	next := copyPrincipal(p)
	next.Identity = existing.Identity
	next.PasswordHash = existing.PasswordHash
	m.principals[p.ID] = next
	return nil
}

func (m *memoryPrincipals) SetPassword(_ context.Context, id, hash string, mustChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = hash
	p.MustChangePassword = mustChange
	p.UpdatedAt = time.Now().UTC()
	return nil
}

type memorySessions MemoryStore

func (m *memorySessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *memorySessions) Find(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *memorySessions) ListByPrincipal(_ context.Context, principalID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.PrincipalID == principalID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memorySessions) Touch(_ context.Context, id string, now time.Time, renewFraction float64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.ValidAt(now) {
		return nil, ErrNotFound
	}
	s.LastSeenAt = now
	if s.ExpiresAt.Sub(now) < time.Duration((1-renewFraction)*float64(s.TTL)) {
		if extended := now.Add(s.TTL); extended.After(s.ExpiresAt) {
			s.ExpiresAt = extended
		}
	}
	return copySession(s), nil
}

func (m *memorySessions) Revoke(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	at := now
	s.RevokedAt = &at
	return nil
}

func (m *memorySessions) RevokeAllForPrincipal(_ context.Context, principalID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.PrincipalID == principalID && s.RevokedAt == nil {
			at := now
			s.RevokedAt = &at
		}
	}
	return nil
}

func (m *memorySessions) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func copyPrincipal(p *Principal) *Principal {
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	return &cp
}

func copySession(s *Session) *Session {
	cp := *s
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}

// Package module holds the catalog of workflow modules: the typed units of
// work (document kinds, procedures) that principals submit into. The catalog
// is assembled at startup and read-only afterwards.
package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tramita.org/internal/auth"
)

var (
	ErrUnknownKind = errors.New("module: unknown kind")
	ErrDuplicate   = errors.New("module: duplicate kind")
)

// Handler executes a module's work for one submission payload and returns the
// result document. Handlers run inside the background worker, never on the
// request path.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Module describes one workflow module.
type Module struct {
	Kind    string
	Version string
	Title   string

	// Roles is the ANY-of set required to see and use the module. Empty
	// means any authenticated principal.
	Roles []string
	// Hidden removes the module from every catalog and denies execution for
	// everyone, including superusers.
	Hidden bool
	// SuperuserOnly admits only superuser principals. The admin role does
	// not qualify.
	SuperuserOnly bool

	// UniqueField names a payload field whose value dedupes submissions
	// within the module. Empty disables duplicate suppression.
	UniqueField string

	Handler Handler
}

// Gate translates the module's access settings into the shared authorization
// predicate's terms.
func (m *Module) Gate() auth.Gate {
	g := auth.Gate{Hidden: m.Hidden, Roles: m.Roles}
	if m.SuperuserOnly {
		g.Restrict = auth.RestrictSuperuserOnly
	}
	return g
}

// Descriptor is the catalog view of a module, without the handler.
type Descriptor struct {
	Kind        string   `json:"kind"`
	Version     string   `json:"version"`
	Title       string   `json:"title"`
	Roles       []string `json:"roles,omitempty"`
	UniqueField string   `json:"unique_field,omitempty"`
}

// Registry is the module catalog.
type Registry struct {
	mu      sync.RWMutex
	byKind  map[string]*Module
	ordered []string
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]*Module)}
}

// Register adds a module. Kinds are lowercase identifiers and must be unique.
func (r *Registry) Register(m *Module) error {
	if m == nil {
		return errors.New("module: nil module")
	}
	kind := strings.ToLower(strings.TrimSpace(m.Kind))
	if kind == "" {
		return errors.New("module: empty kind")
	}
	if m.Handler == nil {
		return fmt.Errorf("module: %s has no handler", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKind[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, kind)
	}
	cp := *m
	cp.Kind = kind
	r.byKind[kind] = &cp
	r.ordered = append(r.ordered, kind)
	sort.Strings(r.ordered)
	return nil
}

// Get returns the module for a kind. Callers gate separately; Get itself does
// not consult the principal.
func (r *Registry) Get(kind string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKind[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return m, nil
}

// Visible returns descriptors for the modules the principal may use, in kind
// order. The same predicate gates execution, so the catalog never advertises
// anything the server would refuse.
func (r *Registry) Visible(p *auth.Principal) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.ordered))
	for _, kind := range r.ordered {
		m := r.byKind[kind]
		if !auth.Allowed(p, m.Gate()) {
			continue
		}
		out = append(out, describe(m))
	}
	return out
}

// All returns every registered module's descriptor, hidden ones included.
// Administrative surface only.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.ordered))
	for _, kind := range r.ordered {
		out = append(out, describe(r.byKind[kind]))
	}
	return out
}

func describe(m *Module) Descriptor {
	return Descriptor{
		Kind:        m.Kind,
		Version:     m.Version,
		Title:       m.Title,
		Roles:       append([]string(nil), m.Roles...),
		UniqueField: m.UniqueField,
	}
}

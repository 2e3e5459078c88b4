package module

import (
	"context"
	"errors"
	"testing"

	"tramita.org/internal/auth"
)

func noopHandler(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func newCatalog(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	mods := []*Module{
		{Kind: "dfd", Version: "1.0", Title: "Documento de Formalização da Demanda", Roles: []string{"compras", "pregoeiro"}, UniqueField: "numero", Handler: noopHandler},
		{Kind: "aberto", Version: "1.0", Title: "Consulta Aberta", Handler: noopHandler},
		{Kind: "oculto", Version: "0.1", Title: "Em desenvolvimento", Hidden: true, Handler: noopHandler},
		{Kind: "manutencao", Version: "1.0", Title: "Manutenção", SuperuserOnly: true, Handler: noopHandler},
	}
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			t.Fatalf("Register(%s): %v", m.Kind, err)
		}
	}
	return r
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Module{Kind: " DFD ", Handler: noopHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Get("dfd"); err != nil {
		t.Fatalf("Get normalized kind: %v", err)
	}
	if err := r.Register(&Module{Kind: "dfd", Handler: noopHandler}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := r.Register(&Module{Kind: "semhandler"}); err == nil {
		t.Fatalf("expected error for missing handler")
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRegistryVisible(t *testing.T) {
	r := newCatalog(t)

	kinds := func(ds []Descriptor) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.Kind
		}
		return out
	}

	cases := []struct {
		name string
		p    *auth.Principal
		want []string
	}{
		{"anonymous sees open modules", nil, []string{"aberto"}},
		{"compras sees its modules", &auth.Principal{Roles: []string{"compras"}}, []string{"aberto", "dfd"}},
		{"admin does not see superuser-only", &auth.Principal{Roles: []string{"admin"}}, []string{"aberto", "dfd"}},
		{"superuser sees all but hidden", &auth.Principal{Superuser: true}, []string{"aberto", "dfd", "manutencao"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := kinds(r.Visible(tc.p))
			if len(got) != len(tc.want) {
				t.Fatalf("Visible = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("Visible = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestRegistryAllIncludesHidden(t *testing.T) {
	r := newCatalog(t)
	all := r.All()
	if len(all) != 4 {
		t.Fatalf("All() = %d modules, want 4", len(all))
	}
}

func TestModuleGate(t *testing.T) {
	m := &Module{Kind: "manutencao", SuperuserOnly: true, Roles: []string{"compras"}}
	g := m.Gate()
	if g.Restrict != auth.RestrictSuperuserOnly {
		t.Fatalf("expected superuser-only restriction")
	}
	if auth.Allowed(&auth.Principal{Roles: []string{"admin"}}, g) {
		t.Fatalf("admin role must not satisfy superuser-only")
	}
	if !auth.Allowed(&auth.Principal{Superuser: true}, g) {
		t.Fatalf("superuser must pass")
	}
}

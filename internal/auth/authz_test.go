package auth

import "testing"

func TestAllowed(t *testing.T) {
	compras := &Principal{ID: "p1", Roles: []string{"compras"}, Active: true}
	pregoeiro := &Principal{ID: "p2", Roles: []string{"pregoeiro"}, Active: true}
	admin := &Principal{ID: "p3", Roles: []string{"admin"}, Active: true}
	super := &Principal{ID: "p4", Superuser: true, Active: true}

	cases := []struct {
		name string
		p    *Principal
		g    Gate
		want bool
	}{
		{"open gate admits anonymous", nil, Gate{}, true},
		{"open gate admits anyone", compras, Gate{}, true},
		{"role match admits", compras, Gate{Roles: []string{"compras"}}, true},
		{"any-of needs one match", pregoeiro, Gate{Roles: []string{"compras", "pregoeiro"}}, true},
		{"no role match denies", pregoeiro, Gate{Roles: []string{"compras"}}, false},
		{"nil principal denied by role gate", nil, Gate{Roles: []string{"compras"}}, false},
		{"role match is case-insensitive", &Principal{Roles: []string{" Compras "}}, Gate{Roles: []string{"compras"}}, true},
		{"admin role bypasses role gates", admin, Gate{Roles: []string{"compras"}}, true},
		{"superuser bypasses role gates", super, Gate{Roles: []string{"compras"}}, true},
		{"hidden denies superuser", super, Gate{Hidden: true}, false},
		{"hidden denies admin", admin, Gate{Hidden: true, Roles: []string{"admin"}}, false},
		{"superuser-only admits superuser", super, Gate{Restrict: RestrictSuperuserOnly}, true},
		{"superuser-only rejects admin role", admin, Gate{Restrict: RestrictSuperuserOnly}, false},
		{"superuser-only rejects anonymous", nil, Gate{Restrict: RestrictSuperuserOnly}, false},
		{"superuser-only ignores role list", compras, Gate{Restrict: RestrictSuperuserOnly, Roles: []string{"compras"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.p, tc.g); got != tc.want {
				t.Fatalf("Allowed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	p := &Principal{Roles: []string{"Compras", "pregoeiro"}}
	if !p.HasRole("compras") {
		t.Fatalf("expected case-insensitive role match")
	}
	if p.HasRole("admin") {
		t.Fatalf("unexpected admin role")
	}
	var nilP *Principal
	if nilP.HasRole("compras") {
		t.Fatalf("nil principal must not hold roles")
	}
}

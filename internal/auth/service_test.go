package auth

import (
	"context"
	"errors"
	"testing"
)

func newPrincipalFixture(t *testing.T) (*PrincipalService, *SessionService, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	codec, err := NewTokenCodec("test-secret", "tramita")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	sessions, err := NewSessionService(store, codec)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	svc, err := NewPrincipalService(store, sessions)
	if err != nil {
		t.Fatalf("NewPrincipalService: %v", err)
	}
	return svc, sessions, store
}

func TestVerifyCredentials(t *testing.T) {
	svc, _, _ := newPrincipalFixture(t)
	ctx := context.Background()
	p, err := svc.CreatePrincipal(ctx, " Ana@Example.org ", "Ana", "s3cret-pass", []string{"Compras", "compras", ""}, false)
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.Identity != "ana@example.org" {
		t.Fatalf("identity not normalized: %q", p.Identity)
	}
	if len(p.Roles) != 1 || p.Roles[0] != "compras" {
		t.Fatalf("roles not deduplicated: %v", p.Roles)
	}

	got, err := svc.VerifyCredentials(ctx, "ana@example.org", "s3cret-pass")
	if err != nil {
		t.Fatalf("VerifyCredentials: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("wrong principal %q", got.ID)
	}

	for name, in := range map[string][2]string{
		"wrong password":   {"ana@example.org", "nope-nope"},
		"unknown identity": {"zoe@example.org", "s3cret-pass"},
		"empty password":   {"ana@example.org", ""},
	} {
		if _, err := svc.VerifyCredentials(ctx, in[0], in[1]); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestCreatePrincipalConflict(t *testing.T) {
	svc, _, _ := newPrincipalFixture(t)
	ctx := context.Background()
	if _, err := svc.CreatePrincipal(ctx, "ana@example.org", "Ana", "s3cret-pass", nil, false); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if _, err := svc.CreatePrincipal(ctx, "ANA@example.org", "Outra", "s3cret-pass", nil, false); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeactivateRevokesSessions(t *testing.T) {
	svc, sessions, _ := newPrincipalFixture(t)
	ctx := context.Background()
	p, err := svc.CreatePrincipal(ctx, "ana@example.org", "Ana", "s3cret-pass", []string{"compras"}, false)
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	_, token, err := sessions.Create(ctx, p, false, ClientMeta{})
	if err != nil {
		t.Fatalf("session Create: %v", err)
	}

	if _, err := svc.Deactivate(ctx, p.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, _, err := sessions.Authenticate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after deactivation, got %v", err)
	}
	if _, err := svc.VerifyCredentials(ctx, "ana@example.org", "s3cret-pass"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("deactivated principal must not log in")
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	svc, sessions, _ := newPrincipalFixture(t)
	ctx := context.Background()
	p, err := svc.CreatePrincipal(ctx, "ana@example.org", "Ana", "s3cret-pass", nil, false)
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	_, token, err := sessions.Create(ctx, p, false, ClientMeta{})
	if err != nil {
		t.Fatalf("session Create: %v", err)
	}

	if err := svc.ChangePassword(ctx, p, "wrong-pass", "new-secret-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for wrong current password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, p, "s3cret-pass", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, p, "s3cret-pass", "new-secret-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := sessions.Authenticate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old session must die with the old password")
	}
	if _, err := svc.VerifyCredentials(ctx, "ana@example.org", "new-secret-1"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestSetPasswordFlagsMustChange(t *testing.T) {
	svc, _, store := newPrincipalFixture(t)
	ctx := context.Background()
	p, err := svc.CreatePrincipal(ctx, "ana@example.org", "Ana", "s3cret-pass", nil, false)
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if err := svc.SetPassword(ctx, p.ID, "reset-secret-1"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	got, err := store.Principals(ctx).Find(ctx, p.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !got.MustChangePassword {
		t.Fatalf("MustChangePassword not set after admin reset")
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	svc, _, _ := newPrincipalFixture(t)
	ctx := context.Background()

	p, created, err := svc.EnsureBootstrapAdmin(ctx, "root@example.org", "bootstrap-pass")
	if err != nil {
		t.Fatalf("EnsureBootstrapAdmin: %v", err)
	}
	if !created || !p.Superuser {
		t.Fatalf("expected freshly created superuser, created=%v su=%v", created, p.Superuser)
	}

	again, created, err := svc.EnsureBootstrapAdmin(ctx, "root@example.org", "bootstrap-pass")
	if err != nil {
		t.Fatalf("second EnsureBootstrapAdmin: %v", err)
	}
	if created || again.ID != p.ID {
		t.Fatalf("bootstrap must be idempotent, created=%v id=%q", created, again.ID)
	}
}

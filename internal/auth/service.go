package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tramita.org/internal/ids"
)

const (
	minPasswordLength = 8
	maxIdentityLength = 254
)

// PrincipalService manages principal records and credentials. It owns the
// write path for roles, flags and passwords; credential-affecting changes
// revoke the principal's sessions through the attached SessionService.
type PrincipalService struct {
	store    Store
	sessions *SessionService
	now      func() time.Time
}

// PrincipalOption configures PrincipalService behavior.
type PrincipalOption func(*PrincipalService)

// WithPrincipalClock overrides the time source (useful for tests).
func WithPrincipalClock(fn func() time.Time) PrincipalOption {
	return func(s *PrincipalService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewPrincipalService constructs the principal manager. sessions may be nil
// when session revocation is handled elsewhere (tests, offline tooling).
func NewPrincipalService(store Store, sessions *SessionService, opts ...PrincipalOption) (*PrincipalService, error) {
	if store == nil {
		return nil, errors.New("principal store is required")
	}
	svc := &PrincipalService{
		store:    store,
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// VerifyCredentials checks an identity/password pair and returns the matching
// active principal. Unknown identity, wrong password and deactivated account
// all collapse into ErrUnauthenticated so login probes learn nothing.
func (s *PrincipalService) VerifyCredentials(ctx context.Context, identity, password string) (*Principal, error) {
	identity = normalizeIdentity(identity)
	if identity == "" || password == "" {
		return nil, ErrUnauthenticated
	}
	p, err := s.store.Principals(ctx).FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("find principal: %w", err)
	}
	if !p.Active || VerifyPassword(p.PasswordHash, password) != nil {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

// CreatePrincipal registers a new principal with an initial password. The
// identity is the immutable external key; a collision surfaces as
// ErrConflict.
func (s *PrincipalService) CreatePrincipal(ctx context.Context, identity, displayName, password string, roles []string, superuser bool) (*Principal, error) {
	identity = normalizeIdentity(identity)
	displayName = strings.TrimSpace(displayName)
	if identity == "" || len(identity) > maxIdentityLength {
		return nil, fmt.Errorf("%w: identity", ErrInvalidInput)
	}
	if displayName == "" {
		displayName = identity
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	p := &Principal{
		ID:           ids.New(),
		Identity:     identity,
		DisplayName:  displayName,
		Roles:        normalizeRoles(roles),
		Superuser:    superuser,
		Active:       true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Principals(ctx).Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one principal by id.
func (s *PrincipalService) Get(ctx context.Context, id string) (*Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.store.Principals(ctx).Find(ctx, id)
}

// List returns all principals.
func (s *PrincipalService) List(ctx context.Context) ([]*Principal, error) {
	return s.store.Principals(ctx).List(ctx)
}

// SetRoles replaces the principal's role set. Role changes take effect on the
// next request because gating always reads the stored principal.
func (s *PrincipalService) SetRoles(ctx context.Context, id string, roles []string) (*Principal, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Roles = normalizeRoles(roles)
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Principals(ctx).Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate disables the principal and revokes all of its sessions. The
// record itself is kept so audit history stays resolvable.
func (s *PrincipalService) Deactivate(ctx context.Context, id string) (*Principal, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Superuser {
		return nil, fmt.Errorf("%w: cannot deactivate a superuser", ErrInvalidInput)
	}
	p.Active = false
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Principals(ctx).Update(ctx, p); err != nil {
		return nil, err
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeAll(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}
	return p, nil
}

// SetPassword resets a principal's password administratively, flags the
// account to change it on next login, and revokes existing sessions.
func (s *PrincipalService) SetPassword(ctx context.Context, id, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.Principals(ctx).SetPassword(ctx, p.ID, hash, true); err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeAll(ctx, p.ID); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	return nil
}

// ChangePassword lets a principal rotate its own password after proving the
// current one. All sessions are revoked; the caller logs in again.
func (s *PrincipalService) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if VerifyPassword(p.PasswordHash, current) != nil {
		return ErrUnauthenticated
	}
	if len(next) < minPasswordLength {
		return fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.Principals(ctx).SetPassword(ctx, p.ID, hash, false); err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeAll(ctx, p.ID); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	return nil
}

// EnsureBootstrapAdmin creates the initial superuser when no principal with
// that identity exists yet. Idempotent across restarts.
func (s *PrincipalService) EnsureBootstrapAdmin(ctx context.Context, identity, password string) (*Principal, bool, error) {
	identity = normalizeIdentity(identity)
	if identity == "" || password == "" {
		return nil, false, nil
	}
	existing, err := s.store.Principals(ctx).FindByIdentity(ctx, identity)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("find bootstrap admin: %w", err)
	}
	p, err := s.CreatePrincipal(ctx, identity, "Administrador", password, []string{"admin"}, true)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a startup race against another replica.
			existing, ferr := s.store.Principals(ctx).FindByIdentity(ctx, identity)
			if ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return p, true, nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = normalizeRole(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

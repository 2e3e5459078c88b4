package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	Sessions(ctx context.Context) SessionStore
}

// PrincipalStore manages principal records.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error // ErrConflict on identity collision
	Find(ctx context.Context, id string) (*Principal, error)
	FindByIdentity(ctx context.Context, identity string) (*Principal, error)
	List(ctx context.Context) ([]*Principal, error)
	// Update persists roles, display name and flags, bumping updated_at.
	Update(ctx context.Context, p *Principal) error
	SetPassword(ctx context.Context, id, hash string, mustChange bool) error
}

// SessionStore manages session lifecycle.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]*Session, error)
	// Touch atomically bumps last_seen_at and, when more than renewFraction of
	// the TTL has elapsed, extends expires_at, in one conditional write that
	// only matches currently valid rows. ErrNotFound when the session is
	// missing, revoked or expired. expires_at never decreases.
	Touch(ctx context.Context, id string, now time.Time, renewFraction float64) (*Session, error)
	// Revoke sets revoked_at once; revoking an already-revoked or unknown
	// session is a no-op success.
	Revoke(ctx context.Context, id string, now time.Time) error
	RevokeAllForPrincipal(ctx context.Context, principalID string, now time.Time) error
	// DeleteExpiredBefore removes sessions whose expiry passed before the
	// cutoff. Hygiene only; lazy expiry in Touch stays authoritative.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"tramita.org/internal/obs"
)

const (
	defaultSessionTTL   = 8 * time.Hour
	defaultRememberTTL  = 30 * 24 * time.Hour
	defaultRenewFraction = 0.5
)

// SessionService issues, validates, renews and revokes sessions. Validity is
// always re-derived from the durable session row; the client token only names
// the row. Any storage failure during authentication fails closed.
type SessionService struct {
	store Store
	codec *TokenCodec
	now   func() time.Time

	defaultTTL    time.Duration
	rememberTTL   time.Duration
	renewFraction float64
}

// SessionOption configures SessionService behavior.
type SessionOption func(*SessionService)

// WithSessionTTL sets the window for rememberMe=false sessions.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithRememberTTL sets the window for rememberMe=true sessions.
func WithRememberTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) {
		if ttl > 0 {
			s.rememberTTL = ttl
		}
	}
}

// WithRenewFraction sets the elapsed-TTL fraction past which Authenticate
// extends expiry.
func WithRenewFraction(f float64) SessionOption {
	return func(s *SessionService) {
		if f > 0 && f < 1 {
			s.renewFraction = f
		}
	}
}

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *SessionService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessionService constructs the session authority.
func NewSessionService(store Store, codec *TokenCodec, opts ...SessionOption) (*SessionService, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	svc := &SessionService{
		store:         store,
		codec:         codec,
		now:           time.Now,
		defaultTTL:    defaultSessionTTL,
		rememberTTL:   defaultRememberTTL,
		renewFraction: defaultRenewFraction,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create opens a session for the principal and returns it with a signed
// client token. The session is only returned once the store durably accepted
// it.
func (s *SessionService) Create(ctx context.Context, p *Principal, rememberMe bool, meta ClientMeta) (*Session, string, error) {
	if p == nil {
		return nil, "", ErrInvalidInput
	}
	ttl := s.defaultTTL
	if rememberMe {
		ttl = s.rememberTTL
	}
	now := s.now().UTC()
	sess := &Session{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		TTL:         ttl,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(ttl),
		RemoteAddr:  meta.RemoteAddr,
		UserAgent:   meta.UserAgent,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	token, err := s.codec.Sign(sess, p, now)
	if err != nil {
		return nil, "", fmt.Errorf("sign session token: %w", err)
	}
	return sess, token, nil
}

// Authenticate resolves a client token into a live principal. It bumps
// last_seen_at and slides expires_at in a single conditional write, so two
// concurrent calls on one session cannot race validity against renewal.
//
// Every failure (bad token, missing/revoked/expired session, or a store that
// cannot be reached) resolves to ErrUnauthenticated. Allowing access while
// the store is down would bypass revocation, so outages deny.
func (s *SessionService) Authenticate(ctx context.Context, rawToken string) (*Principal, *Session, error) {
	claims, err := s.codec.Parse(rawToken)
	if err != nil {
		return nil, nil, ErrUnauthenticated
	}
	now := s.now().UTC()
	sess, err := s.store.Sessions(ctx).Touch(ctx, claims.SessionID, now, s.renewFraction)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Log("error", "session touch failed", map[string]any{
				"session_id": claims.SessionID,
				"error":      err.Error(),
			})
		}
		return nil, nil, ErrUnauthenticated
	}
	p, err := s.store.Principals(ctx).Find(ctx, sess.PrincipalID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Log("error", "principal load failed", map[string]any{
				"principal_id": sess.PrincipalID,
				"error":        err.Error(),
			})
		}
		return nil, nil, ErrUnauthenticated
	}
	if !p.Active {
		return nil, nil, ErrUnauthenticated
	}
	return p, sess, nil
}

// RefreshToken re-signs the client token after a sliding renewal moved the
// session's expiry past the one embedded at issue time.
func (s *SessionService) RefreshToken(sess *Session, p *Principal) (string, error) {
	return s.codec.Sign(sess, p, s.now().UTC())
}

// Revoke terminates one session. The caller sees ErrNotFound both for unknown
// ids and for sessions it does not own, so existence does not leak; admins
// and superusers may revoke any session. Revoking twice is a no-op success.
func (s *SessionService) Revoke(ctx context.Context, p *Principal, sessionID string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidInput
	}
	sess, err := s.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.PrincipalID != p.ID && !p.Superuser && !p.HasRole("admin") {
		return ErrNotFound
	}
	return s.store.Sessions(ctx).Revoke(ctx, sessionID, s.now().UTC())
}

// RevokeAll terminates every session of a principal, e.g. on credential
// change or deactivation.
func (s *SessionService) RevokeAll(ctx context.Context, principalID string) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return ErrInvalidInput
	}
	return s.store.Sessions(ctx).RevokeAllForPrincipal(ctx, principalID, s.now().UTC())
}

// List returns the principal's sessions for self-service management, newest
// first as stored. Not a security boundary by itself.
func (s *SessionService) List(ctx context.Context, p *Principal, currentSessionID string) ([]SessionSummary, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	sessions, err := s.store.Sessions(ctx).ListByPrincipal(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{
			ID:         sess.ID,
			Device:     deviceLabel(sess.UserAgent),
			RemoteAddr: sess.RemoteAddr,
			CreatedAt:  sess.CreatedAt,
			LastSeenAt: sess.LastSeenAt,
			ExpiresAt:  sess.ExpiresAt,
			Revoked:    sess.RevokedAt != nil,
			Current:    sess.ID == currentSessionID,
		})
	}
	return out, nil
}

// SweepExpired deletes sessions that expired more than one remember-window
// ago. Lazy expiry in Touch stays authoritative; this only trims the table.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.rememberTTL)
	return s.store.Sessions(ctx).DeleteExpiredBefore(ctx, cutoff)
}

func deviceLabel(rawUA string) string {
	rawUA = strings.TrimSpace(rawUA)
	if rawUA == "" {
		return "unknown"
	}
	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	label := name
	if version != "" {
		label += " " + version
	}
	if os := ua.OS(); os != "" {
		label += " on " + os
	}
	return label
}

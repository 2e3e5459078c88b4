package auth

import (
	"strings"
	"time"
)

// Principal is an authenticated identity with its role set. Principals are
// never deleted, only deactivated.
type Principal struct {
	ID                 string    `json:"id"`
	Identity           string    `json:"identity"` // immutable external key (email or national id)
	DisplayName        string    `json:"display_name"`
	Roles              []string  `json:"roles"`
	Superuser          bool      `json:"superuser"`
	MustChangePassword bool      `json:"must_change_password"`
	Active             bool      `json:"active"`
	PasswordHash       string    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasRole reports whether the principal holds the role, case-insensitively.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	role = normalizeRole(role)
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if normalizeRole(r) == role {
			return true
		}
	}
	return false
}

// Session is the durable, revocable server-side record backing a client
// token. A session is valid iff revoked_at is unset and expires_at is in the
// future; validity is always re-derived from this record, never from the
// client-held token alone.
type Session struct {
	ID          string
	PrincipalID string
	TTL         time.Duration // sliding window length fixed at creation
	CreatedAt   time.Time
	LastSeenAt  time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	RemoteAddr  string
	UserAgent   string
}

// ValidAt reports whether the session is usable at the given instant.
func (s *Session) ValidAt(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// SessionSummary is the self-service view of a session.
type SessionSummary struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	RemoteAddr string    `json:"remote_addr"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	Current    bool      `json:"current"`
}

// ClientMeta captures where a session was established from.
type ClientMeta struct {
	RemoteAddr string
	UserAgent  string
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

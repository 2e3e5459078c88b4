package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of the client-held bearer token. Only the session id
// matters for server-side decisions; the name/roles snapshot exists so a UI
// can render without a round trip and must never be trusted for gating.
type Claims struct {
	SessionID   string   `json:"sid"`
	DisplayName string   `json:"name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Superuser   bool     `json:"su,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies client tokens with HS256.
type TokenCodec struct {
	secret []byte
	issuer string
}

// NewTokenCodec constructs a codec. The secret is required.
func NewTokenCodec(secret, issuer string) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenCodec{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}, nil
}

// Sign issues a token referencing the session, with an advisory principal
// snapshot. The embedded expiry mirrors the session's current expires_at;
// callers re-issue the token when sliding renewal pushes the session further.
func (c *TokenCodec) Sign(s *Session, p *Principal, now time.Time) (string, error) {
	if s == nil || p == nil {
		return "", errors.New("session and principal are required")
	}
	claims := Claims{
		SessionID:   s.ID,
		DisplayName: p.DisplayName,
		Roles:       p.Roles,
		Superuser:   p.Superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt.UTC()),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Parse verifies the signature and registered claims and returns the decoded
// claims. Any defect maps to ErrInvalidToken; callers treat that as
// unauthenticated without detail.
func (c *TokenCodec) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.SessionID) == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	codec, err := NewTokenCodec("test-secret", "tramita")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	now := time.Now().UTC()
	sess := &Session{ID: "sess-1", PrincipalID: "p-1", ExpiresAt: now.Add(time.Hour)}
	p := &Principal{ID: "p-1", DisplayName: "Ana", Roles: []string{"compras"}}

	raw, err := codec.Sign(sess, p, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := codec.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.Subject != "p-1" {
		t.Fatalf("unexpected claims: sid=%q sub=%q", claims.SessionID, claims.Subject)
	}
	if claims.DisplayName != "Ana" || len(claims.Roles) != 1 {
		t.Fatalf("snapshot not carried: %+v", claims)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	signer, _ := NewTokenCodec("secret-a", "tramita")
	verifier, _ := NewTokenCodec("secret-b", "tramita")
	now := time.Now().UTC()
	raw, err := signer.Sign(&Session{ID: "s", ExpiresAt: now.Add(time.Hour)}, &Principal{ID: "p"}, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := verifier.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsWrongIssuer(t *testing.T) {
	signer, _ := NewTokenCodec("secret", "other")
	verifier, _ := NewTokenCodec("secret", "tramita")
	now := time.Now().UTC()
	raw, err := signer.Sign(&Session{ID: "s", ExpiresAt: now.Add(time.Hour)}, &Principal{ID: "p"}, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := verifier.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	codec, _ := NewTokenCodec("secret", "tramita")
	now := time.Now().UTC()
	raw, err := codec.Sign(&Session{ID: "s", ExpiresAt: now.Add(-time.Minute)}, &Principal{ID: "p"}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := codec.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	codec, _ := NewTokenCodec("secret", "tramita")
	for _, raw := range []string{"", "  ", "not.a.token"} {
		if _, err := codec.Parse(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Parse(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

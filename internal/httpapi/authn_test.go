package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tramita.org/internal/auth"
)

func newAuthnFixture(t *testing.T) (*API, *auth.SessionService, *auth.Principal) {
	t.Helper()
	store := auth.NewMemoryStore()
	codec, err := auth.NewTokenCodec("test-secret", "tramita")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	sessions, err := auth.NewSessionService(store, codec)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	p := &auth.Principal{ID: "p-1", Identity: "ana@example.org", DisplayName: "Ana", Active: true}
	if err := store.Principals(context.Background()).Create(context.Background(), p); err != nil {
		t.Fatalf("seed principal: %v", err)
	}
	return New(Config{Sessions: sessions}), sessions, p
}

func TestWithAuthBearerToken(t *testing.T) {
	api, sessions, p := newAuthnFixture(t)
	_, token, err := sessions.Create(context.Background(), p, false, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	var got *auth.Principal
	probe := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	probe.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got == nil || got.ID != "p-1" {
		t.Fatalf("principal not attached: %+v", got)
	}
}

func TestWithAuthCookieRefreshed(t *testing.T) {
	api, sessions, p := newAuthnFixture(t)
	sess, token, err := sessions.Create(context.Background(), p, false, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	probe := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	rr := httptest.NewRecorder()
	probe.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var refreshed *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie {
			refreshed = c
		}
	}
	if refreshed == nil || refreshed.Value == "" {
		t.Fatalf("cookie not re-issued")
	}
	if refreshed.Expires.Before(sess.ExpiresAt.Add(-time.Minute)) {
		t.Fatalf("cookie expiry %v behind session %v", refreshed.Expires, sess.ExpiresAt)
	}
}

func TestWithAuthInvalidCookieCleared(t *testing.T) {
	api, _, _ := newAuthnFixture(t)
	probe := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "garbage"})
	rr := httptest.NewRecorder()
	probe.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	cleared := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("stale cookie not cleared")
	}
}

func TestWithAuthPublicPaths(t *testing.T) {
	api, _, _ := newAuthnFixture(t)
	probe := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/v1/auth/login", "/metrics"} {
		rr := httptest.NewRecorder()
		probe.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want pass-through", path, rr.Code)
		}
	}
}

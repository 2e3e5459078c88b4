package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tramita.org/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "tramita_session"
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
}

// withAuth resolves the session token (Authorization header or cookie) into a
// principal on the request context. Requests to protected paths without a
// live session are rejected with a single undifferentiated 401.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, fromCookie := extractToken(r)
		if token == "" {
			respondError(w, r, auth.ErrUnauthenticated)
			return
		}

		principal, sess, err := a.sessions.Authenticate(r.Context(), token)
		if err != nil {
			if fromCookie {
				clearSessionCookie(w)
			}
			respondError(w, r, auth.ErrUnauthenticated)
			return
		}

		// Sliding renewal may have pushed the session past the expiry baked
		// into the cookie's token, so hand back a fresh one.
		if fromCookie {
			if refreshed, err := a.sessions.RefreshToken(sess, principal); err == nil {
				setSessionCookie(w, refreshed, sess.ExpiresAt)
			}
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken prefers the Authorization header over the cookie.
func extractToken(r *http.Request) (token string, fromCookie bool) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" && strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		if t := strings.TrimSpace(header[len(bearer):]); t != "" {
			return t, false
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// requirePrincipal pulls the authenticated principal or writes a 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, auth.ErrUnauthenticated)
		return nil, false
	}
	return p, true
}

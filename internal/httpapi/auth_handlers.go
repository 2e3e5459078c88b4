package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"tramita.org/internal/audit"
	"tramita.org/internal/auth"
)

type loginRequest struct {
	Identity   string `json:"identity"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Principal *auth.Principal `json:"principal"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	p, err := a.principals.VerifyCredentials(r.Context(), req.Identity, req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}

	meta := auth.ClientMeta{RemoteAddr: clientIP(r), UserAgent: r.UserAgent()}
	sess, token, err := a.sessions.Create(r.Context(), p, req.RememberMe, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}

	a.audits.Record(r.Context(), audit.Event{
		ActorID:   p.ID,
		ActorName: p.DisplayName,
		Action:    "session.created",
		Metadata:  map[string]string{"session_id": sess.ID},
	})
	setSessionCookie(w, token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: sess.ExpiresAt, Principal: p})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		if err := a.sessions.Revoke(r.Context(), p, sess.ID); err != nil {
			respondError(w, r, err)
			return
		}
		a.recordAudit(r, "session.revoked", "", "", map[string]string{"session_id": sess.ID})
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if err := a.principals.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(w, r, err)
		return
	}
	a.recordAudit(r, "principal.password_changed", "", "", nil)
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	current := ""
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		current = sess.ID
	}
	summaries, err := a.sessions.List(r.Context(), p, current)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "revoke" || parts[0] == "" {
		notFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := a.sessions.Revoke(r.Context(), p, parts[0]); err != nil {
		respondError(w, r, err)
		return
	}
	a.recordAudit(r, "session.revoked", "", "", map[string]string{"session_id": parts[0]})
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

package httpapi

import (
	"net/http"
	"strings"

	"tramita.org/internal/audit"
	"tramita.org/internal/auth"
)

// handleAudits serves the audit trail. Admins and superusers see everything;
// everyone else only their own actions.
func (a *API) handleAudits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	q := audit.Query{
		Action:       strings.TrimSpace(r.URL.Query().Get("action")),
		Kind:         strings.TrimSpace(r.URL.Query().Get("kind")),
		SubmissionID: strings.TrimSpace(r.URL.Query().Get("submission_id")),
	}
	var err error
	if q.Since, err = parseQueryTime(r, "since"); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if q.Until, err = parseQueryTime(r, "until"); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if q.Limit, err = parseQueryInt(r, "limit", 0); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if q.Offset, err = parseQueryInt(r, "offset", 0); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	if p.Superuser || p.HasRole("admin") {
		q.ActorID = strings.TrimSpace(r.URL.Query().Get("actor_id"))
	} else {
		q.ActorID = p.ID
	}

	q = q.Clamped()
	items, err := a.audits.Query(r.Context(), q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// requireAdmin gates administrative surfaces on the admin role or the
// superuser flag.
func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return nil, false
	}
	if !p.Superuser && !p.HasRole("admin") {
		respondError(w, r, auth.ErrForbidden)
		return nil, false
	}
	return p, true
}

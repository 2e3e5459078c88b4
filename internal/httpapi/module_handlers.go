package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tramita.org/internal/auth"
	"tramita.org/internal/module"
	"tramita.org/internal/submission"
)

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.registry.Visible(p)})
}

// handleModuleResource routes /v1/modules/{kind}/... to the ledger
// operations.
func (a *API) handleModuleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/modules/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		notFound(w, r)
		return
	}
	kind := parts[0]

	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	mod, err := a.gateModule(p, kind)
	if err != nil {
		respondError(w, r, err)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "submit":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.submit(w, r, p, mod)
	case len(parts) == 2 && parts[1] == "list":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listSubmissions(w, r, p, mod)
	case len(parts) == 3 && parts[1] == "get":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getSubmission(w, r, p, mod, parts[2])
	case len(parts) == 4 && parts[1] == "get" && parts[3] == "download":
		// POST triggers the download action; GET is kept for direct
		// browser links.
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			return
		}
		a.downloadArtifact(w, r, p, mod, parts[2])
	default:
		notFound(w, r)
	}
}

// gateModule applies the execution gate. Unknown and hidden kinds are both
// reported as missing so hidden modules cannot be probed; a visible module
// the principal lacks roles for is a plain 403.
func (a *API) gateModule(p *auth.Principal, kind string) (*module.Module, error) {
	mod, err := a.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	if mod.Hidden {
		return nil, module.ErrUnknownKind
	}
	if !auth.Allowed(p, mod.Gate()) {
		return nil, auth.ErrForbidden
	}
	return mod, nil
}

type submitRequest struct {
	Payload map[string]any `json:"payload"`
}

func (a *API) submit(w http.ResponseWriter, r *http.Request, p *auth.Principal, mod *module.Module) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	actor := submission.Actor{ID: p.ID, Name: p.DisplayName, Contact: p.Identity}
	sub, err := a.submissions.Create(r.Context(), mod.Kind, mod.Version, actor, req.Payload, mod.UniqueField)
	if err != nil {
		respondError(w, r, err)
		return
	}

	a.recordAudit(r, "submission.created", mod.Kind, sub.ID, nil)
	w.Header().Set("Location", "/v1/modules/"+mod.Kind+"/get/"+sub.ID)
	writeJSON(w, http.StatusAccepted, sub)
}

func (a *API) listSubmissions(w http.ResponseWriter, r *http.Request, p *auth.Principal, mod *module.Module) {
	f := submission.Filter{Kind: mod.Kind}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		f.Status = submission.Status(status)
	}
	var err error
	if f.Limit, err = parseQueryInt(r, "limit", 0); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if f.Offset, err = parseQueryInt(r, "offset", 0); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	// Regular principals only see their own rows.
	if !p.Superuser && !p.HasRole("admin") {
		f.ActorID = p.ID
	}
	f = f.Clamped()

	items, err := a.submissions.List(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (a *API) getSubmission(w http.ResponseWriter, r *http.Request, p *auth.Principal, mod *module.Module, id string) {
	sub, err := a.loadOwnedSubmission(r, p, mod, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) downloadArtifact(w http.ResponseWriter, r *http.Request, p *auth.Principal, mod *module.Module, id string) {
	sub, err := a.loadOwnedSubmission(r, p, mod, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if sub.Status != submission.StatusDone {
		writeError(w, r, http.StatusConflict, "conflict", "submission has not completed", map[string]any{
			"reason": "not_ready",
			"status": string(sub.Status),
		})
		return
	}
	rc, size, err := a.artifacts.Open(r.Context(), sub.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer rc.Close()

	a.recordAudit(r, "submission.downloaded", mod.Kind, sub.ID, nil)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+sub.ID+`.bin"`)
	_, _ = io.Copy(w, rc)
}

// loadOwnedSubmission fetches the row and hides it from principals who do not
// own it. A mismatched kind in the URL is treated the same way.
func (a *API) loadOwnedSubmission(r *http.Request, p *auth.Principal, mod *module.Module, id string) (*submission.Submission, error) {
	sub, err := a.submissions.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if sub.Kind != mod.Kind {
		return nil, submission.ErrNotFound
	}
	if sub.Actor.ID != p.ID && !p.Superuser && !p.HasRole("admin") {
		return nil, submission.ErrNotFound
	}
	return sub, nil
}

func parseQueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return val, nil
}

func parseQueryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	val, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return val, nil
}

package httpapi

import (
	"net/http"
	"strings"
)

type createPrincipalRequest struct {
	Identity    string   `json:"identity"`
	DisplayName string   `json:"display_name"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Superuser   bool     `json:"superuser"`
}

func (a *API) handlePrincipalsCollection(w http.ResponseWriter, r *http.Request) {
	adm, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := a.principals.List(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req createPrincipalRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		// Only a superuser may mint another superuser.
		if req.Superuser && !adm.Superuser {
			writeError(w, r, http.StatusForbidden, "forbidden", "only a superuser can grant superuser", nil)
			return
		}
		p, err := a.principals.CreatePrincipal(r.Context(), req.Identity, req.DisplayName, req.Password, req.Roles, req.Superuser)
		if err != nil {
			respondError(w, r, err)
			return
		}
		a.recordAudit(r, "principal.created", "", "", map[string]string{"principal_id": p.ID})
		w.Header().Set("Location", "/v1/admin/principals/"+p.ID)
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePrincipalResource(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/principals/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" {
		notFound(w, r)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		p, err := a.principals.Get(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 2 && parts[1] == "roles":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req struct {
			Roles []string `json:"roles"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		p, err := a.principals.SetRoles(r.Context(), id, req.Roles)
		if err != nil {
			respondError(w, r, err)
			return
		}
		a.recordAudit(r, "principal.roles_changed", "", "", map[string]string{
			"principal_id": p.ID,
			"roles":        strings.Join(p.Roles, ","),
		})
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 2 && parts[1] == "deactivate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		p, err := a.principals.Deactivate(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		a.recordAudit(r, "principal.deactivated", "", "", map[string]string{"principal_id": p.ID})
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 2 && parts[1] == "password":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req struct {
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		if err := a.principals.SetPassword(r.Context(), id, req.Password); err != nil {
			respondError(w, r, err)
			return
		}
		a.recordAudit(r, "principal.password_reset", "", "", map[string]string{"principal_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		notFound(w, r)
	}
}

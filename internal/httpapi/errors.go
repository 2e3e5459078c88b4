package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tramita.org/internal/artifact"
	"tramita.org/internal/auth"
	"tramita.org/internal/module"
	"tramita.org/internal/obs"
	"tramita.org/internal/submission"
)

// apiError is the envelope every non-2xx response carries.
type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["request_id"] = rid
	}
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}

// respondError maps domain errors onto the envelope. Unknown errors become an
// opaque 500; the detail goes to the log, not the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions", nil)
	case errors.Is(err, auth.ErrNotFound),
		errors.Is(err, submission.ErrNotFound),
		errors.Is(err, module.ErrUnknownKind),
		errors.Is(err, artifact.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, submission.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "conflict", firstLine(err), map[string]any{"reason": "duplicate"})
	case errors.Is(err, auth.ErrConflict),
		errors.Is(err, submission.ErrStaleTransition),
		errors.Is(err, submission.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "conflict", firstLine(err), nil)
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, submission.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, "validation", firstLine(err), nil)
	default:
		obs.Log("error", "request failed", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "storage_error", "internal error", nil)
	}
}

// firstLine keeps envelope messages single-line.
func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not_found", "resource not found", nil)
}

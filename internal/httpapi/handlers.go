package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"tramita.org/internal/artifact"
	"tramita.org/internal/audit"
	"tramita.org/internal/auth"
	"tramita.org/internal/module"
	"tramita.org/internal/obs"
	"tramita.org/internal/stream"
	"tramita.org/internal/submission"
)

// ReadyProbe reports backend readiness (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the HTTP layer to the services it fronts.
type Config struct {
	Version     string
	ReadyProbe  ReadyProbe
	Sessions    *auth.SessionService
	Principals  *auth.PrincipalService
	Registry    *module.Registry
	Submissions *submission.Service
	Audits      *audit.Log
	Artifacts   artifact.Store
	Stream      *stream.Stream

	// Optional per-client throttle; disabled when either value is zero.
	RateBurst  int
	RatePerSec int
}

// API is the HTTP boundary. Handlers translate requests into service calls
// and domain errors into the envelope; they hold no business rules of their
// own.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions    *auth.SessionService
	principals  *auth.PrincipalService
	registry    *module.Registry
	submissions *submission.Service
	audits      *audit.Log
	artifacts   artifact.Store
	stream      *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
		sessions:    cfg.Sessions,
		principals:  cfg.Principals,
		registry:    cfg.Registry,
		submissions: cfg.Submissions,
		audits:      cfg.Audits,
		artifacts:   cfg.Artifacts,
		stream:      cfg.Stream,
		rateBurst:   cfg.RateBurst,
		ratePerSec:  cfg.RatePerSec,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication and self-service
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/me/password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionResource)

	// workflow modules and the submission ledger
	a.mux.HandleFunc("/v1/modules", a.handleCatalog)
	a.mux.HandleFunc("/v1/modules/", a.handleModuleResource)

	// audit trail
	a.mux.HandleFunc("/v1/audits", a.handleAudits)

	// live submission events
	a.mux.HandleFunc("/v1/events", a.Stream)

	// administrative principal management
	a.mux.HandleFunc("/v1/admin/principals", a.handlePrincipalsCollection)
	a.mux.HandleFunc("/v1/admin/principals/", a.handlePrincipalResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		notFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	if a.rateBurst > 0 && a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = obs.Instrument(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tramita-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "tramita-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// recordAudit is fire-and-forget; see audit.Log.Record.
func (a *API) recordAudit(r *http.Request, action, kind, submissionID string, metadata map[string]string) {
	if a.audits == nil {
		return
	}
	e := audit.Event{Action: action, Kind: kind, SubmissionID: submissionID, Metadata: metadata}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		e.ActorID = p.ID
		e.ActorName = p.DisplayName
	}
	a.audits.Record(r.Context(), e)
}

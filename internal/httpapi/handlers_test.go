package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tramita.org/internal/artifact"
	"tramita.org/internal/audit"
	"tramita.org/internal/auth"
	"tramita.org/internal/module"
	"tramita.org/internal/stream"
	"tramita.org/internal/submission"
)

type testEnv struct {
	t       *testing.T
	baseURL string
	client  *http.Client

	subs      *submission.Service
	worker    *submission.Worker
	artifacts *artifact.Dir
	audits    *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	authStore := auth.NewMemoryStore()
	codec, err := auth.NewTokenCodec("test-secret", "tramita")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	sessions, err := auth.NewSessionService(authStore, codec)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	principals, err := auth.NewPrincipalService(authStore, sessions)
	if err != nil {
		t.Fatalf("NewPrincipalService: %v", err)
	}

	ctx := context.Background()
	seed := []struct {
		identity  string
		roles     []string
		superuser bool
	}{
		{"ana@example.org", []string{"compras"}, false},
		{"bia@example.org", []string{"pregoeiro"}, false},
		{"caio@example.org", nil, false},
		{"gestor@example.org", []string{"admin"}, false},
		{"root@example.org", nil, true},
	}
	for _, s := range seed {
		if _, err := principals.CreatePrincipal(ctx, s.identity, strings.Split(s.identity, "@")[0], "senha-secreta", s.roles, s.superuser); err != nil {
			t.Fatalf("seed %s: %v", s.identity, err)
		}
	}

	events := stream.New()
	subStore := submission.NewMemoryStore()
	subs, err := submission.NewService(subStore, submission.WithPublisher(events))
	if err != nil {
		t.Fatalf("submission.NewService: %v", err)
	}

	registry := module.NewRegistry()
	mods := []*module.Module{
		{Kind: "dfd", Version: "1.0", Title: "Documento de Formalização da Demanda", Roles: []string{"compras", "pregoeiro"}, UniqueField: "numero",
			Handler: func(_ context.Context, payload map[string]any) (map[string]any, error) {
				return map[string]any{"protocolo": "DFD-OK"}, nil
			}},
		{Kind: "aberto", Version: "1.0", Title: "Consulta Aberta",
			Handler: func(context.Context, map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			}},
		{Kind: "oculto", Version: "0.1", Title: "Em desenvolvimento", Hidden: true,
			Handler: func(context.Context, map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			}},
		{Kind: "manutencao", Version: "1.0", Title: "Manutenção", SuperuserOnly: true,
			Handler: func(context.Context, map[string]any) (map[string]any, error) {
				return map[string]any{}, nil
			}},
	}
	for _, m := range mods {
		if err := registry.Register(m); err != nil {
			t.Fatalf("Register(%s): %v", m.Kind, err)
		}
	}

	audits := audit.New(audit.NewMemoryStore())
	artifacts, err := artifact.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("artifact.NewDir: %v", err)
	}
	worker, err := submission.NewWorker(subs, registry, audits, submission.WithArtifacts(artifacts))
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	api := New(Config{
		Version:     "test",
		Sessions:    sessions,
		Principals:  principals,
		Registry:    registry,
		Submissions: subs,
		Audits:      audits,
		Artifacts:   artifacts,
		Stream:      events,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		t:         t,
		baseURL:   srv.URL,
		client:    srv.Client(),
		subs:      subs,
		worker:    worker,
		artifacts: artifacts,
		audits:    audits,
	}
}

func (e *testEnv) do(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.baseURL+path, payload)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) login(identity string) string {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"identity": identity,
		"password": "senha-secreta",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login %s: status %d", identity, resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		e.t.Fatalf("decode login: %v", err)
	}
	if out.Token == "" {
		e.t.Fatalf("login returned no token")
	}
	return out.Token
}

func decodeEnvelope(t *testing.T, resp *http.Response) apiError {
	t.Helper()
	defer resp.Body.Close()
	var out apiError
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if out.Code == "" {
		t.Fatalf("envelope missing code")
	}
	return out
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"identity": "ana@example.org",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Code != "unauthenticated" {
		t.Fatalf("code = %q", env.Code)
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"identity": "ana@example.org",
		"password": "senha-secreta",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", cookie)
	}
}

func TestProtectedPathsRequireAuth(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/v1/modules", "/v1/me", "/v1/sessions", "/v1/audits"} {
		resp := e.do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestCatalogMatchesRoles(t *testing.T) {
	e := newTestEnv(t)
	cases := map[string][]string{
		"ana@example.org":    {"aberto", "dfd"},
		"caio@example.org":   {"aberto"},
		"gestor@example.org": {"aberto", "dfd"},
		"root@example.org":   {"aberto", "dfd", "manutencao"},
	}
	for identity, want := range cases {
		token := e.login(identity)
		resp := e.do(http.MethodGet, "/v1/modules", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", identity, resp.StatusCode)
		}
		var out struct {
			Items []module.Descriptor `json:"items"`
		}
		decodeBody(t, resp, &out)
		if len(out.Items) != len(want) {
			t.Fatalf("%s: catalog %v, want kinds %v", identity, out.Items, want)
		}
		for i, d := range out.Items {
			if d.Kind != want[i] {
				t.Fatalf("%s: catalog[%d] = %q, want %q", identity, i, d.Kind, want[i])
			}
		}
	}
}

func TestSubmitLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token := e.login("ana@example.org")

	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", token, map[string]any{
		"payload": map[string]any{"numero": "2026/001", "objeto": "aquisição de insumos"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/v1/modules/dfd/get/") {
		t.Fatalf("Location = %q", loc)
	}
	var sub submission.Submission
	decodeBody(t, resp, &sub)
	if sub.Status != submission.StatusQueued {
		t.Fatalf("Status = %q, want queued", sub.Status)
	}
	if sub.Version != "1.0" {
		t.Fatalf("Version = %q, want the module version stamped on the row", sub.Version)
	}

	// Drain the queue; the handler completes the row.
	e.worker.Drain(context.Background())

	resp = e.do(http.MethodGet, "/v1/modules/dfd/get/"+sub.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got submission.Submission
	decodeBody(t, resp, &got)
	if got.Status != submission.StatusDone || got.Result["protocolo"] != "DFD-OK" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestSubmitDuplicate(t *testing.T) {
	e := newTestEnv(t)
	token := e.login("ana@example.org")
	body := map[string]any{"payload": map[string]any{"numero": "2026/002"}}

	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", token, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit: %d", resp.StatusCode)
	}

	resp = e.do(http.MethodPost, "/v1/modules/dfd/submit", token, body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Code != "conflict" {
		t.Fatalf("code = %q", env.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newTestEnv(t)
	token := e.login("ana@example.org")

	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", token, map[string]any{
		"payload": map[string]any{"objeto": "sem numero"},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Code != "validation" {
		t.Fatalf("code = %q", env.Code)
	}
}

func TestModuleGating(t *testing.T) {
	e := newTestEnv(t)
	caio := e.login("caio@example.org")   // no roles
	gestor := e.login("gestor@example.org") // admin role
	root := e.login("root@example.org")   // superuser

	// Role-gated module, principal lacks the role: visible rule says 403.
	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", caio, map[string]any{"payload": map[string]any{"numero": "x"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("dfd as caio: %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Hidden module: indistinguishable from unknown.
	for _, kind := range []string{"oculto", "fantasma"} {
		resp = e.do(http.MethodPost, "/v1/modules/"+kind+"/submit", root, map[string]any{"payload": map[string]any{}})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s as root: %d, want 404", kind, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Superuser-only refuses the admin role but admits the superuser.
	resp = e.do(http.MethodPost, "/v1/modules/manutencao/submit", gestor, map[string]any{"payload": map[string]any{}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("manutencao as gestor: %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
	resp = e.do(http.MethodPost, "/v1/modules/manutencao/submit", root, map[string]any{"payload": map[string]any{}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("manutencao as root: %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubmissionOwnershipHidesRows(t *testing.T) {
	e := newTestEnv(t)
	ana := e.login("ana@example.org")
	bia := e.login("bia@example.org")
	gestor := e.login("gestor@example.org")

	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", ana, map[string]any{
		"payload": map[string]any{"numero": "2026/003"},
	})
	var sub submission.Submission
	decodeBody(t, resp, &sub)

	// Another holder of the same role must not even learn the row exists.
	resp = e.do(http.MethodGet, "/v1/modules/dfd/get/"+sub.ID, bia, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get: %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin oversight sees everything.
	resp = e.do(http.MethodGet, "/v1/modules/dfd/get/"+sub.ID, gestor, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin get: %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// List is scoped the same way and echoes the effective page.
	resp = e.do(http.MethodGet, "/v1/modules/dfd/list", bia, nil)
	var listed struct {
		Items  []submission.Submission `json:"items"`
		Limit  int                     `json:"limit"`
		Offset int                     `json:"offset"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Items) != 0 {
		t.Fatalf("bia sees %d foreign rows", len(listed.Items))
	}
	if listed.Limit != 50 || listed.Offset != 0 {
		t.Fatalf("page not echoed: limit=%d offset=%d", listed.Limit, listed.Offset)
	}
}

func TestDownloadLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token := e.login("ana@example.org")

	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", token, map[string]any{
		"payload": map[string]any{"numero": "2026/004"},
	})
	var sub submission.Submission
	decodeBody(t, resp, &sub)

	// Still queued: the artifact is not ready.
	resp = e.do(http.MethodGet, "/v1/modules/dfd/get/"+sub.ID+"/download", token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("early download: %d, want 409", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Code != "conflict" {
		t.Fatalf("code = %q", env.Code)
	}
	if env.Details["reason"] != "not_ready" {
		t.Fatalf("reason = %v", env.Details["reason"])
	}

	e.worker.Drain(context.Background())
	if err := e.artifacts.Put(context.Background(), sub.ID, strings.NewReader("laudo final")); err != nil {
		t.Fatalf("Put artifact: %v", err)
	}

	resp = e.do(http.MethodGet, "/v1/modules/dfd/get/"+sub.ID+"/download", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: %d, want 200", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || string(data) != "laudo final" {
		t.Fatalf("content = %q, err = %v", data, err)
	}
}

func TestAuditTrailScoping(t *testing.T) {
	e := newTestEnv(t)
	ana := e.login("ana@example.org")
	bia := e.login("bia@example.org")
	gestor := e.login("gestor@example.org")

	resp := e.do(http.MethodPost, "/v1/modules/dfd/submit", ana, map[string]any{
		"payload": map[string]any{"numero": "2026/005"},
	})
	resp.Body.Close()

	var own struct {
		Items []audit.Event `json:"items"`
	}
	resp = e.do(http.MethodGet, "/v1/audits", bia, nil)
	decodeBody(t, resp, &own)
	for _, ev := range own.Items {
		if ev.ActorName != "bia" {
			t.Fatalf("bia sees foreign audit event: %+v", ev)
		}
	}

	var all struct {
		Items  []audit.Event `json:"items"`
		Limit  int           `json:"limit"`
		Offset int           `json:"offset"`
	}
	resp = e.do(http.MethodGet, "/v1/audits", gestor, nil)
	decodeBody(t, resp, &all)
	found := false
	for _, ev := range all.Items {
		if ev.Action == "submission.created" {
			found = true
		}
	}
	if !found {
		t.Fatalf("admin view missing submission.created: %+v", all.Items)
	}
	if all.Limit != 100 || all.Offset != 0 {
		t.Fatalf("page not echoed: limit=%d offset=%d", all.Limit, all.Offset)
	}
}

func TestSessionRevocationEndsAccess(t *testing.T) {
	e := newTestEnv(t)
	token := e.login("ana@example.org")

	var sessions struct {
		Items []auth.SessionSummary `json:"items"`
	}
	resp := e.do(http.MethodGet, "/v1/sessions", token, nil)
	decodeBody(t, resp, &sessions)
	if len(sessions.Items) != 1 || !sessions.Items[0].Current {
		t.Fatalf("unexpected session list: %+v", sessions.Items)
	}

	resp = e.do(http.MethodPost, "/v1/sessions/"+sessions.Items[0].ID+"/revoke", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(http.MethodGet, "/v1/me", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token still works: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	e := newTestEnv(t)
	ana := e.login("ana@example.org")
	gestor := e.login("gestor@example.org")

	resp := e.do(http.MethodGet, "/v1/admin/principals", ana, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin list: %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(http.MethodPost, "/v1/admin/principals", gestor, map[string]any{
		"identity": "novo@example.org",
		"password": "senha-secreta",
		"roles":    []string{"compras"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create: %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin role alone cannot mint a superuser.
	resp = e.do(http.MethodPost, "/v1/admin/principals", gestor, map[string]any{
		"identity":  "su@example.org",
		"password":  "senha-secreta",
		"superuser": true,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("superuser grant by admin: %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthAndInfoArePublic(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := e.do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/events"
	"github.com/renderlite/renderlite/pkg/manager"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/store"
	"github.com/renderlite/renderlite/pkg/types"
)

type fixture struct {
	handler http.Handler
	mgr     *manager.Manager
	st      *store.SQLStore
	q       *queue.Queue
	bus     *events.Bus
	hub     *events.Hub
}

func newFixture(t testing.TB) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sec, err := secrets.NewManager(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	q := queue.New(rdb)
	bus := events.NewBus(rdb)
	mgr := manager.New(st, q, sec, bus)

	hub := events.NewHub(rdb)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(hub.Stop)

	srv := NewServer(mgr, hub, config.Default())
	return &fixture{
		handler: srv.Handler(),
		mgr:     mgr,
		st:      st,
		q:       q,
		bus:     bus,
		hub:     hub,
	}
}

// do drives one request through the full middleware chain.
func (f *fixture) do(t testing.TB, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func validCreateBody() map[string]any {
	return map[string]any{
		"name":      "My API",
		"projectId": "proj-1",
		"userId":    "user-1",
		"repoUrl":   "https://github.com/acme/my-api.git",
		"branch":    "main",
		"env":       map[string]string{"DATABASE_URL": "postgres://u:p@db/app"},
		"gitToken":  "ghp-abc123",
	}
}

func (f *fixture) createService(t testing.TB) serviceResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/services", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[serviceResponse](t, rec)
}

func TestCreateServiceEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/services", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	svc := decodeBody[serviceResponse](t, rec)
	assert.Regexp(t, `^my-api-[0-9a-f]{6}$`, svc.Subdomain)
	assert.Equal(t, "https://github.com/acme/my-api", svc.RepoURL)
	assert.Equal(t, fmt.Sprintf("http://%s.renderlite.local", svc.Subdomain), svc.URL)
	assert.Equal(t, types.ServiceStatusCreated, svc.Status)

	// The create response carries the webhook secret; env values only as
	// masks. Plaintext secrets never appear anywhere in the body.
	assert.NotEmpty(t, svc.WebhookSecret)
	assert.Equal(t, map[string]string{"DATABASE_URL": secrets.MaskedValue}, svc.Env)
	assert.NotContains(t, rec.Body.String(), "postgres://u:p@db/app")
	assert.NotContains(t, rec.Body.String(), "ghp-abc123")
	assert.NotContains(t, rec.Body.String(), "gitToken")
}

func TestCreateServiceRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }},
		{"missing branch", func(b map[string]any) { delete(b, "branch") }},
		{"relative repo url", func(b map[string]any) { b["repoUrl"] = "acme/my-api" }},
		{"ssh repo url", func(b map[string]any) { b["repoUrl"] = "git@github.com:acme/my-api.git" }},
		{"health path without slash", func(b map[string]any) { b["healthCheckPath"] = "health" }},
		{"unknown field", func(b map[string]any) { b["replicas"] = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validCreateBody()
			tt.mutate(body)
			rec := f.do(t, http.MethodPost, "/api/v1/services", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decodeBody[errorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetServiceNeverReturnsSecrets(t *testing.T) {
	f := newFixture(t)
	created := f.createService(t)

	rec := f.do(t, http.MethodGet, "/api/v1/services/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	svc := decodeBody[serviceResponse](t, rec)
	assert.Empty(t, svc.WebhookSecret, "webhook secret is returned once, on create")
	assert.Equal(t, map[string]string{"DATABASE_URL": secrets.MaskedValue}, svc.Env)
	assert.NotContains(t, rec.Body.String(), created.WebhookSecret)
}

func TestListServices(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "empty list is [], not null")

	f.createService(t)
	rec = f.do(t, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]serviceResponse](t, rec), 1)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown service", http.MethodGet, "/api/v1/services/nope", http.StatusNotFound},
		{"unknown deployment", http.MethodGet, "/api/v1/deployments/nope", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{"trigger on unknown service", http.MethodPost, "/api/v1/services/nope/deployments", http.StatusNotFound},
		{"verify unknown domain", http.MethodPost, "/api/v1/domains/nope/verify", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDeploymentLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	svc := f.createService(t)
	ctx := context.Background()

	// Trigger is asynchronous: 202 with the queued row.
	rec := f.do(t, http.MethodPost, "/api/v1/services/"+svc.ID+"/deployments", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	dep := decodeBody[types.Deployment](t, rec)
	assert.Equal(t, types.DeploymentStatusQueued, dep.Status)

	rec = f.do(t, http.MethodGet, "/api/v1/deployments/"+dep.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/services/"+svc.ID+"/deployments?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]types.Deployment](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/v1/services/"+svc.ID+"/deployments?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Cancel while queued succeeds; a second cancel is a conflict.
	rec = f.do(t, http.MethodPost, "/api/v1/deployments/"+dep.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[types.Deployment](t, rec)
	assert.Equal(t, types.DeploymentStatusFailed, cancelled.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/deployments/"+dep.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Rolling back the cancelled (failed) deployment is invalid.
	rec = f.do(t, http.MethodPost, "/api/v1/deployments/"+dep.ID+"/rollback", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	// Seed a finished success so rollback has a target.
	target, err := f.mgr.TriggerDeployment(ctx, svc.ID)
	require.NoError(t, err)
	require.NoError(t, f.q.Remove(ctx, queue.QueueBuild, target.ID))
	require.NoError(t, f.st.SetDeploymentImageTag(ctx, target.ID, "renderlite-"+svc.Subdomain+":ab12cd3"))
	require.NoError(t, f.st.FinishDeployment(ctx, target.ID, types.DeploymentStatusSuccess, "done"))

	rec = f.do(t, http.MethodPost, "/api/v1/deployments/"+target.ID+"/rollback", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rb := decodeBody[types.Deployment](t, rec)
	assert.NotEqual(t, target.ID, rb.ID)
	assert.Equal(t, types.DeploymentStatusQueued, rb.Status)
}

func TestWebhookEndpoint(t *testing.T) {
	f := newFixture(t)
	svc := f.createService(t)

	sign := func(body []byte) string {
		return "sha256=" + secrets.SignPayload(svc.WebhookSecret, body)
	}
	post := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+svc.ID, bytes.NewReader(body))
		req.Header.Set(signatureHeader, signature)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	// Push to the tracked branch deploys.
	body := []byte(`{"ref":"refs/heads/main","after":"ab12cd34ef"}`)
	rec := post(body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	dep := decodeBody[types.Deployment](t, rec)
	assert.Equal(t, types.DeploymentStatusQueued, dep.Status)

	// Push to another branch is acknowledged without creating anything.
	body = []byte(`{"ref":"refs/heads/feature","after":"ab12cd34ef"}`)
	rec = post(body, sign(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	// A bad signature is rejected before the payload is parsed.
	body = []byte(`{"ref":"refs/heads/main"}`)
	rec = post(body, "sha256=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainEndpoints(t *testing.T) {
	f := newFixture(t)
	svc := f.createService(t)

	rec := f.do(t, http.MethodPost, "/api/v1/services/"+svc.ID+"/domains",
		map[string]any{"hostname": "app.example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decodeBody[types.Domain](t, rec)
	assert.False(t, d.Verified)
	assert.NotEmpty(t, d.VerificationToken)

	// The hostname is globally unique.
	rec = f.do(t, http.MethodPost, "/api/v1/services/"+svc.ID+"/domains",
		map[string]any{"hostname": "app.example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/services/"+svc.ID+"/domains",
		map[string]any{"hostname": "not a hostname"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/domains/"+d.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[types.Domain](t, rec).Verified)

	rec = f.do(t, http.MethodGet, "/api/v1/services/"+svc.ID+"/domains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]types.Domain](t, rec), 1)
}

func TestOperationalEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "renderlite_events_dropped_total")
}

func BenchmarkStatusFor(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		statusFor(err)
	}
}

func BenchmarkGetService(b *testing.B) {
	f := newFixture(b)
	svc := f.createService(b)
	path := "/api/v1/services/" + svc.ID

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
	}
}

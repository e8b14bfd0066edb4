package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bleepstore/bleepsweep/internal/config"
	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/metrics"
	"github.com/bleepstore/bleepsweep/internal/storage"
)

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

const publicBase = "https://project.storage.example.com/storage/v1/object/public/"

// testConfig returns the assets/meals configuration used by most tests.
func testConfig() *config.Config {
	limit := 10
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 9011},
		Observability: config.ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
		Storage:  config.StorageConfig{Backend: "memory"},
		Metadata: config.MetadataConfig{Engine: "memory"},
		References: []metadata.Descriptor{
			{Table: "meals", Column: "image_url", OwnerColumn: "user_id"},
		},
		Sweep: config.SweepConfig{
			Buckets:      []string{"assets"},
			Prefixes:     []string{"meals/generated"},
			MaxDeletes:   &limit,
			StorageHosts: []string{"project.storage.example.com"},
		},
	}
}

type testEnv struct {
	srv   *Server
	store *storage.MemoryBackend
	refs  *metadata.MemorySource
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	store := storage.NewMemoryBackend()
	store.Put("assets", "meals/generated/a.png", []byte("a"))
	store.Put("assets", "meals/generated/b.png", []byte("b"))

	refs := metadata.NewMemorySource()
	refs.Insert("meals", metadata.Row{"image_url": publicBase + "assets/meals/generated/a.png", "user_id": "u1"})

	srv, err := New(cfg, WithObjectStore(store), WithReferenceSource(refs))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return &testEnv{srv: srv, store: store, refs: refs}
}

// testRequest performs an HTTP request against the full middleware chain.
func testRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := testRequest(t, env.srv, "GET", "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "json") {
		t.Errorf("GET /health Content-Type = %q, want json", ct)
	}
	body := decode(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	checks, ok := body["checks"].(map[string]any)
	if !ok {
		t.Fatal("GET /health response missing 'checks' field")
	}
	for _, name := range []string{"storage", "metadata"} {
		check, ok := checks[name].(map[string]any)
		if !ok || check["status"] != "ok" {
			t.Errorf("%s check = %v", name, checks[name])
		}
	}
}

type brokenStore struct {
	*storage.MemoryBackend
}

func (brokenStore) HealthCheck(ctx context.Context) error { return errors.New("bucket unreachable") }

func TestHealthEndpointDegraded(t *testing.T) {
	srv, err := New(testConfig(), WithObjectStore(brokenStore{storage.NewMemoryBackend()}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	rec := testRequest(t, srv, "GET", "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestHealthHeadEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if rec := testRequest(t, env.srv, "HEAD", "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("HEAD /health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.HealthCheck = false
	env := newTestEnv(t, cfg)
	if rec := testRequest(t, env.srv, "GET", "/health", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /health status = %d, want 404", rec.Code)
	}
}

func TestCommonHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := testRequest(t, env.srv, "GET", "/health", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if rec.Header().Get("Server") != "bleepsweep" {
		t.Errorf("Server = %q", rec.Header().Get("Server"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	testRequest(t, env.srv, "GET", "/purge", "")

	rec := testRequest(t, env.srv, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"bleepsweep_http_requests_total", "bleepsweep_sweeps_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics = false
	env := newTestEnv(t, cfg)
	if rec := testRequest(t, env.srv, "GET", "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want 404", rec.Code)
	}
}

func TestDocsAndOpenAPI(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := testRequest(t, env.srv, "GET", "/docs", "")
	if rec.Code != http.StatusOK && rec.Code != http.StatusMovedPermanently && rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("GET /docs status = %d, want 200 or redirect", rec.Code)
	}

	rec = testRequest(t, env.srv, "GET", "/openapi.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json status = %d", rec.Code)
	}
	doc := decode(t, rec)
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		t.Fatal("OpenAPI document has no paths")
	}
	purge, ok := paths["/purge"].(map[string]any)
	if !ok {
		t.Fatal("OpenAPI document is missing /purge")
	}
	for _, method := range []string{"get", "post"} {
		if _, ok := purge[method]; !ok {
			t.Errorf("/purge is missing %s", method)
		}
	}
}

package api_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/concord/internal/api"
	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/infrastructure"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
log_level = "error"

[api.pagination]
default_page_size = 20
max_page_size = 100

[engine]
store = "memory"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return cfg
}

func setup(t *testing.T, cfg *config.Config) (*infrastructure.Infrastructure, *api.Module, *httptest.Server) {
	t.Helper()
	infra, err := infrastructure.New(cfg)
	if err != nil {
		t.Fatalf("infrastructure.New() error = %v", err)
	}

	m := api.NewModule(cfg, infra)
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return infra, m, srv
}

func request(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, string(data)
}

func TestNewRuntime(t *testing.T) {
	cfg := validConfig(t)
	infra, err := infrastructure.New(cfg)
	if err != nil {
		t.Fatalf("infrastructure.New() error = %v", err)
	}

	runtime := api.NewRuntime(cfg, infra)

	if runtime.Pagination.DefaultPageSize != 20 {
		t.Errorf("pagination default page size: got %d, want 20", runtime.Pagination.DefaultPageSize)
	}
	if runtime.Pagination.MaxPageSize != 100 {
		t.Errorf("pagination max page size: got %d, want 100", runtime.Pagination.MaxPageSize)
	}
	if runtime.Logger == nil || runtime.Logger == infra.Logger {
		t.Error("runtime logger should be a scoped child of the infrastructure logger")
	}
	if runtime.Store == nil {
		t.Error("runtime store is nil")
	}
	if runtime.Lifecycle != infra.Lifecycle {
		t.Error("runtime lifecycle should be shared")
	}
}

func TestNewDomain(t *testing.T) {
	cfg := validConfig(t)
	infra, err := infrastructure.New(cfg)
	if err != nil {
		t.Fatalf("infrastructure.New() error = %v", err)
	}

	domain := api.NewDomain(cfg, api.NewRuntime(cfg, infra))
	if domain.Workflows == nil {
		t.Error("workflows system is nil")
	}
	if domain.Deadlines == nil {
		t.Error("deadline scheduler is nil")
	}
}

func TestProbes(t *testing.T) {
	infra, m, srv := setup(t, validConfig(t))

	if code, _ := request(t, srv, "GET", "/healthz", ""); code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", code)
	}
	if code, body := request(t, srv, "GET", "/readyz", ""); code != http.StatusServiceUnavailable {
		t.Errorf("readyz before startup: got %d (%s), want 503", code, body)
	}

	if err := infra.Start(); err != nil {
		t.Fatalf("infra start: %v", err)
	}
	if err := m.Start(infra.Lifecycle); err != nil {
		t.Fatalf("module start: %v", err)
	}
	infra.Lifecycle.WaitForStartup()

	if code, body := request(t, srv, "GET", "/readyz", ""); code != http.StatusOK {
		t.Errorf("readyz after startup: got %d (%s), want 200", code, body)
	}

	if err := infra.Lifecycle.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWorkflowRoutesMounted(t *testing.T) {
	_, _, srv := setup(t, validConfig(t))

	code, body := request(t, srv, "POST", "/api/workflows", `{"document_id":"paper-1"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: got %d (%s), want 201", code, body)
	}
	if !strings.Contains(body, `"status":"pending"`) {
		t.Errorf("create body: %s", body)
	}

	if code, _ := request(t, srv, "GET", "/api/workflows", ""); code != http.StatusOK {
		t.Errorf("list: got %d, want 200", code)
	}
	if code, _ := request(t, srv, "GET", "/workflows", ""); code != http.StatusNotFound {
		t.Errorf("unmounted path: got %d, want 404", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, srv := setup(t, validConfig(t))

	request(t, srv, "GET", "/api/workflows", "")

	code, body := request(t, srv, "GET", "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("metrics: got %d, want 200", code)
	}
	if !strings.Contains(body, `concord_http_request_duration_seconds_count{method="GET",route="GET /api/workflows",status="200"}`) {
		t.Error("request histogram missing the matched route")
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := validConfig(t)
	cfg.Metrics.Disabled = true
	_, _, srv := setup(t, cfg)

	if code, _ := request(t, srv, "GET", "/metrics", ""); code != http.StatusNotFound {
		t.Errorf("metrics disabled: got %d, want 404", code)
	}
}

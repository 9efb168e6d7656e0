package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hylla/prognos/internal/adapters/server/common"
	"github.com/hylla/prognos/internal/adapters/storage/sqlite"
	"github.com/hylla/prognos/internal/app"
	"github.com/hylla/prognos/internal/domain"
)

// newTestServer wires the full handler over an in-memory repository.
func newTestServer(t *testing.T, ready func(context.Context) error) (*httptest.Server, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"a1", "a2"} {
		a, err := domain.NewAssignment(id, "t1", "p1", "u-"+id, "", now)
		if err != nil {
			t.Fatalf("NewAssignment() error = %v", err)
		}
		if err := repo.UpsertAssignment(context.Background(), a); err != nil {
			t.Fatalf("UpsertAssignment() error = %v", err)
		}
	}
	svc := app.NewService(repo, repo, uuid.NewString, func() time.Time { return now }, app.ServiceConfig{})
	engine := common.NewAppServiceAdapter(svc, domain.ApprovalSchedule{Name: "default", LockDay: 5})

	if ready == nil {
		ready = repo.Ping
	}
	handler, _, err := NewHandler(Config{}, Dependencies{Engine: engine, Ready: ready})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "planner")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
	}
	return resp.StatusCode
}

// TestServerImportWorkflowOverREST drives scenario creation, import, and approval end to end.
func TestServerImportWorkflowOverREST(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	api := srv.URL + "/api/v1"

	var scenario common.ScenarioView
	if code := doJSON(t, http.MethodPost, api+"/tenants/t1/scenarios", `{"type":"current","name":"Plan 2025"}`, &scenario); code != http.StatusCreated {
		t.Fatalf("create scenario status = %d", code)
	}
	if code := doJSON(t, http.MethodPost, api+"/scenarios/"+scenario.ID+"/promote", "", &scenario); code != http.StatusOK || !scenario.IsCurrent {
		t.Fatalf("promote status = %d current = %v", code, scenario.IsCurrent)
	}

	rows := `{"file":{"name":"march.csv","format":"csv"},"rows":[
		{"row_number":2,"assignment_id":"a1","year":2025,"month":3,"hours":100},
		{"row_number":3,"assignment_id":"a2","year":2025,"month":3,"hours":60}]}`
	var preview common.PreviewView
	if code := doJSON(t, http.MethodPost, api+"/tenants/t1/imports/preview", rows, &preview); code != http.StatusOK {
		t.Fatalf("preview status = %d", code)
	}
	if preview.ValidRows != 2 || preview.IsDuplicateImport {
		t.Fatalf("unexpected preview %#v", preview)
	}
	var commit common.CommitView
	if code := doJSON(t, http.MethodPost, api+"/tenants/t1/imports/commit", rows, &commit); code != http.StatusOK {
		t.Fatalf("commit status = %d", code)
	}
	if commit.CreatedCount != 2 || commit.VersionID != scenario.ID {
		t.Fatalf("unexpected commit %#v", commit)
	}
	if code := doJSON(t, http.MethodPost, api+"/tenants/t1/imports/preview", rows, &preview); code != http.StatusOK || !preview.IsDuplicateImport {
		t.Fatalf("second preview status = %d duplicate = %v", code, preview.IsDuplicateImport)
	}

	var forecasts struct {
		Items []common.ForecastView `json:"items"`
	}
	if code := doJSON(t, http.MethodGet, api+"/scenarios/"+scenario.ID+"/forecasts", "", &forecasts); code != http.StatusOK || len(forecasts.Items) != 2 {
		t.Fatalf("forecasts status = %d items = %d", code, len(forecasts.Items))
	}
	recordID := forecasts.Items[0].ID

	var record common.ForecastView
	if code := doJSON(t, http.MethodPost, api+"/forecasts/"+recordID+"/submit", "", &record); code != http.StatusOK || record.SubmittedBy != "planner" {
		t.Fatalf("submit status = %d record = %#v", code, record)
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if code := doJSON(t, http.MethodPost, api+"/forecasts/"+recordID+"/reject", "", &apiErr); code != http.StatusBadRequest {
		t.Fatalf("reject without reason status = %d", code)
	}
	if code := doJSON(t, http.MethodPost, api+"/forecasts/"+recordID+"/lock", "", &apiErr); code != http.StatusConflict || apiErr.Error.Code != "conflict" {
		t.Fatalf("lock submitted status = %d code = %q", code, apiErr.Error.Code)
	}

	var history struct {
		Items []common.HistoryEntryView `json:"items"`
	}
	if code := doJSON(t, http.MethodGet, api+"/forecasts/"+recordID+"/history", "", &history); code != http.StatusOK || len(history.Items) != 2 {
		t.Fatalf("history status = %d items = %#v", code, history.Items)
	}

	var ops struct {
		Items []common.ImportOperationView `json:"items"`
	}
	if code := doJSON(t, http.MethodGet, api+"/tenants/t1/imports", "", &ops); code != http.StatusOK || len(ops.Items) != 1 {
		t.Fatalf("imports status = %d items = %d", code, len(ops.Items))
	}
}

// TestServerHealthAndMetrics verifies probes and the metrics endpoint.
func TestServerHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

// TestServerReadinessFailure verifies /readyz reports an unavailable store.
func TestServerReadinessFailure(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) error { return errors.New("database is closed") })
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

// TestNormalizeConfig verifies defaults and endpoint validation.
func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/v2/", MCPEndpoint: " "})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v2" || cfg.MCPEndpoint != "/mcp" || cfg.ServerName != "prognos" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/x", MCPEndpoint: "/x/"}); err == nil {
		t.Fatal("expected collision error")
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/metrics"}); err == nil {
		t.Fatal("expected reserved endpoint error")
	}
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error without engine")
	}
}

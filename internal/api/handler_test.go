package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/queryforge/queryforge/internal/audit"
	"github.com/queryforge/queryforge/internal/auth"
	"github.com/queryforge/queryforge/internal/bindings"
	"github.com/queryforge/queryforge/internal/config"
	"github.com/queryforge/queryforge/internal/exec"
	"github.com/queryforge/queryforge/internal/nlq"
	"github.com/queryforge/queryforge/internal/pipeline"
	"github.com/queryforge/queryforge/internal/resolve"
)

const apiBindingsDoc = `
version: "2024.3"
intents:
  query_stock_history:
    table: transactions
    field_map:
      material_id: item_no
      start_date: trans_date
      end_date: trans_date
    required_params:
      - material_id
    default_columns:
      - item_no
      - trans_date
      - quantity
`

type scriptedEngine struct {
	result nlq.ExecutionResult
	err    error
}

func (s *scriptedEngine) Run(_ context.Context, req exec.Request) (nlq.ExecutionResult, error) {
	result := s.result
	result.SQL = req.SQL
	return result, s.err
}

type memoryTrail struct {
	entries []audit.Entry
}

func (m *memoryTrail) Record(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryTrail) ListByTask(_ context.Context, taskID string) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, entry := range m.entries {
		if entry.TaskID == taskID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeParser struct {
	spec nlq.QuerySpec
	err  error
}

func (f *fakeParser) Parse(context.Context, string, []string) (nlq.QuerySpec, error) {
	return f.spec, f.err
}

type handlerOptions struct {
	engine   exec.Engine
	parser   *fakeParser
	registry *bindings.Registry
	authKeys string
}

func newTestHandler(t *testing.T, opts handlerOptions) (http.Handler, *memoryTrail) {
	t.Helper()
	registry := opts.registry
	if registry == nil {
		snapshot, err := bindings.Parse([]byte(apiBindingsDoc))
		if err != nil {
			t.Fatalf("parse bindings: %v", err)
		}
		registry = bindings.NewRegistry("", snapshot)
	}
	engine := opts.engine
	if engine == nil {
		engine = &scriptedEngine{result: nlq.ExecutionResult{
			Columns:  []string{"item_no", "trans_date", "quantity"},
			Rows:     []map[string]any{{"item_no": "10-0001", "trans_date": "2024-03-01", "quantity": 5.0}},
			RowCount: 1,
		}}
	}
	trail := &memoryTrail{}
	p := &pipeline.Pipeline{
		Registry: registry,
		Resolver: resolve.New(trail),
		Executor: exec.New(engine, exec.Config{PoolSize: 2}),
		Dataset:  "inventory",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	cfg := config.Config{Service: config.ServiceConfig{Name: "queryforge-api"}}
	deps := Dependencies{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Pipeline: p,
		Registry: registry,
		Audit:    trail,
	}
	if opts.parser != nil {
		deps.Parser = opts.parser
	}
	if opts.authKeys != "" {
		validator, err := auth.NewStaticAPIKeyValidator(opts.authKeys)
		if err != nil {
			t.Fatalf("parse static keys: %v", err)
		}
		deps.AuthMiddleware = auth.Middleware(deps.Logger, validator)
	}
	return NewHandler(cfg, deps), trail
}

func taskBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(pipeline.Task{
		TaskID:   "task-1",
		TaskType: pipeline.TaskTypeStructuredQuery,
		TaskData: pipeline.TaskData{
			NLQ:    "stock history for 10-0001 in 2024",
			Intent: "query_stock_history",
			Params: map[string]string{
				"material_id": "10-0001",
				"start_date":  "2024-01-01",
				"end_date":    "2024-12-31",
			},
			Confidence: 0.95,
		},
	})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestHealth(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "queryforge-api") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Fatal("trace header missing")
	}
}

func TestQuerySuccess(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", taskBody(t)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var response nlq.StructuredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != nlq.StatusSuccess {
		t.Fatalf("status = %s (%s)", response.Status, response.Message)
	}
	if response.Result == nil || response.Result.RowCount != 1 {
		t.Fatalf("result = %+v", response.Result)
	}
}

func TestQueryRejectsUnknownFields(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"task_id":"t","task_type":"structured_query","task_payload":{}}`)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_JSON") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQueryValidationErrorMapsToBadRequest(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})

	var task pipeline.Task
	if err := json.Unmarshal(taskBody(t).Bytes(), &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	delete(task.TaskData.Params, "material_id")
	body, _ := json.Marshal(task)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), string(nlq.CodeMissingRequired)) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQueryTimeoutMapsToGatewayTimeout(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{
		engine: &scriptedEngine{err: nlq.NewError(nlq.CodeExecTimeout, "execution exceeded 5s and was cancelled")},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", taskBody(t)))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestQueryStreamEmitsStagedEvents(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query/stream", taskBody(t)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	var stages []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "event: ") {
			stages = append(stages, strings.TrimPrefix(line, "event: "))
		}
	}
	want := []string{"request_received", "schema_confirmed", "sql_generated", "query_executing", "query_completed", "result_ready"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
	if stages[len(stages)-1] != "result_ready" {
		t.Fatalf("terminal stage = %s", stages[len(stages)-1])
	}
}

func TestQueryStreamTerminatesWithErrorEvent(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{
		engine: &scriptedEngine{err: nlq.NewError(nlq.CodeExecSQLFailed, "statement execution failed")},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query/stream", taskBody(t)))

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Fatalf("body = %s", body)
	}
	if strings.Contains(body, "event: result_ready") {
		t.Fatalf("error stream must not carry result_ready: %s", body)
	}
}

func TestNLQWithoutParser(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/nlq", strings.NewReader(`{"text":"stock history"}`)))

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NLQ_NOT_CONFIGURED") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestNLQClassifiesAndRuns(t *testing.T) {
	parser := &fakeParser{spec: nlq.QuerySpec{
		NLQ:    "stock history for item 10-0001 in 2024",
		Intent: "query_stock_history",
		Params: map[string]string{
			"material_id": "10-0001",
			"start_date":  "2024-01-01",
			"end_date":    "2024-12-31",
		},
		Confidence: 0.9,
	}}
	handler, _ := newTestHandler(t, handlerOptions{parser: parser})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/nlq",
		strings.NewReader(`{"text":"stock history for item 10-0001 in 2024"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var response nlq.StructuredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != nlq.StatusSuccess {
		t.Fatalf("status = %s (%s)", response.Status, response.Message)
	}
}

func TestNLQRequiresText(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{parser: &fakeParser{}})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/nlq", strings.NewReader(`{"text":"  "}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "TEXT_REQUIRED") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestListBindings(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bindings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Version string          `json:"version"`
		Intents []intentSummary `json:"intents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Version != "2024.3" {
		t.Fatalf("version = %q", payload.Version)
	}
	if len(payload.Intents) != 1 || payload.Intents[0].Table != "transactions" {
		t.Fatalf("intents = %+v", payload.Intents)
	}
}

func TestReloadBindingsFailureKeepsServing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.yaml")
	if err := os.WriteFile(path, []byte(apiBindingsDoc), 0o600); err != nil {
		t.Fatalf("write bindings: %v", err)
	}
	registry, err := bindings.OpenRegistry(path)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	handler, _ := newTestHandler(t, handlerOptions{registry: registry})

	if err := os.WriteFile(path, []byte("version: \"broken\"\n"), 0o600); err != nil {
		t.Fatalf("overwrite bindings: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/bindings/reload", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Queries keep resolving against the prior snapshot.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", taskBody(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("query after failed reload: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuditTrailForTask(t *testing.T) {
	handler, trail := newTestHandler(t, handlerOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", taskBody(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d", rec.Code)
	}
	if len(trail.entries) == 0 {
		t.Fatal("resolver recorded no audit entries")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/task-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		TaskID  string           `json:"task_id"`
		Entries []auditEntryView `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Entries[0].State != "INIT" {
		t.Fatalf("first state = %s", payload.Entries[0].State)
	}
	if payload.Entries[len(payload.Entries)-1].State != "COMPLETED" {
		t.Fatalf("last state = %s", payload.Entries[len(payload.Entries)-1].State)
	}
}

func TestAuditTrailNotFound(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/unknown-task", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	snapshot, err := bindings.Parse([]byte(apiBindingsDoc))
	if err != nil {
		t.Fatalf("parse bindings: %v", err)
	}
	registry := bindings.NewRegistry("", snapshot)

	check := CombineReadinessChecks(
		CheckBindingsLoaded(registry),
		CheckObjectStoreConfig(config.Config{ObjectStore: config.ObjectStoreConfig{Endpoint: "localhost:9000", Bucket: "queryforge"}}),
	)
	if err := check(context.Background()); err != nil {
		t.Fatalf("readiness = %v, want ready", err)
	}

	failing := CombineReadinessChecks(
		CheckBindingsLoaded(registry),
		CheckObjectStoreConfig(config.Config{}),
	)
	if err := failing(context.Background()); err == nil {
		t.Fatal("missing object store config must fail readiness")
	}

	handler, _ := newTestHandler(t, handlerOptions{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
}

func TestAuthGuardsQueryRoutes(t *testing.T) {
	handler, _ := newTestHandler(t, handlerOptions{
		authKeys: "runner-key:analytics:query_runner,admin-key:ops:query_runner|registry_admin",
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", taskBody(t)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("query without key = %d, want 401", rec.Code)
	}
	var denied map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &denied); err != nil {
		t.Fatalf("decode denial: %v", err)
	}
	if denied["error_code"] != "UNAUTHORIZED" {
		t.Fatalf("error_code = %v", denied["error_code"])
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", taskBody(t))
	req.Header.Set("X-API-Key", "runner-key")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query with key = %d, want 200", rec.Code)
	}
}

func TestAuthReloadRequiresRegistryAdmin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bindings.yaml")
	if err := os.WriteFile(path, []byte(apiBindingsDoc), 0o644); err != nil {
		t.Fatalf("write bindings: %v", err)
	}
	snapshot, err := bindings.Parse([]byte(apiBindingsDoc))
	if err != nil {
		t.Fatalf("parse bindings: %v", err)
	}
	handler, _ := newTestHandler(t, handlerOptions{
		registry: bindings.NewRegistry(path, snapshot),
		authKeys: "runner-key:analytics:query_runner,admin-key:ops:query_runner|registry_admin",
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bindings/reload", nil)
	req.Header.Set("X-API-Key", "runner-key")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reload as runner = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/bindings/reload", nil)
	req.Header.Set("X-API-Key", "admin-key")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload as admin = %d, want 200", rec.Code)
	}
}

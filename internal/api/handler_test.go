package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/guardrail"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/rowset"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlexec"
	"github.com/askdb/askdb/internal/store"
	"github.com/askdb/askdb/internal/viz"
)

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

type fakePipeline struct {
	askFn       func(ctx context.Context, question string) (engine.Answer, error)
	translateFn func(ctx context.Context, question string) (nl2sql.Candidate, error)
	validateFn  func(sqlText string) guardrail.Result
	executeFn   func(ctx context.Context, question, sqlText, source string) (engine.Answer, error)
	snapshotFn  func() (schema.Model, error)
	refreshFn   func(ctx context.Context) (schema.Model, error)
	saveFn      func(ctx context.Context, name, question, sqlText string) (store.Analysis, error)
	listFn      func(ctx context.Context) ([]store.Analysis, error)
	loadFn      func(ctx context.Context, name string) (store.Analysis, error)
	deleteFn    func(ctx context.Context, name string) error
	runFn       func(ctx context.Context, name string) (engine.Answer, error)
	historyFn   func(limit int) []engine.HistoryEntry
}

func (f *fakePipeline) Ask(ctx context.Context, question string) (engine.Answer, error) {
	if f.askFn == nil {
		return engine.Answer{}, errors.New("ask not stubbed")
	}
	return f.askFn(ctx, question)
}

func (f *fakePipeline) Translate(ctx context.Context, question string) (nl2sql.Candidate, error) {
	if f.translateFn == nil {
		return nl2sql.Candidate{}, errors.New("translate not stubbed")
	}
	return f.translateFn(ctx, question)
}

func (f *fakePipeline) Validate(sqlText string) guardrail.Result {
	if f.validateFn == nil {
		return guardrail.Result{Allowed: true}
	}
	return f.validateFn(sqlText)
}

func (f *fakePipeline) Execute(ctx context.Context, question, sqlText, source string) (engine.Answer, error) {
	if f.executeFn == nil {
		return engine.Answer{}, errors.New("execute not stubbed")
	}
	return f.executeFn(ctx, question, sqlText, source)
}

func (f *fakePipeline) Snapshot() (schema.Model, error) {
	if f.snapshotFn == nil {
		return schema.Model{}, engine.ErrSchemaNotReady
	}
	return f.snapshotFn()
}

func (f *fakePipeline) RefreshSchema(ctx context.Context) (schema.Model, error) {
	if f.refreshFn == nil {
		return schema.Model{}, errors.New("refresh not stubbed")
	}
	return f.refreshFn(ctx)
}

func (f *fakePipeline) SaveAnalysis(ctx context.Context, name, question, sqlText string) (store.Analysis, error) {
	if f.saveFn == nil {
		return store.Analysis{}, errors.New("save not stubbed")
	}
	return f.saveFn(ctx, name, question, sqlText)
}

func (f *fakePipeline) ListAnalyses(ctx context.Context) ([]store.Analysis, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx)
}

func (f *fakePipeline) LoadAnalysis(ctx context.Context, name string) (store.Analysis, error) {
	if f.loadFn == nil {
		return store.Analysis{}, store.ErrNotFound
	}
	return f.loadFn(ctx, name)
}

func (f *fakePipeline) DeleteAnalysis(ctx context.Context, name string) error {
	if f.deleteFn == nil {
		return store.ErrNotFound
	}
	return f.deleteFn(ctx, name)
}

func (f *fakePipeline) RunAnalysis(ctx context.Context, name string) (engine.Answer, error) {
	if f.runFn == nil {
		return engine.Answer{}, store.ErrNotFound
	}
	return f.runFn(ctx, name)
}

func (f *fakePipeline) History(limit int) []engine.HistoryEntry {
	if f.historyFn == nil {
		return nil
	}
	return f.historyFn(limit)
}

func testConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("askdb-api", mapLookup(overrides))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func newTestHandler(t *testing.T, pipeline Pipeline, overrides map[string]string, extra func(*Dependencies)) http.Handler {
	t.Helper()
	deps := Dependencies{Pipeline: pipeline}
	if extra != nil {
		extra(&deps)
	}
	return NewHandler(testConfig(t, overrides), deps)
}

func askAnswer() engine.Answer {
	rs := rowset.Build(sqlexec.Result{
		Columns: []string{"country", "revenue"},
		Rows: []map[string]any{
			{"country": "DE", "revenue": json.Number("1200.5")},
			{"country": "AT", "revenue": json.Number("800")},
		},
	})
	return engine.Answer{
		Question:  "revenue by country",
		SQL:       "SELECT country, SUM(amount) AS revenue FROM orders GROUP BY country",
		Source:    engine.SourceGenerated,
		Provider:  "openai-compatible",
		Model:     "llama-3.3-70b-versatile",
		RowSet:    rs,
		Chart:     viz.ChartSpec{Kind: viz.KindBar, XField: "country", YField: "revenue"},
		Elapsed:   42 * time.Millisecond,
		HistoryID: "hist-1",
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, func(deps *Dependencies) {
		deps.Readiness = func(context.Context) error {
			return errors.New("dependency down")
		}
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskReturnsAnswer(t *testing.T) {
	answer := askAnswer()
	pipeline := &fakePipeline{
		askFn: func(_ context.Context, question string) (engine.Answer, error) {
			if question != "revenue by country" {
				t.Fatalf("question = %q", question)
			}
			return answer, nil
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/ask", `{"question":"revenue by country"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["sql"] != answer.SQL {
		t.Fatalf("sql = %v", body["sql"])
	}
	if body["row_count"] != float64(2) {
		t.Fatalf("row_count = %v", body["row_count"])
	}
	if body["history_id"] != "hist-1" {
		t.Fatalf("history_id = %v", body["history_id"])
	}
	columns, ok := body["columns"].([]any)
	if !ok || len(columns) != 2 {
		t.Fatalf("columns = %v", body["columns"])
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/ask", `{"question":"  "}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/ask", `{"question":"q","extra":1}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "INVALID_JSON" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestAskBlockedQueryMapsTo403(t *testing.T) {
	pipeline := &fakePipeline{
		askFn: func(context.Context, string) (engine.Answer, error) {
			return engine.Answer{}, &engine.StageError{
				Stage: engine.StageGuardrail,
				Err:   &guardrail.BlockedError{Keyword: "DROP"},
			}
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/ask", `{"question":"drop it"}`))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		ErrorCode string         `json:"error_code"`
		Context   map[string]any `json:"context"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.ErrorCode != "QUERY_BLOCKED" {
		t.Fatalf("error_code = %q", body.ErrorCode)
	}
	if body.Context["keyword"] != "DROP" {
		t.Fatalf("keyword = %v", body.Context["keyword"])
	}
}

func TestExecuteBackendErrorSurfacesVerbatim(t *testing.T) {
	pipeline := &fakePipeline{
		executeFn: func(context.Context, string, string, string) (engine.Answer, error) {
			return engine.Answer{}, &engine.StageError{
				Stage: engine.StageExecute,
				Err:   &sqlexec.QueryError{Message: `relation "orderz" does not exist`},
			}
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/execute", `{"sql":"SELECT * FROM orderz"}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.ErrorCode != "EXECUTION_FAILED" {
		t.Fatalf("error_code = %q", body.ErrorCode)
	}
	if body.Message != `relation "orderz" does not exist` {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestTranslateNotConfiguredMapsTo501(t *testing.T) {
	pipeline := &fakePipeline{
		translateFn: func(context.Context, string) (nl2sql.Candidate, error) {
			return nl2sql.Candidate{}, engine.ErrTranslateNotConfigured
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/translate", `{"question":"top products"}`))

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestModelTimeoutMapsTo504(t *testing.T) {
	pipeline := &fakePipeline{
		askFn: func(context.Context, string) (engine.Answer, error) {
			return engine.Answer{}, &engine.StageError{Stage: engine.StageTranslate, Err: nl2sql.ErrModelTimeout}
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/ask", `{"question":"slow"}`))

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestValidateReportsKeyword(t *testing.T) {
	pipeline := &fakePipeline{
		validateFn: func(sqlText string) guardrail.Result {
			if !strings.Contains(sqlText, "DROP") {
				return guardrail.Result{Allowed: true}
			}
			return guardrail.Result{Allowed: false, Keyword: "DROP"}
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/validate", `{"sql":"DROP TABLE orders"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var result guardrail.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if result.Allowed || result.Keyword != "DROP" {
		t.Fatalf("result = %+v", result)
	}
}

func TestSchemaNotReadyMapsTo503(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "SCHEMA_NOT_READY" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst:query_runner")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	pipeline := &fakePipeline{
		historyFn: func(int) []engine.HistoryEntry { return nil },
	}
	h := newTestHandler(t, pipeline, map[string]string{"ASKDB_AUTH_REQUIRED": "true"}, func(deps *Dependencies) {
		deps.AuthMiddleware = auth.Middleware(nil, validator)
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}
}

func TestSaveAnalysisRequiresWriterRole(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("reader:analyst:query_runner,writer:author:query_runner|analysis_writer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	pipeline := &fakePipeline{
		saveFn: func(_ context.Context, name, question, sqlText string) (store.Analysis, error) {
			return store.Analysis{Name: name, Question: question, SQL: sqlText}, nil
		},
	}
	h := newTestHandler(t, pipeline, map[string]string{"ASKDB_AUTH_REQUIRED": "true"}, func(deps *Dependencies) {
		deps.AuthMiddleware = auth.Middleware(nil, validator)
	})

	body := `{"question":"daily revenue","sql":"SELECT 1"}`

	readerReq := jsonRequest(http.MethodPut, "/v1/analyses/daily-revenue", body)
	readerReq.Header.Set("X-API-Key", "reader")
	readerResp := httptest.NewRecorder()
	h.ServeHTTP(readerResp, readerReq)
	if readerResp.Code != http.StatusForbidden {
		t.Fatalf("reader status = %d", readerResp.Code)
	}

	writerReq := jsonRequest(http.MethodPut, "/v1/analyses/daily-revenue", body)
	writerReq.Header.Set("X-API-Key", "writer")
	writerResp := httptest.NewRecorder()
	h.ServeHTTP(writerResp, writerReq)
	if writerResp.Code != http.StatusOK {
		t.Fatalf("writer status = %d, body = %s", writerResp.Code, writerResp.Body.String())
	}
}

func TestRefreshSchemaRequiresAdminRole(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst:query_runner|analysis_writer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := newTestHandler(t, &fakePipeline{}, map[string]string{"ASKDB_AUTH_REQUIRED": "true"}, func(deps *Dependencies) {
		deps.AuthMiddleware = auth.Middleware(nil, validator)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/schema/refresh", nil)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRunAnalysisNotFoundMapsTo404(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/analyses/missing/run", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "NOT_FOUND" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestSaveAnalysisRejectsInvalidName(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPut, "/v1/analyses/bad%5Cname", `{"sql":"SELECT 1"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestListAnalysesReturnsEmptyArray(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/analyses", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"analyses":[]`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=abc", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHistoryPassesLimitThrough(t *testing.T) {
	var gotLimit int
	pipeline := &fakePipeline{
		historyFn: func(limit int) []engine.HistoryEntry {
			gotLimit = limit
			return []engine.HistoryEntry{{ID: "h1", SQL: "SELECT 1", Status: "ok", Elapsed: 3 * time.Millisecond}}
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=7", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if gotLimit != 7 {
		t.Fatalf("limit = %d", gotLimit)
	}
	if !strings.Contains(rr.Body.String(), `"elapsed_ms":3`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestExportStreamsCSV(t *testing.T) {
	pipeline := &fakePipeline{
		executeFn: func(_ context.Context, _, sqlText, source string) (engine.Answer, error) {
			if source != engine.SourceEdited {
				t.Fatalf("source = %q", source)
			}
			rs := rowset.Build(sqlexec.Result{
				Columns: []string{"country", "revenue"},
				Rows: []map[string]any{
					{"country": "DE", "revenue": json.Number("1200.5")},
				},
			})
			return engine.Answer{SQL: sqlText, RowSet: rs}, nil
		},
	}
	h := newTestHandler(t, pipeline, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/export", `{"sql":"SELECT country, revenue FROM sales","format":"csv"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "result.csv") {
		t.Fatalf("content disposition = %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 || lines[0] != "country,revenue" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/export", `{"sql":"SELECT 1","format":"xlsx"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := newTestHandler(t, &fakePipeline{}, nil, func(deps *Dependencies) {
		deps.UI = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<!doctype html>"))
		})
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/console", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	return body.ErrorCode
}

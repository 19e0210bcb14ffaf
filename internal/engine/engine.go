// Package engine wires the question pipeline together: schema snapshot,
// translation, guardrail, execution, chart selection, history, and saved
// analyses. One question is one sequential unit of work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/askdb/askdb/internal/guardrail"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/rowset"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlexec"
	"github.com/askdb/askdb/internal/store"
	"github.com/askdb/askdb/internal/viz"
)

// Pipeline stages, used in StageError and metrics labels.
const (
	StageIntrospect = "introspect"
	StageTranslate  = "translate"
	StageGuardrail  = "guardrail"
	StageExecute    = "execute"
	StageStore      = "store"
)

// Candidate sources.
const (
	SourceGenerated = "generated"
	SourceEdited    = "edited"
	SourceSaved     = "saved"
)

// ErrSchemaNotReady is returned when no snapshot has been built yet and the
// caller asked for the current one without triggering a build.
var ErrSchemaNotReady = errors.New("schema snapshot not built yet")

// ErrTranslateNotConfigured is returned when translation is requested but no
// model client was configured.
var ErrTranslateNotConfigured = errors.New("translation is not configured")

// StageError pins a pipeline failure to the stage that produced it, so the
// API layer can map it without inspecting error strings.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Answer is the full pipeline output for one question or one executed query.
type Answer struct {
	Question  string        `json:"question,omitempty"`
	SQL       string        `json:"sql"`
	Source    string        `json:"source"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
	RowSet    rowset.RowSet `json:"rowset"`
	Chart     viz.ChartSpec `json:"chart"`
	Truncated bool          `json:"truncated"`
	Elapsed   time.Duration `json:"-"`
	HistoryID string        `json:"history_id,omitempty"`
}

type Config struct {
	QueryTimeout time.Duration
	HistoryLimit int
}

type Engine struct {
	runner     sqlexec.Runner
	builder    *schema.Builder
	translator *nl2sql.Translator
	validator  *guardrail.Validator
	selector   *viz.Selector
	store      store.Store
	history    *historyRing
	snapshot   atomic.Pointer[schema.Model]
	cfg        Config
	logger     *slog.Logger
}

func New(
	runner sqlexec.Runner,
	builder *schema.Builder,
	translator *nl2sql.Translator,
	validator *guardrail.Validator,
	selector *viz.Selector,
	st store.Store,
	cfg Config,
	logger *slog.Logger,
) (*Engine, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("schema builder is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("guardrail validator is required")
	}
	if selector == nil {
		return nil, fmt.Errorf("chart selector is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:     runner,
		builder:    builder,
		translator: translator,
		validator:  validator,
		selector:   selector,
		store:      st,
		history:    newHistoryRing(cfg.HistoryLimit),
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// RefreshSchema builds a fresh snapshot and swaps it in atomically. Readers
// holding the old snapshot keep a consistent view.
func (e *Engine) RefreshSchema(ctx context.Context) (schema.Model, error) {
	model, err := e.builder.Build(ctx)
	if err != nil {
		return schema.Model{}, &StageError{Stage: StageIntrospect, Err: err}
	}
	e.snapshot.Store(&model)
	observability.SetSchemaTables(len(model.Tables))
	observability.IncrementSchemaRefresh()
	e.logger.Info("schema snapshot refreshed",
		slog.String("schema", model.SchemaName),
		slog.Int("tables", len(model.Tables)),
	)
	return model, nil
}

// Snapshot returns the current snapshot without building one.
func (e *Engine) Snapshot() (schema.Model, error) {
	current := e.snapshot.Load()
	if current == nil {
		return schema.Model{}, ErrSchemaNotReady
	}
	return *current, nil
}

// currentSnapshot returns the snapshot, building it on first use.
func (e *Engine) currentSnapshot(ctx context.Context) (schema.Model, error) {
	if current := e.snapshot.Load(); current != nil {
		return *current, nil
	}
	return e.RefreshSchema(ctx)
}

// Translate produces a SQL candidate for the question without executing it.
func (e *Engine) Translate(ctx context.Context, question string) (nl2sql.Candidate, error) {
	if e.translator == nil {
		return nl2sql.Candidate{}, ErrTranslateNotConfigured
	}
	model, err := e.currentSnapshot(ctx)
	if err != nil {
		return nl2sql.Candidate{}, err
	}

	start := time.Now()
	candidate, err := e.translator.Translate(ctx, question, model)
	if err != nil {
		observability.IncrementModelFailure(modelFailureReason(err))
		return nl2sql.Candidate{}, &StageError{Stage: StageTranslate, Err: err}
	}
	observability.ObserveTranslate(time.Since(start))
	return candidate, nil
}

// Validate runs the guardrail only.
func (e *Engine) Validate(sqlText string) guardrail.Result {
	return e.validator.Validate(sqlText)
}

// Execute runs guardrail, query, type inference, and chart selection on
// already-generated SQL. The guardrail check is repeated here regardless of
// caller: execution trusts nothing upstream.
func (e *Engine) Execute(ctx context.Context, question, sqlText, source string) (Answer, error) {
	start := time.Now()
	sqlText = sqlexec.Normalize(sqlText)

	if result := e.validator.Validate(sqlText); !result.Allowed {
		observability.IncrementBlockedQuery(result.Keyword)
		e.recordHistory(question, sqlText, source, "blocked", 0, time.Since(start))
		return Answer{}, &StageError{Stage: StageGuardrail, Err: &guardrail.BlockedError{Keyword: result.Keyword}}
	}

	queryCtx := ctx
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	result, err := e.runner.Query(queryCtx, sqlText)
	if err != nil {
		e.recordHistory(question, sqlText, source, "failed", 0, time.Since(start))
		return Answer{}, &StageError{Stage: StageExecute, Err: err}
	}
	observability.ObserveExecution(len(result.Rows), time.Since(start))

	rs := rowset.Build(result)
	answer := Answer{
		Question:  question,
		SQL:       sqlText,
		Source:    source,
		RowSet:    rs,
		Chart:     e.selector.Select(rs),
		Truncated: result.Truncated,
		Elapsed:   time.Since(start),
	}
	answer.HistoryID = e.recordHistory(question, sqlText, source, "ok", len(rs.Rows), answer.Elapsed)
	return answer, nil
}

// Ask is the full pipeline: snapshot, translate, guardrail, execute, chart.
func (e *Engine) Ask(ctx context.Context, question string) (Answer, error) {
	start := time.Now()

	candidate, err := e.Translate(ctx, question)
	if err != nil {
		observability.ObserveQuestion(askStatus(err), time.Since(start))
		return Answer{}, err
	}

	answer, err := e.Execute(ctx, question, candidate.SQL, SourceGenerated)
	if err != nil {
		observability.ObserveQuestion(askStatus(err), time.Since(start))
		return Answer{}, err
	}
	answer.Provider = candidate.Provider
	answer.Model = candidate.Model
	answer.Elapsed = time.Since(start)
	observability.ObserveQuestion("ok", answer.Elapsed)
	return answer, nil
}

// SaveAnalysis persists a named analysis, overwriting on collision.
func (e *Engine) SaveAnalysis(ctx context.Context, name, question, sqlText string) (store.Analysis, error) {
	analysis, err := e.store.Save(ctx, name, question, sqlexec.Normalize(sqlText))
	if err != nil {
		return store.Analysis{}, err
	}
	observability.IncrementAnalysisSaved()
	return analysis, nil
}

func (e *Engine) ListAnalyses(ctx context.Context) ([]store.Analysis, error) {
	return e.store.List(ctx)
}

func (e *Engine) LoadAnalysis(ctx context.Context, name string) (store.Analysis, error) {
	return e.store.Load(ctx, name)
}

func (e *Engine) DeleteAnalysis(ctx context.Context, name string) error {
	return e.store.Delete(ctx, name)
}

// RunAnalysis loads a saved analysis and re-enters the pipeline at the
// guardrail. Saved SQL gets no exemption from validation.
func (e *Engine) RunAnalysis(ctx context.Context, name string) (Answer, error) {
	analysis, err := e.store.Load(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Answer{}, err
		}
		return Answer{}, &StageError{Stage: StageStore, Err: err}
	}
	return e.Execute(ctx, analysis.Question, analysis.SQL, SourceSaved)
}

// History returns the newest entries first, at most limit (0 means all).
func (e *Engine) History(limit int) []HistoryEntry {
	return e.history.Entries(limit)
}

// Ready probes the query backend and the analysis store.
func (e *Engine) Ready(ctx context.Context) error {
	if err := e.runner.Ping(ctx); err != nil {
		return fmt.Errorf("query backend: %w", err)
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("analysis store: %w", err)
	}
	return nil
}

func (e *Engine) recordHistory(question, sqlText, source, status string, rows int, elapsed time.Duration) string {
	return e.history.Add(HistoryEntry{
		Question: question,
		SQL:      sqlText,
		Source:   source,
		Status:   status,
		Rows:     rows,
		Elapsed:  elapsed,
	})
}

func askStatus(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case StageGuardrail:
			return "blocked"
		case StageTranslate:
			return "model_error"
		case StageExecute:
			return "execution_error"
		case StageIntrospect:
			return "introspection_error"
		}
	}
	return "error"
}

func modelFailureReason(err error) string {
	switch {
	case errors.Is(err, nl2sql.ErrModelTimeout):
		return "timeout"
	case errors.Is(err, nl2sql.ErrModelUnavailable):
		return "unavailable"
	case errors.Is(err, nl2sql.ErrEmptySchema):
		return "empty_schema"
	default:
		var nonSelect *nl2sql.NonSelectOutputError
		if errors.As(err, &nonSelect) {
			return "non_select_output"
		}
		return "other"
	}
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/guardrail"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlexec"
	"github.com/askdb/askdb/internal/store"
)

// writePipelineError maps pipeline errors onto the HTTP error envelope. The
// mapping inspects error types, never error strings; StageError wrapping is
// transparent because everything here goes through errors.Is/As.
func writePipelineError(ctx context.Context, w http.ResponseWriter, err error) {
	var blocked *guardrail.BlockedError
	if errors.As(err, &blocked) {
		writeError(ctx, w, http.StatusForbidden, "QUERY_BLOCKED", blocked.Error(), false, map[string]any{
			"keyword": blocked.Keyword,
		})
		return
	}

	if errors.Is(err, nl2sql.ErrEmptySchema) {
		writeError(ctx, w, http.StatusUnprocessableEntity, "EMPTY_SCHEMA", "the database schema contains no tables to query", false, nil)
		return
	}
	var nonSelect *nl2sql.NonSelectOutputError
	if errors.As(err, &nonSelect) {
		writeError(ctx, w, http.StatusUnprocessableEntity, "NON_SELECT_OUTPUT", nonSelect.Error(), true, nil)
		return
	}
	if errors.Is(err, nl2sql.ErrModelTimeout) {
		writeError(ctx, w, http.StatusGatewayTimeout, "MODEL_TIMEOUT", "the language model did not answer in time", true, nil)
		return
	}
	if errors.Is(err, nl2sql.ErrModelUnavailable) {
		writeError(ctx, w, http.StatusBadGateway, "MODEL_UNAVAILABLE", "the language model is unavailable", true, nil)
		return
	}

	var queryErr *sqlexec.QueryError
	if errors.As(err, &queryErr) {
		// The backend message is surfaced verbatim: the user needs the real
		// SQL error to fix or re-ask the question.
		writeError(ctx, w, http.StatusUnprocessableEntity, "EXECUTION_FAILED", queryErr.Message, false, nil)
		return
	}
	var connErr *sqlexec.ConnError
	if errors.As(err, &connErr) {
		writeError(ctx, w, http.StatusServiceUnavailable, "CONNECTION_FAILED", "the query backend is unreachable", true, nil)
		return
	}
	var introspectionErr *schema.IntrospectionError
	if errors.As(err, &introspectionErr) {
		writeError(ctx, w, http.StatusBadGateway, "INTROSPECTION_FAILED", introspectionErr.Error(), true, map[string]any{
			"step": introspectionErr.Step,
		})
		return
	}

	if errors.Is(err, store.ErrNotFound) {
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", "no saved analysis with that name", false, nil)
		return
	}
	if errors.Is(err, engine.ErrTranslateNotConfigured) {
		writeError(ctx, w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "no language model is configured", false, nil)
		return
	}
	if errors.Is(err, engine.ErrSchemaNotReady) {
		writeError(ctx, w, http.StatusServiceUnavailable, "SCHEMA_NOT_READY", "schema snapshot has not been built yet", true, nil)
		return
	}

	writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
}

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/export"
)

type exportRequest struct {
	SQL    string `json:"sql"`
	Format string `json:"format"`
}

// handleExport runs the SQL through the regular pipeline and streams the row
// set in the requested file format. The guardrail applies to exports too.
func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "sql must not be empty", false, nil)
		return
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = export.FormatCSV
	}
	contentType, err := export.ContentType(format)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}

	answer, err := deps.Pipeline.Execute(r.Context(), "", req.SQL, engine.SourceEdited)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "result."+format))
	if err := export.Write(w, answer.RowSet, format); err != nil {
		// Headers are out; the best we can do is log and cut the stream.
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "export write failed", "error", err)
		}
	}
}

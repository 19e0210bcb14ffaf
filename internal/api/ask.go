package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/rowset"
	"github.com/askdb/askdb/internal/viz"
)

type askRequest struct {
	Question string `json:"question"`
}

type translateRequest struct {
	Question string `json:"question"`
}

type validateRequest struct {
	SQL string `json:"sql"`
}

type executeRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// answerResponse flattens engine.Answer into the wire shape: the row set is
// lifted to top-level columns/rows and elapsed time becomes milliseconds.
type answerResponse struct {
	Question  string           `json:"question,omitempty"`
	SQL       string           `json:"sql"`
	Source    string           `json:"source"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	Columns   []rowset.Column  `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Chart     viz.ChartSpec    `json:"chart"`
	ElapsedMS int64            `json:"elapsed_ms"`
	HistoryID string           `json:"history_id,omitempty"`
}

func toAnswerResponse(answer engine.Answer) answerResponse {
	return answerResponse{
		Question:  answer.Question,
		SQL:       answer.SQL,
		Source:    answer.Source,
		Provider:  answer.Provider,
		Model:     answer.Model,
		Columns:   answer.RowSet.Columns,
		Rows:      answer.RowSet.Rows,
		RowCount:  len(answer.RowSet.Rows),
		Truncated: answer.Truncated,
		Chart:     answer.Chart,
		ElapsedMS: answer.Elapsed.Milliseconds(),
		HistoryID: answer.HistoryID,
	}
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question must not be empty", false, nil)
		return
	}

	answer, err := deps.Pipeline.Ask(r.Context(), req.Question)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnswerResponse(answer))
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question must not be empty", false, nil)
		return
	}

	candidate, err := deps.Pipeline.Translate(r.Context(), req.Question)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "sql must not be empty", false, nil)
		return
	}

	writeJSON(w, http.StatusOK, deps.Pipeline.Validate(req.SQL))
}

func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "sql must not be empty", false, nil)
		return
	}

	answer, err := deps.Pipeline.Execute(r.Context(), req.Question, req.SQL, engine.SourceEdited)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnswerResponse(answer))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

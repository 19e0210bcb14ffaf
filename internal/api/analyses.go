package api

import (
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/store"
)

type saveAnalysisRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

func handleListAnalyses(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	analyses, err := deps.Pipeline.ListAnalyses(r.Context())
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	if analyses == nil {
		analyses = []store.Analysis{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses})
}

func handleSaveAnalysis(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleAnalysisWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	name := r.PathValue("name")
	if err := store.ValidateName(name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_NAME", err.Error(), false, nil)
		return
	}

	var req saveAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "sql must not be empty", false, nil)
		return
	}

	analysis, err := deps.Pipeline.SaveAnalysis(r.Context(), name, req.Question, req.SQL)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func handleGetAnalysis(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	analysis, err := deps.Pipeline.LoadAnalysis(r.Context(), r.PathValue("name"))
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func handleDeleteAnalysis(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleAnalysisWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if err := deps.Pipeline.DeleteAnalysis(r.Context(), r.PathValue("name")); err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleRunAnalysis(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	answer, err := deps.Pipeline.RunAnalysis(r.Context(), r.PathValue("name"))
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnswerResponse(answer))
}

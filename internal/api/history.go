package api

import (
	"net/http"
	"strconv"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/engine"
)

type historyEntryResponse struct {
	engine.HistoryEntry
	ElapsedMS int64 `json:"elapsed_ms"`
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer", false, nil)
			return
		}
		limit = parsed
	}

	entries := deps.Pipeline.History(limit)
	out := make([]historyEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryResponse{HistoryEntry: entry, ElapsedMS: entry.ElapsedMS()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// Package rpc executes SQL through a PostgREST-style RPC function instead of
// a direct database connection. The database exposes a single function that
// accepts a query string and returns the result set as JSON; the service
// never holds raw table privileges.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/sqlexec"
)

type Config struct {
	BaseURL  string
	APIKey   string
	Function string
	RowLimit int
}

type Runner struct {
	client   *http.Client
	endpoint string
	apiKey   string
	rowLimit int
}

func NewRunner(cfg Config, client *http.Client) (*Runner, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rpc base URL is required")
	}
	if cfg.Function == "" {
		return nil, fmt.Errorf("rpc function name is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/rest/v1/rpc/" + cfg.Function
	return &Runner{
		client:   client,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		rowLimit: cfg.RowLimit,
	}, nil
}

type rpcRequest struct {
	Query string `json:"query"`
}

func (r *Runner) Query(ctx context.Context, sqlText string) (sqlexec.Result, error) {
	payload, err := json.Marshal(rpcRequest{Query: sqlexec.Normalize(sqlText)})
	if err != nil {
		return sqlexec.Result{}, fmt.Errorf("encode rpc request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return sqlexec.Result{}, fmt.Errorf("build rpc request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		request.Header.Set("apikey", r.apiKey)
		request.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	response, err := r.client.Do(request)
	if err != nil {
		return sqlexec.Result{}, &sqlexec.ConnError{Err: err}
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return sqlexec.Result{}, &sqlexec.ConnError{Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return sqlexec.Result{}, &sqlexec.QueryError{Message: errorMessage(body, response.StatusCode)}
	}

	return decodeResult(body, r.rowLimit)
}

// Ping issues a trivial query through the function. There is no cheaper
// liveness probe behind an RPC indirection.
func (r *Runner) Ping(ctx context.Context) error {
	_, err := r.Query(ctx, "SELECT 1")
	return err
}

// errorMessage digs the human-readable message out of a PostgREST error
// payload, falling back to the raw body.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Details string `json:"details"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case payload.Details != "":
			return payload.Details
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("rpc returned status %d", status)
	}
	return text
}

// decodeResult turns the function's JSON output into a Result. The function
// may return the array directly, a JSON string wrapping the array, an error
// object, or null for empty results.
func decodeResult(body []byte, limit int) (sqlexec.Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return sqlexec.Result{Columns: []string{}, Rows: []map[string]any{}}, nil
	}

	// Some wrappers double-encode the result as a JSON string.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return sqlexec.Result{}, &sqlexec.QueryError{Message: fmt.Sprintf("malformed rpc response: %v", err)}
		}
		trimmed = bytes.TrimSpace([]byte(inner))
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return sqlexec.Result{Columns: []string{}, Rows: []map[string]any{}}, nil
		}
	}

	if trimmed[0] == '{' {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(trimmed, &payload); err == nil {
			if payload.Error != "" {
				return sqlexec.Result{}, &sqlexec.QueryError{Message: payload.Error}
			}
			if payload.Message != "" {
				return sqlexec.Result{}, &sqlexec.QueryError{Message: payload.Message}
			}
		}
		return sqlexec.Result{}, &sqlexec.QueryError{Message: "rpc returned an unexpected object payload"}
	}

	columns, err := columnOrder(trimmed)
	if err != nil {
		return sqlexec.Result{}, &sqlexec.QueryError{Message: fmt.Sprintf("malformed rpc response: %v", err)}
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var rows []map[string]any
	if err := decoder.Decode(&rows); err != nil {
		return sqlexec.Result{}, &sqlexec.QueryError{Message: fmt.Sprintf("malformed rpc response: %v", err)}
	}

	result := sqlexec.Result{Columns: columns, Rows: rows}
	if result.Rows == nil {
		result.Rows = []map[string]any{}
	}
	if limit > 0 && len(result.Rows) > limit {
		result.Rows = result.Rows[:limit]
		result.Truncated = true
	}
	return result, nil
}

// columnOrder recovers column order from the row objects, which map decoding
// throws away. Keys are recorded in order of first appearance across all rows
// so ragged rows still contribute their columns.
func columnOrder(data []byte) ([]string, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	columns := []string{}
	seen := map[string]struct{}{}
	for _, raw := range raws {
		keys, err := objectKeys(raw)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}
	return columns, nil
}

// objectKeys lists the top-level keys of a JSON object in document order.
func objectKeys(data []byte) ([]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))

	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object row, got %v", token)
	}

	var keys []string
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := token.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %v", token)
		}
		keys = append(keys, key)

		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Package askdbctl implements the operator CLI. Every command maps onto one
// API call; output is the API's JSON, pretty-printed.
package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
	// raw skips pretty-printing; export responses are files, not JSON.
	raw bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	limit := fs.Int("limit", 0, "history: maximum entries to return (0 means all)")
	format := fs.String("format", "csv", "export: output format (csv or parquet)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	request, ok := buildCall(fs, *limit, *format, stderr)
	if !ok {
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + request.path
	code, responseBody, err := doRequest(ctx, client, request, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if request.raw {
		_, _ = stdout.Write(responseBody)
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCall(fs *flag.FlagSet, limit int, format string, stderr io.Writer) (call, bool) {
	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, true
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, true
	case "schema":
		return call{method: http.MethodGet, path: "/v1/schema"}, true
	case "schema-refresh":
		return call{method: http.MethodPost, path: "/v1/schema/refresh"}, true
	case "ask", "translate":
		question := strings.TrimSpace(fs.Arg(1))
		if question == "" {
			_, _ = fmt.Fprintf(stderr, "usage: askdbctl %s <question>\n", command)
			return call{}, false
		}
		return call{
			method: http.MethodPost,
			path:   "/v1/" + command,
			body:   map[string]string{"question": question},
		}, true
	case "validate", "exec":
		sqlText := strings.TrimSpace(fs.Arg(1))
		if sqlText == "" {
			_, _ = fmt.Fprintf(stderr, "usage: askdbctl %s <sql>\n", command)
			return call{}, false
		}
		path := "/v1/validate"
		if command == "exec" {
			path = "/v1/execute"
		}
		return call{method: http.MethodPost, path: path, body: map[string]string{"sql": sqlText}}, true
	case "analyses":
		return buildAnalysesCall(fs, stderr)
	case "history":
		path := "/v1/history"
		if limit > 0 {
			path = fmt.Sprintf("/v1/history?limit=%d", limit)
		}
		return call{method: http.MethodGet, path: path}, true
	case "export":
		sqlText := strings.TrimSpace(fs.Arg(1))
		if sqlText == "" {
			_, _ = fmt.Fprintln(stderr, "usage: askdbctl [-format csv|parquet] export <sql>")
			return call{}, false
		}
		return call{
			method: http.MethodPost,
			path:   "/v1/export",
			body:   map[string]string{"sql": sqlText, "format": format},
			raw:    true,
		}, true
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return call{}, false
	}
}

func buildAnalysesCall(fs *flag.FlagSet, stderr io.Writer) (call, bool) {
	sub := strings.TrimSpace(fs.Arg(1))
	switch sub {
	case "list":
		return call{method: http.MethodGet, path: "/v1/analyses"}, true
	case "show", "run", "delete", "save":
		name := strings.TrimSpace(fs.Arg(2))
		if name == "" {
			_, _ = fmt.Fprintf(stderr, "usage: askdbctl analyses %s <name>\n", sub)
			return call{}, false
		}
		escaped := url.PathEscape(name)
		switch sub {
		case "show":
			return call{method: http.MethodGet, path: "/v1/analyses/" + escaped}, true
		case "run":
			return call{method: http.MethodPost, path: "/v1/analyses/" + escaped + "/run"}, true
		case "delete":
			return call{method: http.MethodDelete, path: "/v1/analyses/" + escaped}, true
		default:
			question := strings.TrimSpace(fs.Arg(3))
			sqlText := strings.TrimSpace(fs.Arg(4))
			if sqlText == "" {
				_, _ = fmt.Fprintln(stderr, "usage: askdbctl analyses save <name> <question> <sql>")
				return call{}, false
			}
			return call{
				method: http.MethodPut,
				path:   "/v1/analyses/" + escaped,
				body:   map[string]string{"question": question, "sql": sqlText},
			}, true
		}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown analyses subcommand %q\n\n", sub)
		writeUsage(stderr)
		return call{}, false
	}
}

func doRequest(ctx context.Context, client *http.Client, request call, endpoint, apiKey string) (int, []byte, error) {
	var payload io.Reader
	if request.body != nil {
		encoded, err := json.Marshal(request.body)
		if err != nil {
			return 0, nil, err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, request.method, endpoint, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if request.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                 GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                                GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  schema-refresh                        POST /v1/schema/refresh")
	_, _ = fmt.Fprintln(w, "  ask <question>                        POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  translate <question>                  POST /v1/translate")
	_, _ = fmt.Fprintln(w, "  validate <sql>                        POST /v1/validate")
	_, _ = fmt.Fprintln(w, "  exec <sql>                            POST /v1/execute")
	_, _ = fmt.Fprintln(w, "  analyses list                         GET /v1/analyses")
	_, _ = fmt.Fprintln(w, "  analyses save <name> <question> <sql> PUT /v1/analyses/{name}")
	_, _ = fmt.Fprintln(w, "  analyses show <name>                  GET /v1/analyses/{name}")
	_, _ = fmt.Fprintln(w, "  analyses run <name>                   POST /v1/analyses/{name}/run")
	_, _ = fmt.Fprintln(w, "  analyses delete <name>                DELETE /v1/analyses/{name}")
	_, _ = fmt.Fprintln(w, "  history [-limit n]                    GET /v1/history")
	_, _ = fmt.Fprintln(w, "  export [-format csv|parquet] <sql>    POST /v1/export")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

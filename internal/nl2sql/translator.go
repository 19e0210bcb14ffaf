// Package nl2sql turns natural-language questions into SQL candidates using
// a chat-completion model grounded on the current schema snapshot.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlexec"
)

var (
	// ErrEmptySchema means there is nothing to ground a translation on.
	ErrEmptySchema = errors.New("schema snapshot has no tables")

	// ErrModelUnavailable covers transport failures and server-side errors
	// from the model provider.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelTimeout means the model call exceeded its deadline.
	ErrModelTimeout = errors.New("model call timed out")
)

// NonSelectOutputError is returned when the model produced something that is
// not a read query. Output carries the raw model text for diagnostics.
type NonSelectOutputError struct {
	Output string
}

func (e *NonSelectOutputError) Error() string {
	return "model output is not a SELECT statement"
}

// Candidate is a generated query plus its provenance. Source is "generated"
// for translated SQL and "edited" when the user supplied the text directly.
type Candidate struct {
	SQL      string `json:"sql"`
	Source   string `json:"source"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type ClientInfo struct {
	Provider string
	Model    string
}

// Client is the blocking model collaborator. Generate returns the raw
// completion text; the Translator owns all post-processing.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Info() ClientInfo
}

type Translator struct {
	client Client
}

func NewTranslator(client Client) (*Translator, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	return &Translator{client: client}, nil
}

// Translate compiles a prompt from the question and schema, calls the model,
// and extracts a single SELECT from whatever came back.
func (t *Translator) Translate(ctx context.Context, question string, model schema.Model) (Candidate, error) {
	prompt, err := CompilePrompt(question, model)
	if err != nil {
		return Candidate{}, err
	}

	output, err := t.client.Generate(ctx, prompt)
	if err != nil {
		return Candidate{}, err
	}

	sqlText, err := ExtractSQL(output)
	if err != nil {
		return Candidate{}, err
	}

	info := t.client.Info()
	return Candidate{
		SQL:      sqlText,
		Source:   "generated",
		Provider: info.Provider,
		Model:    info.Model,
	}, nil
}

var fencePattern = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// ExtractSQL normalizes raw model output into a bare SELECT statement: code
// fences are unwrapped, leading prose is dropped up to the first line that
// starts a query, and trailing semicolons are trimmed. Output that never
// starts a SELECT or WITH fails with NonSelectOutputError.
func ExtractSQL(output string) (string, error) {
	text := strings.TrimSpace(output)
	if match := fencePattern.FindStringSubmatch(text); match != nil {
		text = strings.TrimSpace(match[1])
	}

	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", &NonSelectOutputError{Output: output}
	}

	sqlText := sqlexec.Normalize(strings.Join(lines[start:], "\n"))
	if sqlText == "" {
		return "", &NonSelectOutputError{Output: output}
	}
	return sqlText, nil
}

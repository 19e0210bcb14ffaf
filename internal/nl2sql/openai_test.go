package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newOpenAIClient(t *testing.T, server *httptest.Server, timeout time.Duration) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		Model:       "llama-3.3-70b-versatile",
		Temperature: 0,
		MaxTokens:   1024,
		Timeout:     timeout,
	}, server.Client())
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	return client
}

func TestGenerateSendsChatCompletionRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SELECT 1"}}]}`))
	}))
	t.Cleanup(server.Close)

	client := newOpenAIClient(t, server, time.Second)
	output, err := client.Generate(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if output != "SELECT 1" {
		t.Fatalf("output = %q", output)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotPayload["model"] != "llama-3.3-70b-versatile" {
		t.Fatalf("model = %v", gotPayload["model"])
	}
	if gotPayload["temperature"] != float64(0) {
		t.Fatalf("temperature = %v", gotPayload["temperature"])
	}
	if gotPayload["max_tokens"] != float64(1024) {
		t.Fatalf("max_tokens = %v", gotPayload["max_tokens"])
	}
}

func TestGenerateMapsServerErrorToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"over capacity"}}`))
	}))
	t.Cleanup(server.Close)

	client := newOpenAIClient(t, server, time.Second)
	_, err := client.Generate(context.Background(), "the prompt")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
}

func TestGenerateMapsDeadlineToTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	client := newOpenAIClient(t, server, 20*time.Millisecond)
	_, err := client.Generate(context.Background(), "the prompt")
	if !errors.Is(err, ErrModelTimeout) {
		t.Fatalf("error = %v, want ErrModelTimeout", err)
	}
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(server.Close)

	client := newOpenAIClient(t, server, time.Second)
	_, err := client.Generate(context.Background(), "the prompt")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
}

func TestNewOpenAIClientValidatesConfig(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "m"}, nil); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x", Model: "m"}, nil); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x", APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error for missing model")
	}
}

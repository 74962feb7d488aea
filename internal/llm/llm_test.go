package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrikhq/fabrik/internal/config"
	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/logging"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- Registry tests ---

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(testLog())
	mock := &MockClient{ProviderName: "mock"}
	reg.Register("mock", mock)

	c, err := reg.Resolve("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())
}

func TestRegistry_ResolveFallback(t *testing.T) {
	reg := NewRegistry(testLog())
	reg.Register("mock", &MockClient{ProviderName: "mock"})
	reg.SetFallback("mock")

	c, err := reg.Resolve("unknown")
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())

	c, err = reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	reg := NewRegistry(testLog())

	_, err := reg.Resolve("nope")
	assert.Error(t, err)
}

func TestNewRegistryFromConfig(t *testing.T) {
	reg := NewRegistryFromConfig(map[string]config.ProviderEntry{
		"ollama": {BaseURL: "http://localhost:11434", Model: "qwen2.5-coder"},
	}, config.DefaultsConfig{Provider: "ollama"}, testLog())

	assert.ElementsMatch(t, []string{"ollama"}, reg.List())

	c, err := reg.Resolve("anything")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNewRegistryFromConfig_BareDefault(t *testing.T) {
	reg := NewRegistryFromConfig(nil, config.DefaultsConfig{Provider: "ollama"}, testLog())
	assert.ElementsMatch(t, []string{"ollama"}, reg.List())
}

// --- Ollama client tests ---

type generateFixture struct {
	server *httptest.Server
	client *OllamaClient
	prompt string
}

func ollamaServer(t *testing.T, respond func(prompt string) (int, string)) *generateFixture {
	t.Helper()
	f := &generateFixture{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.prompt = req.Prompt
		assert.False(t, req.Stream)

		status, body := respond(req.Prompt)
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: body})
	}))
	t.Cleanup(f.server.Close)
	f.client = NewOllamaClient(f.server.URL, "test-model")
	return f
}

func TestOllama_GeneratePlan(t *testing.T) {
	f := ollamaServer(t, func(string) (int, string) {
		return http.StatusOK, "```json\n[{\"id\": 1, \"title\": \"scaffold\", \"description\": \"set up files\"}]\n```"
	})

	tasks, err := f.client.GeneratePlan(context.Background(), "a todo app", "web")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].ID)
	assert.Equal(t, "scaffold", tasks[0].Title)
	assert.Contains(t, f.prompt, "a todo app")
}

func TestOllama_GenerateArtifact(t *testing.T) {
	f := ollamaServer(t, func(string) (int, string) {
		return http.StatusOK, `Here you go: [{"path": "index.html", "content": "<html></html>"}]`
	})

	files, err := f.client.GenerateArtifact(context.Background(),
		domain.Task{ID: 1, Title: "scaffold"},
		ProjectContext{Description: "a todo app", ProjectType: "web", WithTests: true})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "index.html", files[0].Path)
	assert.Equal(t, "<html></html>", string(files[0].Content))
	assert.Contains(t, f.prompt, "test files", "WithTests is passed through to the prompt")
}

func TestOllama_ProposeFix(t *testing.T) {
	f := ollamaServer(t, func(string) (int, string) {
		return http.StatusOK, `[{"path": "main.go", "content": "package main"}]`
	})

	files, err := f.client.ProposeFix(context.Background(),
		[]domain.File{{Path: "main.go", Content: []byte("broken")}},
		[]domain.Issue{{Severity: domain.SeverityError, Message: "unbalanced brace", Location: "main.go"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, f.prompt, "unbalanced brace")
	assert.Contains(t, f.prompt, "broken")
}

func TestOllama_RateLimited(t *testing.T) {
	f := ollamaServer(t, func(string) (int, string) {
		return http.StatusTooManyRequests, "slow down"
	})

	_, err := f.client.GeneratePlan(context.Background(), "x", "web")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRateLimited, perr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, perr.Code)
}

func TestOllama_ServerError(t *testing.T) {
	f := ollamaServer(t, func(string) (int, string) {
		return http.StatusInternalServerError, "boom"
	})

	_, err := f.client.GeneratePlan(context.Background(), "x", "web")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnavailable, perr.Kind)
}

func TestOllama_ConnectionRefused(t *testing.T) {
	c := NewOllamaClient("http://127.0.0.1:1", "test-model")

	_, err := c.GeneratePlan(context.Background(), "x", "web")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnavailable, perr.Kind)
}

func TestOllama_UnparseableResponse(t *testing.T) {
	f := ollamaServer(t, func(string) (int, string) {
		return http.StatusOK, "I cannot help with that."
	})

	_, err := f.client.GeneratePlan(context.Background(), "x", "web")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnavailable, perr.Kind)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"bare array":     `[1, 2]`,
		"fenced":         "```json\n[1, 2]\n```",
		"fenced no lang": "```\n[1, 2]\n```",
		"prose around":   "Sure! Here it is: [1, 2] Hope that helps.",
	}
	for name, raw := range cases {
		var out []int
		require.NoError(t, json.Unmarshal(extractJSON(raw), &out), name)
		assert.Equal(t, []int{1, 2}, out, name)
	}
}

func TestProviderError_Message(t *testing.T) {
	err := &ProviderError{Provider: "ollama", Kind: KindUnavailable, Message: "down", Code: 503}
	assert.Contains(t, err.Error(), "ollama")
	assert.Contains(t, err.Error(), "503")

	var generic error = err
	var target *ProviderError
	assert.True(t, errors.As(generic, &target))
}

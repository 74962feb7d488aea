package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// OllamaClient is a direct HTTP client for an Ollama-compatible endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates an Ollama client.
// baseURL defaults to "http://localhost:11434".
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (o *OllamaClient) Name() string { return "ollama" }

// GeneratePlan asks the model for an ordered task breakdown.
func (o *OllamaClient) GeneratePlan(ctx context.Context, description, projectType string) ([]domain.Task, error) {
	system := "You are a senior software planner. Respond with a JSON array of tasks, " +
		`each {"id": number, "title": string, "description": string}. No prose.`
	prompt := fmt.Sprintf("Break this %s project into 3-8 ordered implementation tasks:\n\n%s",
		projectType, description)

	raw, err := o.generate(ctx, system, prompt)
	if err != nil {
		return nil, err
	}

	var tasks []domain.Task
	if err := json.Unmarshal(extractJSON(raw), &tasks); err != nil {
		return nil, &ProviderError{
			Provider: o.Name(),
			Kind:     KindUnavailable,
			Message:  fmt.Sprintf("unparseable plan response: %v", err),
		}
	}
	return tasks, nil
}

// GenerateArtifact produces the files for one planned task.
func (o *OllamaClient) GenerateArtifact(ctx context.Context, task domain.Task, pctx ProjectContext) ([]domain.File, error) {
	system := "You are a code generator. Respond with a JSON array of files, " +
		`each {"path": string, "content": string}. Paths are project-relative. No prose.`
	prompt := fmt.Sprintf(
		"Project (%s): %s\n\nImplement task %d: %s\n%s",
		pctx.ProjectType, pctx.Description, task.ID, task.Title, task.Description)
	if pctx.WithTests {
		prompt += "\n\nInclude test files for the code you generate."
	}

	raw, err := o.generate(ctx, system, prompt)
	if err != nil {
		return nil, err
	}
	return parseFiles(o.Name(), raw)
}

// ProposeFix returns a revised set of files addressing the issues.
func (o *OllamaClient) ProposeFix(ctx context.Context, files []domain.File, issues []domain.Issue) ([]domain.File, error) {
	system := "You are a code fixer. Given files and validation errors, return the corrected " +
		`files as a JSON array, each {"path": string, "content": string}. ` +
		"Return every file, fixed. No prose."

	var b strings.Builder
	b.WriteString("Validation errors:\n")
	for _, is := range issues {
		fmt.Fprintf(&b, "- [%s] %s", is.Severity, is.Message)
		if is.Location != "" {
			fmt.Fprintf(&b, " (%s)", is.Location)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nFiles:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "### %s\n%s\n\n", f.Path, f.Content)
	}

	raw, err := o.generate(ctx, system, b.String())
	if err != nil {
		return nil, err
	}
	return parseFiles(o.Name(), raw)
}

type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// generate performs one non-streaming completion call and maps transport
// failures onto the provider error taxonomy.
func (o *OllamaClient) generate(ctx context.Context, system, prompt string) (string, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		System: system,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/generate", strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Provider: o.Name(), Kind: KindUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: o.Name(), Kind: KindUnavailable, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &ProviderError{
			Provider: o.Name(), Kind: KindRateLimited,
			Message: strings.TrimSpace(string(body)), Code: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		return "", &ProviderError{
			Provider: o.Name(), Kind: KindUnavailable,
			Message: strings.TrimSpace(string(body)), Code: resp.StatusCode,
		}
	}

	var result ollamaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &ProviderError{Provider: o.Name(), Kind: KindUnavailable, Message: err.Error()}
	}
	return result.Response, nil
}

// fileOut is the provider wire shape for generated files.
type fileOut struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func parseFiles(provider, raw string) ([]domain.File, error) {
	var out []fileOut
	if err := json.Unmarshal(extractJSON(raw), &out); err != nil {
		return nil, &ProviderError{
			Provider: provider,
			Kind:     KindUnavailable,
			Message:  fmt.Sprintf("unparseable file response: %v", err),
		}
	}
	files := make([]domain.File, 0, len(out))
	for _, f := range out {
		files = append(files, domain.File{Path: f.Path, Content: []byte(f.Content)})
	}
	return files, nil
}

// extractJSON pulls the JSON array out of a model response, tolerating
// fenced code blocks and surrounding prose.
func extractJSON(raw string) []byte {
	s := raw
	if i := strings.Index(s, "```"); i != -1 {
		s = s[i+3:]
		if j := strings.Index(s, "\n"); j != -1 {
			s = s[j+1:] // skip language hint
		}
		if j := strings.Index(s, "```"); j != -1 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start != -1 && end > start {
		s = s[start : end+1]
	}
	return []byte(strings.TrimSpace(s))
}

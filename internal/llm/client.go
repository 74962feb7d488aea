// Package llm defines the language-model collaborator contract the
// workflow engine calls for planning, generation, and repair proposals.
// Providers are pluggable; the engine never retries them itself.
package llm

import (
	"context"
	"fmt"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// ProjectContext carries the run parameters a provider needs to generate
// coherent output across tasks.
type ProjectContext struct {
	Description string
	ProjectType string
	WithTests   bool
}

// Client is the interface all language-model providers must implement.
type Client interface {
	// GeneratePlan turns a project description into an ordered task list.
	GeneratePlan(ctx context.Context, description, projectType string) ([]domain.Task, error)

	// GenerateArtifact produces the files for one planned task.
	GenerateArtifact(ctx context.Context, task domain.Task, pctx ProjectContext) ([]domain.File, error)

	// ProposeFix returns a revised set of files addressing the issues.
	ProposeFix(ctx context.Context, files []domain.File, issues []domain.Issue) ([]domain.File, error)

	// Name returns the provider name (e.g., "ollama").
	Name() string
}

// ErrorKind classifies provider failures. Both kinds are infrastructure
// failures from the engine's point of view.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindRateLimited ErrorKind = "rate_limited"
)

// ProviderError is returned when a language-model provider fails.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Code     int // HTTP-like status code when known
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

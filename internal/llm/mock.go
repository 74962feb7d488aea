package llm

import (
	"context"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName         string
	GeneratePlanFunc     func(ctx context.Context, description, projectType string) ([]domain.Task, error)
	GenerateArtifactFunc func(ctx context.Context, task domain.Task, pctx ProjectContext) ([]domain.File, error)
	ProposeFixFunc       func(ctx context.Context, files []domain.File, issues []domain.Issue) ([]domain.File, error)
}

func (m *MockClient) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockClient) GeneratePlan(ctx context.Context, description, projectType string) ([]domain.Task, error) {
	if m.GeneratePlanFunc != nil {
		return m.GeneratePlanFunc(ctx, description, projectType)
	}
	return []domain.Task{{ID: 1, Title: "scaffold", Description: description}}, nil
}

func (m *MockClient) GenerateArtifact(ctx context.Context, task domain.Task, pctx ProjectContext) ([]domain.File, error) {
	if m.GenerateArtifactFunc != nil {
		return m.GenerateArtifactFunc(ctx, task, pctx)
	}
	return []domain.File{{Path: "index.html", Content: []byte("<html></html>")}}, nil
}

func (m *MockClient) ProposeFix(ctx context.Context, files []domain.File, issues []domain.Issue) ([]domain.File, error) {
	if m.ProposeFixFunc != nil {
		return m.ProposeFixFunc(ctx, files, issues)
	}
	return files, nil
}

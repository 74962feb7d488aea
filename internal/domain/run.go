package domain

import "time"

// RunStatus is the phase state of a project run. A run only advances
// forward through the pipeline or drops to failed; failed re-enters at
// generating via an explicit retry.
type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusPlanning   RunStatus = "planning"
	StatusGenerating RunStatus = "generating"
	StatusValidating RunStatus = "validating"
	StatusDone       RunStatus = "done"
	StatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status ends the current attempt.
func (s RunStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ProjectRun is one execution of the build pipeline for a description.
// It is mutated only by its owning engine task; external callers interact
// through the agent manager.
type ProjectRun struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agentId"`
	Description  string     `json:"description"`
	ProjectType  string     `json:"projectType"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model,omitempty"`
	WithTests    bool       `json:"withTests"`
	ValidateCode bool       `json:"validateCode"`
	Status       RunStatus  `json:"status"`
	Attempt      int        `json:"attempt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ArtifactPath string     `json:"artifactPath,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

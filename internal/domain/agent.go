package domain

import "time"

// AgentStatus is derived from the agent's current or last run.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// Agent is a long-lived execution context owning one workspace and its
// run history.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Provider      string      `json:"provider"`
	Model         string      `json:"model,omitempty"`
	WorkspaceRoot string      `json:"workspaceRoot"`
	Status        AgentStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// ChatMessage is a role-tagged entry in an agent's append-only chat history.
type ChatMessage struct {
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// WorkspaceStats is a live summary of an agent's workspace, computed by
// scanning rather than cached.
type WorkspaceStats struct {
	ArtifactCount    int `json:"artifactCount"`
	PendingApprovals int `json:"pendingApprovals"`
}

// AgentSummary is the dashboard view of an agent.
type AgentSummary struct {
	Agent
	Workspace WorkspaceStats `json:"workspace"`
}

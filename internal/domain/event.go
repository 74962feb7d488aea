package domain

import "time"

// EventKind is the closed set of workflow event variants. Subscribers can
// switch over it exhaustively instead of matching ad hoc strings.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventLog           EventKind = "log"
	EventTerminal      EventKind = "terminal"
	EventStatusChanged EventKind = "statusChanged"
	EventFinished      EventKind = "finished"

	// EventOverflow is injected by the bus when a subscriber's queue
	// saturated and events were dropped.
	EventOverflow EventKind = "overflow"
)

// WorkflowEvent is an immutable broadcast record produced by the engine
// and consumed by bus subscribers.
type WorkflowEvent struct {
	Kind      EventKind      `json:"kind"`
	RunID     string         `json:"runId,omitempty"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds a timestamped workflow event.
func NewEvent(kind EventKind, runID, message string, extra map[string]any) WorkflowEvent {
	return WorkflowEvent{
		Kind:      kind,
		RunID:     runID,
		Message:   message,
		Extra:     extra,
		Timestamp: time.Now(),
	}
}

// RunTopic names the bus topic scoped to a single run.
func RunTopic(runID string) string { return "run:" + runID }

// AgentTopic names the bus topic scoped to an agent (workspace changes,
// all of the agent's runs).
func AgentTopic(agentID string) string { return "agent:" + agentID }

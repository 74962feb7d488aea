package domain

// Task is one step of a generated build plan.
type Task struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// File is a generated artifact file addressed relative to the workspace root.
type File struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single finding reported by a validator.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Location string   `json:"location,omitempty"`
}

// Errors filters issues down to error severity.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// Progress counts completed tasks out of the planned total.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

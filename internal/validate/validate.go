// Package validate checks generated artifacts before a run can finish.
// Validators are pure: they inspect files and report issues, never mutate.
package validate

import (
	"fmt"
	"path"
	"strings"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// Validator inspects a generated artifact and reports findings. An empty
// result means the artifact passed.
type Validator interface {
	Validate(files []domain.File) []domain.Issue
}

// Static is the baseline structural validator. It catches the failure
// modes language models most often produce: empty files, truncated output,
// and unbalanced delimiters in code files.
type Static struct{}

// NewStatic creates the baseline validator.
func NewStatic() *Static { return &Static{} }

// codeExtensions are the file types delimiter checking applies to.
var codeExtensions = map[string]bool{
	".go":   true,
	".js":   true,
	".ts":   true,
	".jsx":  true,
	".tsx":  true,
	".py":   true,
	".css":  true,
	".json": true,
	".java": true,
	".c":    true,
	".cpp":  true,
	".rs":   true,
}

func (v *Static) Validate(files []domain.File) []domain.Issue {
	var issues []domain.Issue

	if len(files) == 0 {
		return []domain.Issue{{
			Severity: domain.SeverityError,
			Message:  "artifact contains no files",
		}}
	}

	for _, f := range files {
		content := strings.TrimSpace(string(f.Content))

		if content == "" {
			issues = append(issues, domain.Issue{
				Severity: domain.SeverityError,
				Message:  "file is empty",
				Location: f.Path,
			})
			continue
		}

		if looksTruncated(content) {
			issues = append(issues, domain.Issue{
				Severity: domain.SeverityWarning,
				Message:  "file appears truncated",
				Location: f.Path,
			})
		}

		if codeExtensions[path.Ext(f.Path)] {
			issues = append(issues, checkDelimiters(f.Path, content)...)
		}
	}

	return issues
}

// looksTruncated flags content ending mid-sentence with a trailing comma,
// operator, or unterminated fence.
func looksTruncated(content string) bool {
	if strings.Count(content, "```")%2 != 0 {
		return true
	}
	switch {
	case strings.HasSuffix(content, ","),
		strings.HasSuffix(content, "&&"),
		strings.HasSuffix(content, "||"),
		strings.HasSuffix(content, "=>"):
		return true
	}
	return false
}

// checkDelimiters verifies brackets, braces, and parens balance, skipping
// string literals and line comments.
func checkDelimiters(location, content string) []domain.Issue {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	var inString rune // active quote char, 0 when outside
	escaped := false

	for _, line := range strings.Split(content, "\n") {
		for _, r := range line {
			if escaped {
				escaped = false
				continue
			}
			if inString != 0 {
				switch r {
				case '\\':
					escaped = true
				case inString:
					inString = 0
				}
				continue
			}
			switch r {
			case '"', '\'', '`':
				inString = r
			case '(', '[', '{':
				stack = append(stack, r)
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
					return []domain.Issue{{
						Severity: domain.SeverityError,
						Message:  fmt.Sprintf("unbalanced %q", r),
						Location: location,
					}}
				}
				stack = stack[:len(stack)-1]
			}
		}
		// Unterminated single-line strings reset at EOL; multiline literal
		// support is not worth the false negatives here.
		if inString != '`' {
			inString = 0
			escaped = false
		}
	}

	if len(stack) > 0 {
		return []domain.Issue{{
			Severity: domain.SeverityError,
			Message:  fmt.Sprintf("unclosed %q", stack[len(stack)-1]),
			Location: location,
		}}
	}
	return nil
}

// Mock is a scripted validator for tests. Results are returned in order;
// after the script runs out it reports clean.
type Mock struct {
	Results [][]domain.Issue
	Calls   int
}

func (m *Mock) Validate(files []domain.File) []domain.Issue {
	i := m.Calls
	m.Calls++
	if i < len(m.Results) {
		return m.Results[i]
	}
	return nil
}

// Package repair runs the bounded validate-and-fix cycle over a generated
// artifact. It owns the retry budget; providers and validators stay
// attempt-unaware.
package repair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/logging"
)

// FixFunc requests a corrected artifact for the reported issues. Returning
// an error aborts the loop immediately (infrastructure failure, not a
// validation verdict).
type FixFunc func(ctx context.Context, files []domain.File, issues []domain.Issue) ([]domain.File, error)

// Validator is the subset of validation the loop needs.
type Validator interface {
	Validate(files []domain.File) []domain.Issue
}

// Result is the outcome of one repair cycle. Exhausting the budget is a
// result, not an error; hard failures come back on the error return.
type Result struct {
	Success      bool
	AttemptsUsed int
	Files        []domain.File
	LastIssues   []domain.Issue
}

// Loop validates an artifact and requests fixes until it passes, the
// attempt budget runs out, or a fix stops changing anything.
type Loop struct {
	validator   Validator
	fix         FixFunc
	maxAttempts int
	onAttempt   func(attempt int, issues []domain.Issue)
	log         *logging.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithAttemptCallback registers a per-attempt observer, invoked before each
// fix request with the attempt number and the issues that triggered it.
func WithAttemptCallback(fn func(attempt int, issues []domain.Issue)) Option {
	return func(l *Loop) { l.onAttempt = fn }
}

// New creates a repair loop. maxAttempts below 1 is clamped to 1.
func New(validator Validator, fix FixFunc, maxAttempts int, log *logging.Logger, opts ...Option) *Loop {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	l := &Loop{
		validator:   validator,
		fix:         fix,
		maxAttempts: maxAttempts,
		log:         log.Sub("repair"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the cycle. Warnings never block success; only error-severity
// issues trigger a fix request.
func (l *Loop) Run(ctx context.Context, files []domain.File) (Result, error) {
	current := files
	lastDigest := digest(current)

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{AttemptsUsed: attempt - 1, Files: current}, domain.ErrCancelled
		}

		issues := l.validator.Validate(current)
		errs := domain.Errors(issues)
		if len(errs) == 0 {
			return Result{
				Success:      true,
				AttemptsUsed: attempt,
				Files:        current,
				LastIssues:   issues,
			}, nil
		}

		l.log.Debug().Int("attempt", attempt).Int("errors", len(errs)).Msg("validation failed")
		if l.onAttempt != nil {
			l.onAttempt(attempt, errs)
		}

		if attempt == l.maxAttempts {
			return Result{AttemptsUsed: attempt, Files: current, LastIssues: errs}, nil
		}

		fixed, err := l.fix(ctx, current, errs)
		if err != nil {
			return Result{AttemptsUsed: attempt, Files: current, LastIssues: errs},
				fmt.Errorf("requesting fix (attempt %d): %w", attempt, err)
		}

		// A fix that reproduces the exact same artifact will keep failing
		// the same way; stop instead of burning the remaining budget.
		d := digest(fixed)
		if d == lastDigest {
			l.log.Debug().Int("attempt", attempt).Msg("fix reached fixed point")
			return Result{AttemptsUsed: attempt, Files: current, LastIssues: errs}, nil
		}
		lastDigest = d
		current = fixed
	}

	// Unreachable: the attempt == maxAttempts branch returns first.
	return Result{AttemptsUsed: l.maxAttempts, Files: current}, nil
}

// digest hashes an artifact by sorted path and content so file ordering
// does not defeat fixed-point detection.
func digest(files []domain.File) string {
	sorted := make([]domain.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00", f.Path, len(f.Content))
		h.Write(f.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

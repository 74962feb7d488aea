package repair

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/logging"
	"github.com/fabrikhq/fabrik/internal/validate"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func files(content string) []domain.File {
	return []domain.File{{Path: "main.go", Content: []byte(content)}}
}

func issue(msg string) domain.Issue {
	return domain.Issue{Severity: domain.SeverityError, Message: msg}
}

func noFix(t *testing.T) FixFunc {
	return func(ctx context.Context, f []domain.File, issues []domain.Issue) ([]domain.File, error) {
		t.Fatal("fix must not be requested")
		return nil, nil
	}
}

func TestRun_CleanFirstAttempt(t *testing.T) {
	v := &validate.Mock{} // empty script reports clean
	loop := New(v, noFix(t), 3, testLog())

	result, err := loop.Run(context.Background(), files("ok"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.AttemptsUsed)
	assert.Equal(t, 1, v.Calls)
}

func TestRun_FixThenPass(t *testing.T) {
	v := &validate.Mock{Results: [][]domain.Issue{
		{issue("broken")},
		nil,
	}}
	fixed := false
	fix := func(ctx context.Context, f []domain.File, issues []domain.Issue) ([]domain.File, error) {
		fixed = true
		require.Len(t, issues, 1)
		return files("repaired"), nil
	}

	loop := New(v, fix, 3, testLog())
	result, err := loop.Run(context.Background(), files("broken"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, fixed)
	assert.Equal(t, 2, result.AttemptsUsed)
	assert.Equal(t, "repaired", string(result.Files[0].Content))
}

func TestRun_ExhaustsBudget(t *testing.T) {
	v := &validate.Mock{Results: [][]domain.Issue{
		{issue("still broken 1")},
		{issue("still broken 2")},
		{issue("still broken 3")},
	}}
	attempt := 0
	fix := func(ctx context.Context, f []domain.File, issues []domain.Issue) ([]domain.File, error) {
		attempt++
		// Different content each time so fixed-point detection stays out of it.
		return files("version " + issues[0].Message), nil
	}

	loop := New(v, fix, 3, testLog())
	result, err := loop.Run(context.Background(), files("broken"))
	require.NoError(t, err, "exhaustion is an outcome, not an error")
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.AttemptsUsed)
	assert.Equal(t, 2, attempt, "no fix is requested on the final attempt")
	require.Len(t, result.LastIssues, 1)
	assert.Equal(t, "still broken 3", result.LastIssues[0].Message)
}

func TestRun_FixedPointStopsEarly(t *testing.T) {
	v := &validate.Mock{Results: [][]domain.Issue{
		{issue("broken")},
		{issue("broken")},
		{issue("broken")},
	}}
	calls := 0
	fix := func(ctx context.Context, f []domain.File, issues []domain.Issue) ([]domain.File, error) {
		calls++
		return f, nil // identical artifact back
	}

	loop := New(v, fix, 5, testLog())
	result, err := loop.Run(context.Background(), files("broken"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, calls, "identical fix output stops the loop")
	assert.Equal(t, 1, result.AttemptsUsed)
}

func TestRun_FixErrorPropagates(t *testing.T) {
	v := &validate.Mock{Results: [][]domain.Issue{{issue("broken")}}}
	boom := errors.New("provider down")
	fix := func(ctx context.Context, f []domain.File, issues []domain.Issue) ([]domain.File, error) {
		return nil, boom
	}

	loop := New(v, fix, 3, testLog())
	result, err := loop.Run(context.Background(), files("broken"))
	require.ErrorIs(t, err, boom)
	assert.False(t, result.Success)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := New(&validate.Mock{}, noFix(t), 3, testLog())
	_, err := loop.Run(ctx, files("ok"))
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestRun_AttemptCallback(t *testing.T) {
	v := &validate.Mock{Results: [][]domain.Issue{
		{issue("first")},
		nil,
	}}
	fix := func(ctx context.Context, f []domain.File, issues []domain.Issue) ([]domain.File, error) {
		return files("better"), nil
	}

	var attempts []int
	loop := New(v, fix, 3, testLog(), WithAttemptCallback(func(attempt int, issues []domain.Issue) {
		attempts = append(attempts, attempt)
		assert.NotEmpty(t, issues)
	}))

	result, err := loop.Run(context.Background(), files("broken"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []int{1}, attempts)
}

func TestRun_WarningsDoNotBlock(t *testing.T) {
	v := &validate.Mock{Results: [][]domain.Issue{
		{{Severity: domain.SeverityWarning, Message: "style nit"}},
	}}

	loop := New(v, noFix(t), 3, testLog())
	result, err := loop.Run(context.Background(), files("ok"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.LastIssues, 1)
}

func TestDigest_OrderIndependent(t *testing.T) {
	a := []domain.File{
		{Path: "a.go", Content: []byte("a")},
		{Path: "b.go", Content: []byte("b")},
	}
	b := []domain.File{
		{Path: "b.go", Content: []byte("b")},
		{Path: "a.go", Content: []byte("a")},
	}
	assert.Equal(t, digest(a), digest(b))
	assert.NotEqual(t, digest(a), digest(files("x")))
}

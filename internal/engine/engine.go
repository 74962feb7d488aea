// Package engine executes project runs as a per-run state machine:
// queued → planning → generating → validating → done, with validating
// re-entering generating through the repair loop and any phase able to
// drop to failed. Failed runs re-enter at generating via an explicit
// retry. Every transition is persisted before its work begins, so a
// restarted daemon resumes from the last durable state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/fabrikhq/fabrik/internal/bus"
	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/llm"
	"github.com/fabrikhq/fabrik/internal/logging"
	"github.com/fabrikhq/fabrik/internal/repair"
	"github.com/fabrikhq/fabrik/internal/store"
	"github.com/fabrikhq/fabrik/internal/validate"
	"github.com/fabrikhq/fabrik/internal/workspace"
)

// Engine drives runs through the pipeline. One Engine serves all agents;
// each run executes on its own goroutine owned by the agent manager.
type Engine struct {
	runs        *store.RunStore
	bus         *bus.Bus
	registry    *llm.Registry
	validator   validate.Validator
	maxAttempts int
	log         *logging.Logger
}

// New creates an engine.
func New(runs *store.RunStore, b *bus.Bus, registry *llm.Registry, validator validate.Validator, maxAttempts int, log *logging.Logger) *Engine {
	return &Engine{
		runs:        runs,
		bus:         b,
		registry:    registry,
		validator:   validator,
		maxAttempts: maxAttempts,
		log:         log.Sub("engine"),
	}
}

// Execute runs the full pipeline for a fresh run. The run must already be
// persisted with status queued.
func (e *Engine) Execute(ctx context.Context, run *domain.ProjectRun, ws *workspace.Store) {
	e.publish(run, domain.NewEvent(domain.EventStarted, run.ID,
		"run started", map[string]any{"attempt": run.Attempt}))

	client, err := e.registry.Resolve(run.Provider)
	if err != nil {
		e.fail(run, err, domain.Progress{})
		return
	}

	plan, err := e.plan(ctx, run, ws, client)
	if err != nil {
		e.fail(run, err, domain.Progress{})
		return
	}

	e.generateAndValidate(ctx, run, ws, client, plan)
}

// Resume re-enters a failed run at generating, reusing the plan persisted
// during the original attempt. The caller has already reset the run record
// (status generating, error cleared, attempt bumped).
func (e *Engine) Resume(ctx context.Context, run *domain.ProjectRun, ws *workspace.Store) {
	e.publish(run, domain.NewEvent(domain.EventStarted, run.ID,
		"run retried", map[string]any{"attempt": run.Attempt}))

	client, err := e.registry.Resolve(run.Provider)
	if err != nil {
		e.fail(run, err, domain.Progress{})
		return
	}

	plan, err := e.loadPlan(run, ws)
	if err != nil {
		// No usable plan on disk; replan from scratch.
		plan, err = e.plan(ctx, run, ws, client)
		if err != nil {
			e.fail(run, err, domain.Progress{})
			return
		}
	}

	e.generateAndValidate(ctx, run, ws, client, plan)
}

func (e *Engine) plan(ctx context.Context, run *domain.ProjectRun, ws *workspace.Store, client llm.Client) ([]domain.Task, error) {
	if err := e.transition(run, domain.StatusPlanning); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}

	plan, err := client.GeneratePlan(ctx, run.Description, run.ProjectType)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("provider %s returned an empty plan", client.Name())
	}

	if err := e.savePlan(run, ws, plan); err != nil {
		return nil, err
	}

	e.publish(run, domain.NewEvent(domain.EventLog, run.ID,
		fmt.Sprintf("plan ready: %d tasks", len(plan)),
		map[string]any{"tasks": len(plan)}))
	return plan, nil
}

func (e *Engine) generateAndValidate(ctx context.Context, run *domain.ProjectRun, ws *workspace.Store, client llm.Client, plan []domain.Task) {
	// Progress survives into the finished event even on failure, so
	// observers can tell "made progress then failed" from "failed at once".
	progress := domain.Progress{Total: len(plan)}

	files, err := e.generate(ctx, run, ws, client, plan, &progress)
	if err != nil {
		e.fail(run, err, progress)
		return
	}

	if run.ValidateCode {
		ok, err := e.validatePhase(ctx, run, ws, client, files, progress)
		if err != nil {
			e.fail(run, err, progress)
			return
		}
		if !ok {
			return // validatePhase already failed the run
		}
	}

	now := time.Now()
	run.CompletedAt = &now
	run.ArtifactPath = ws.Root()
	if err := e.transition(run, domain.StatusDone); err != nil {
		e.fail(run, err, progress)
		return
	}

	e.publish(run, domain.NewEvent(domain.EventFinished, run.ID, "run complete",
		map[string]any{
			"status":    string(domain.StatusDone),
			"completed": progress.Completed,
			"total":     progress.Total,
		}))
}

func (e *Engine) generate(ctx context.Context, run *domain.ProjectRun, ws *workspace.Store, client llm.Client, plan []domain.Task, progress *domain.Progress) ([]domain.File, error) {
	if err := e.transition(run, domain.StatusGenerating); err != nil {
		return nil, err
	}

	pctx := llm.ProjectContext{
		Description: run.Description,
		ProjectType: run.ProjectType,
		WithTests:   run.WithTests,
	}

	var all []domain.File
	for i, task := range plan {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrCancelled
		}

		files, err := client.GenerateArtifact(ctx, task, pctx)
		if err != nil {
			return nil, err
		}
		if err := ws.WriteFiles(files); err != nil {
			return nil, err
		}
		all = append(all, files...)
		progress.Completed = i + 1

		e.publish(run, domain.NewEvent(domain.EventLog, run.ID,
			fmt.Sprintf("task %d/%d complete: %s", i+1, len(plan), task.Title),
			map[string]any{"completed": i + 1, "total": len(plan)}))
	}
	return all, nil
}

// validatePhase runs the repair loop. Returns ok=false when the run was
// failed for validation exhaustion (already persisted and announced).
func (e *Engine) validatePhase(ctx context.Context, run *domain.ProjectRun, ws *workspace.Store, client llm.Client, files []domain.File, progress domain.Progress) (bool, error) {
	if err := e.transition(run, domain.StatusValidating); err != nil {
		return false, err
	}

	loop := repair.New(e.validator,
		func(ctx context.Context, files []domain.File, issues []domain.Issue) ([]domain.File, error) {
			// Re-entering generation is observable, not just internal.
			if err := e.transition(run, domain.StatusGenerating); err != nil {
				return nil, err
			}
			fixed, err := client.ProposeFix(ctx, files, issues)
			if err != nil {
				return nil, err
			}
			if err := ws.WriteFiles(fixed); err != nil {
				return nil, err
			}
			if err := e.transition(run, domain.StatusValidating); err != nil {
				return nil, err
			}
			return fixed, nil
		},
		e.maxAttempts, e.log,
		repair.WithAttemptCallback(func(attempt int, issues []domain.Issue) {
			e.publish(run, domain.NewEvent(domain.EventLog, run.ID,
				fmt.Sprintf("validation attempt %d: %d error(s)", attempt, len(issues)),
				map[string]any{"attempt": attempt, "errors": len(issues)}))
			for _, is := range issues {
				e.publish(run, domain.NewEvent(domain.EventTerminal, run.ID,
					is.Message, map[string]any{"location": is.Location}))
			}
		}),
	)

	result, err := loop.Run(ctx, files)
	if err != nil {
		return false, err
	}
	if result.Success {
		return true, nil
	}

	// Budget exhausted or fix reached a fixed point. Record the review
	// request, then fail the run with the outstanding issues.
	e.recordApproval(run, ws, result.LastIssues)

	msg := fmt.Sprintf("validation failed after %d attempt(s)", result.AttemptsUsed)
	if len(result.LastIssues) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, result.LastIssues[0].Message)
	}
	e.fail(run, errors.New(msg), progress)
	return false, nil
}

// transition announces and persists a status change. The event goes out
// before the new phase's work begins so observers see the phase start.
// Self-transitions are skipped: a resumed run is already persisted as
// generating, and re-announcing the same status tells observers nothing.
func (e *Engine) transition(run *domain.ProjectRun, to domain.RunStatus) error {
	from := run.Status
	if from == to {
		return nil
	}
	run.Status = to

	e.publish(run, domain.NewEvent(domain.EventStatusChanged, run.ID,
		fmt.Sprintf("%s -> %s", from, to),
		map[string]any{"from": string(from), "to": string(to)}))

	if err := e.runs.Update(run); err != nil {
		return fmt.Errorf("persisting transition to %s: %w", to, err)
	}
	return nil
}

// fail moves the run to failed and emits the finished event. Cancellation
// is tagged so observers can render it apart from errors, and the last
// known progress rides along so partial work stays visible.
func (e *Engine) fail(run *domain.ProjectRun, cause error, progress domain.Progress) {
	cancelled := errors.Is(cause, domain.ErrCancelled) || errors.Is(cause, context.Canceled)

	now := time.Now()
	run.CompletedAt = &now
	run.ErrorMessage = cause.Error()
	if err := e.transition(run, domain.StatusFailed); err != nil {
		e.log.Error().Err(err).Str("run", run.ID).Msg("failed to persist run failure")
	}

	e.log.WithRun(run.ID).Warn().Bool("cancelled", cancelled).Err(cause).Msg("run failed")
	e.publish(run, domain.NewEvent(domain.EventFinished, run.ID, cause.Error(),
		map[string]any{
			"status":    string(domain.StatusFailed),
			"cancelled": cancelled,
			"completed": progress.Completed,
			"total":     progress.Total,
		}))
}

func (e *Engine) publish(run *domain.ProjectRun, ev domain.WorkflowEvent) {
	e.bus.Publish(domain.RunTopic(run.ID), ev)
	e.bus.Publish(domain.AgentTopic(run.AgentID), ev)
}

func planPath(runID string) string {
	return path.Join(workspace.PlansDir, runID+".json")
}

func (e *Engine) savePlan(run *domain.ProjectRun, ws *workspace.Store, plan []domain.Task) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return ws.Write(planPath(run.ID), data)
}

func (e *Engine) loadPlan(run *domain.ProjectRun, ws *workspace.Store) ([]domain.Task, error) {
	data, err := ws.Read(planPath(run.ID))
	if err != nil {
		return nil, err
	}
	var plan []domain.Task
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.New("persisted plan is empty")
	}
	return plan, nil
}

// recordApproval writes a pending review request into the workspace.
func (e *Engine) recordApproval(run *domain.ProjectRun, ws *workspace.Store, issues []domain.Issue) {
	changes := map[string]any{"issues": issues}
	err := ws.RecordApproval(workspace.Approval{
		ID:      run.ID,
		Summary: fmt.Sprintf("run %s needs review: validation did not pass", run.ID),
		Changes: changes,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("run", run.ID).Msg("failed to record approval request")
	}
}

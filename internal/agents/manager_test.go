package agents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrikhq/fabrik/internal/bus"
	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/engine"
	"github.com/fabrikhq/fabrik/internal/llm"
	"github.com/fabrikhq/fabrik/internal/logging"
	"github.com/fabrikhq/fabrik/internal/store"
	"github.com/fabrikhq/fabrik/internal/validate"
)

type fixture struct {
	manager *Manager
	runs    *store.RunStore
	agents  *store.AgentStore
	bus     *bus.Bus
	client  *llm.MockClient
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := logging.New(nil, "silent")

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	agentStore := store.NewAgentStore(db)
	runs := store.NewRunStore(db)
	eventBus := bus.New(bus.Options{}, log)

	client := &llm.MockClient{}
	registry := llm.NewRegistry(log)
	registry.Register("mock", client)
	registry.SetFallback("mock")

	eng := engine.New(runs, eventBus, registry, &validate.Mock{}, 3, log)

	m, err := New(agentStore, runs, eventBus, eng, t.TempDir(), false, log)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return &fixture{manager: m, runs: runs, agents: agentStore, bus: eventBus, client: client}
}

func waitTerminal(t *testing.T, f *fixture, runID string) *domain.ProjectRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := f.runs.Find(runID)
		require.NoError(t, err)
		if run.Status.Terminal() {
			// Wait until the manager releases the slot too.
			f.manager.mu.Lock()
			_, busy := f.manager.active[run.AgentID]
			f.manager.mu.Unlock()
			if !busy {
				return run
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return nil
}

func submit(t *testing.T, f *fixture, agentID string) *domain.ProjectRun {
	t.Helper()
	run, err := f.manager.SubmitWorkflow(SubmitRequest{
		AgentID:     agentID,
		Description: "a todo app",
		ProjectType: "web",
		Provider:    "mock",
	})
	require.NoError(t, err)
	return run
}

func TestSpawn(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "builder", agent.Name)
	assert.DirExists(t, agent.WorkspaceRoot)

	// Name collisions get distinct workspace directories.
	second, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)
	assert.NotEqual(t, agent.WorkspaceRoot, second.WorkspaceRoot)
}

func TestSpawn_RequiresName(t *testing.T) {
	f := setup(t)

	_, err := f.manager.Spawn("", "mock", "")
	assert.Error(t, err)
}

func TestResume_ExistingWorkspace(t *testing.T) {
	f := setup(t)

	dir := filepath.Join(t.TempDir(), "legacy-project")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	agent, err := f.manager.Resume(dir, "mock", "")
	require.NoError(t, err)
	assert.Equal(t, "legacy-project", agent.Name)

	_, err = f.manager.Resume(filepath.Join(t.TempDir(), "missing"), "mock", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSwitchWorkspace(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	newDir := t.TempDir()
	require.NoError(t, f.manager.SwitchWorkspace(agent.ID, newDir))

	persisted, err := f.agents.Find(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, newDir, filepath.Clean(persisted.WorkspaceRoot))

	err = f.manager.SwitchWorkspace(agent.ID, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.manager.SwitchWorkspace("nope", newDir)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitWorkflow_RunsToCompletion(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	run := submit(t, f, agent.ID)
	assert.Equal(t, domain.StatusQueued, run.Status)
	assert.Equal(t, 1, run.Attempt)

	final := waitTerminal(t, f, run.ID)
	assert.Equal(t, domain.StatusDone, final.Status)

	// The submission was recorded as chat history.
	msgs, err := f.manager.ChatHistory(agent.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a todo app", msgs[0].Content)
}

func TestSubmitWorkflow_ConflictWhileRunning(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	release := make(chan struct{})
	f.client.GeneratePlanFunc = func(ctx context.Context, description, projectType string) ([]domain.Task, error) {
		<-release
		return []domain.Task{{ID: 1, Title: "t"}}, nil
	}

	run := submit(t, f, agent.ID)

	_, err = f.manager.SubmitWorkflow(SubmitRequest{AgentID: agent.ID, Description: "another"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	close(release)
	waitTerminal(t, f, run.ID)

	// Once terminal, the slot is free again.
	second := submit(t, f, agent.ID)
	waitTerminal(t, f, second.ID)
}

func TestSubmitWorkflow_ConcurrentSubmissions(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	release := make(chan struct{})
	f.client.GeneratePlanFunc = func(ctx context.Context, description, projectType string) ([]domain.Task, error) {
		<-release
		return []domain.Task{{ID: 1, Title: "t"}}, nil
	}

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []*domain.ProjectRun
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := f.manager.SubmitWorkflow(SubmitRequest{
				AgentID:     agent.ID,
				Description: "race",
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, domain.ErrConflict) {
					conflicts++
				}
				return
			}
			succeeded = append(succeeded, run)
		}()
	}
	wg.Wait()
	close(release)

	require.Len(t, succeeded, 1, "exactly one concurrent submission wins")
	assert.Equal(t, n-1, conflicts)
	waitTerminal(t, f, succeeded[0].ID)
}

func TestSubmitWorkflow_UnknownAgent(t *testing.T) {
	f := setup(t)

	_, err := f.manager.SubmitWorkflow(SubmitRequest{AgentID: "nope", Description: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRetry_OnlyFailedRuns(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	run := submit(t, f, agent.ID)
	final := waitTerminal(t, f, run.ID)
	require.Equal(t, domain.StatusDone, final.Status)

	_, err = f.manager.Retry(run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestRetry_FailedRun(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	f.client.GeneratePlanFunc = func(ctx context.Context, description, projectType string) ([]domain.Task, error) {
		return nil, &llm.ProviderError{Provider: "mock", Kind: llm.KindUnavailable, Message: "down"}
	}

	run := submit(t, f, agent.ID)
	failed := waitTerminal(t, f, run.ID)
	require.Equal(t, domain.StatusFailed, failed.Status)
	require.NotEmpty(t, failed.ErrorMessage)

	// Provider is back.
	f.client.GeneratePlanFunc = nil

	retried, err := f.manager.Retry(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, retried.ID, "retry preserves the run id")
	assert.Equal(t, 2, retried.Attempt)
	assert.Empty(t, retried.ErrorMessage)

	final := waitTerminal(t, f, run.ID)
	assert.Equal(t, domain.StatusDone, final.Status)
	assert.Equal(t, 2, final.Attempt)
}

func TestRetry_UnknownRun(t *testing.T) {
	f := setup(t)

	_, err := f.manager.Retry("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelRun(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	started := make(chan struct{})
	var once sync.Once
	f.client.GeneratePlanFunc = func(ctx context.Context, description, projectType string) ([]domain.Task, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}

	run := submit(t, f, agent.ID)
	<-started

	require.NoError(t, f.manager.CancelRun(agent.ID))

	final := waitTerminal(t, f, run.ID)
	assert.Equal(t, domain.StatusFailed, final.Status)
}

func TestListAgents_DerivedStatus(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	summaries, err := f.manager.ListAgents()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.AgentIdle, summaries[0].Status)

	run := submit(t, f, agent.ID)
	waitTerminal(t, f, run.ID)

	summaries, err = f.manager.ListAgents()
	require.NoError(t, err)
	assert.Equal(t, domain.AgentCompleted, summaries[0].Status)
}

func TestListAgents_WorkspaceStats(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	ws, err := f.manager.Workspace(agent.ID)
	require.NoError(t, err)
	require.NoError(t, ws.Write("artifacts/a.txt", []byte("x")))

	summary, err := f.manager.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Workspace.ArtifactCount)
}

func TestDelete_CancelsAndCleansUp(t *testing.T) {
	f := setup(t)

	agent, err := f.manager.Spawn("builder", "mock", "")
	require.NoError(t, err)

	started := make(chan struct{})
	var once sync.Once
	f.client.GeneratePlanFunc = func(ctx context.Context, description, projectType string) ([]domain.Task, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}

	run := submit(t, f, agent.ID)
	<-started

	sub := f.bus.Subscribe(domain.RunTopic(run.ID))

	require.NoError(t, f.manager.Delete(agent.ID))

	_, err = f.agents.Find(agent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.manager.Workspace(agent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The run topic was dropped; the subscription ends.
	deadline := time.After(5 * time.Second)
drain:
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				break drain
			}
		case <-deadline:
			t.Fatal("run topic subscription never closed")
		}
	}

	// Delete waited for the run goroutine, so no straggling publish
	// recreated the topic: a fresh subscriber sees no history.
	fresh := f.bus.Subscribe(domain.RunTopic(run.ID))
	defer fresh.Close()
	select {
	case ev := <-fresh.Events():
		t.Fatalf("dropped topic was recreated with event %q", ev.Message)
	case <-time.After(50 * time.Millisecond):
	}

	// And the slot was released.
	f.manager.mu.Lock()
	_, busy := f.manager.active[agent.ID]
	f.manager.mu.Unlock()
	assert.False(t, busy)
}

func TestRestore_ReattachesWorkspaces(t *testing.T) {
	log := logging.New(nil, "silent")

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	agentStore := store.NewAgentStore(db)
	runs := store.NewRunStore(db)
	eventBus := bus.New(bus.Options{}, log)
	registry := llm.NewRegistry(log)
	registry.Register("mock", &llm.MockClient{})
	eng := engine.New(runs, eventBus, registry, &validate.Mock{}, 3, log)

	base := t.TempDir()
	root := filepath.Join(base, "survivor")
	require.NoError(t, agentStore.Create(&domain.Agent{
		ID:            "agent-1",
		Name:          "survivor",
		WorkspaceRoot: root,
		CreatedAt:     time.Now(),
	}))

	m, err := New(agentStore, runs, eventBus, eng, base, false, log)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ws, err := m.Workspace("agent-1")
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Clean(ws.Root()))
	assert.DirExists(t, root)
}

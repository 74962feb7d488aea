// Package agents owns the agent lifecycle: spawning and resuming agents,
// their workspaces and watchers, and the single-active-run rule that
// serializes workflow submissions per agent.
package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabrikhq/fabrik/internal/bus"
	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/engine"
	"github.com/fabrikhq/fabrik/internal/logging"
	"github.com/fabrikhq/fabrik/internal/store"
	"github.com/fabrikhq/fabrik/internal/workspace"
)

// Manager coordinates agents and routes workflow commands to the engine.
// All mutations of the active-run table happen under one lock, which is
// what makes concurrent submissions race-free.
type Manager struct {
	agents *store.AgentStore
	runs   *store.RunStore
	bus    *bus.Bus
	engine *engine.Engine

	workspaceBase string
	watch         bool

	mu       sync.Mutex
	stores   map[string]*workspace.Store   // agent id → workspace
	watchers map[string]*workspace.Watcher // agent id → watcher, when enabled
	active   map[string]*activeRun         // agent id → in-flight run

	wg  sync.WaitGroup
	log *logging.Logger
}

type activeRun struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{} // closed when the run goroutine exits
}

// New creates a manager and re-attaches workspaces for persisted agents.
func New(agents *store.AgentStore, runs *store.RunStore, b *bus.Bus, eng *engine.Engine, workspaceBase string, watch bool, log *logging.Logger) (*Manager, error) {
	m := &Manager{
		agents:        agents,
		runs:          runs,
		bus:           b,
		engine:        eng,
		workspaceBase: workspaceBase,
		watch:         watch,
		stores:        make(map[string]*workspace.Store),
		watchers:      make(map[string]*workspace.Watcher),
		active:        make(map[string]*activeRun),
		log:           log.Sub("agents"),
	}
	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

// restore re-opens the workspace of every persisted agent. A missing
// workspace directory is recreated rather than treated as fatal.
func (m *Manager) restore() error {
	persisted, err := m.agents.List()
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}
	for _, a := range persisted {
		ws, err := workspace.New(a.WorkspaceRoot)
		if err != nil {
			return fmt.Errorf("restoring workspace for agent %s: %w", a.ID, err)
		}
		m.stores[a.ID] = ws
		m.startWatcher(a.ID, ws)
		m.log.Debug().Str("agent", a.ID).Str("root", a.WorkspaceRoot).Msg("agent restored")
	}
	return nil
}

// startWatcher attaches a filesystem watcher when watching is enabled.
// Watch failures are logged, never fatal.
func (m *Manager) startWatcher(agentID string, ws *workspace.Store) {
	if !m.watch {
		return
	}
	w, err := workspace.Watch(ws, func(ev domain.WorkflowEvent) {
		m.bus.Publish(domain.AgentTopic(agentID), ev)
	}, m.log)
	if err != nil {
		m.log.Warn().Err(err).Str("agent", agentID).Msg("workspace watcher unavailable")
		return
	}
	m.watchers[agentID] = w
}

func (m *Manager) stopWatcher(agentID string) {
	if w, ok := m.watchers[agentID]; ok {
		w.Close()
		delete(m.watchers, agentID)
	}
}

// Spawn creates a new agent with a fresh workspace under the base
// directory. Workspace directory names derive from the agent name, with
// an id suffix when the name is taken.
func (m *Manager) Spawn(name, provider, model string) (*domain.Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	id := uuid.NewString()
	dir := filepath.Join(m.workspaceBase, name)
	if _, err := os.Stat(dir); err == nil {
		dir = filepath.Join(m.workspaceBase, fmt.Sprintf("%s-%s", name, id[:8]))
	}

	ws, err := workspace.New(dir)
	if err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		ID:            id,
		Name:          name,
		Provider:      provider,
		Model:         model,
		WorkspaceRoot: ws.Root(),
		Status:        domain.AgentIdle,
		CreatedAt:     time.Now(),
	}
	if err := m.agents.Create(agent); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stores[id] = ws
	m.startWatcher(id, ws)
	m.mu.Unlock()

	m.log.Info().Str("agent", id).Str("name", name).Str("root", ws.Root()).Msg("agent spawned")
	return agent, nil
}

// Resume registers an agent over an existing workspace directory. The
// agent name is inferred from the directory base name.
func (m *Manager) Resume(workspacePath, provider, model string) (*domain.Agent, error) {
	ws, err := workspace.Attach(workspacePath)
	if err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		ID:            uuid.NewString(),
		Name:          filepath.Base(ws.Root()),
		Provider:      provider,
		Model:         model,
		WorkspaceRoot: ws.Root(),
		Status:        domain.AgentIdle,
		CreatedAt:     time.Now(),
	}
	if err := m.agents.Create(agent); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stores[agent.ID] = ws
	m.startWatcher(agent.ID, ws)
	m.mu.Unlock()

	m.log.Info().Str("agent", agent.ID).Str("root", ws.Root()).Msg("agent resumed")
	return agent, nil
}

// SwitchWorkspace retargets the agent's workspace to an existing directory.
func (m *Manager) SwitchWorkspace(agentID, newPath string) error {
	m.mu.Lock()
	ws, ok := m.stores[agentID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}

	if err := ws.Retarget(newPath); err != nil {
		return err
	}
	if err := m.agents.UpdateWorkspace(agentID, ws.Root()); err != nil {
		return err
	}

	// The old watcher is still pointed at the previous root.
	m.mu.Lock()
	m.stopWatcher(agentID)
	m.startWatcher(agentID, ws)
	m.mu.Unlock()

	m.log.Info().Str("agent", agentID).Str("root", ws.Root()).Msg("workspace switched")
	return nil
}

// Workspace returns the agent's workspace store.
func (m *Manager) Workspace(agentID string) (*workspace.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.stores[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	return ws, nil
}

// Get returns one agent with derived status and live workspace stats.
func (m *Manager) Get(agentID string) (*domain.AgentSummary, error) {
	agent, err := m.agents.Find(agentID)
	if err != nil {
		return nil, err
	}
	return m.summarize(*agent)
}

// ListAgents returns all agents with derived status and live workspace
// stats. Stats are computed by scanning, never cached.
func (m *Manager) ListAgents() ([]domain.AgentSummary, error) {
	persisted, err := m.agents.List()
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.AgentSummary, 0, len(persisted))
	for _, a := range persisted {
		s, err := m.summarize(a)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *s)
	}
	return summaries, nil
}

func (m *Manager) summarize(a domain.Agent) (*domain.AgentSummary, error) {
	a.Status = domain.AgentIdle
	if active, err := m.runs.Active(a.ID); err != nil {
		return nil, err
	} else if active != nil {
		a.Status = domain.AgentRunning
	} else if latest, err := m.runs.Latest(a.ID); err != nil {
		return nil, err
	} else if latest != nil {
		switch latest.Status {
		case domain.StatusDone:
			a.Status = domain.AgentCompleted
		case domain.StatusFailed:
			a.Status = domain.AgentFailed
		}
	}

	summary := &domain.AgentSummary{Agent: a}
	m.mu.Lock()
	ws, ok := m.stores[a.ID]
	m.mu.Unlock()
	if ok {
		summary.Workspace = ws.Stats()
	}
	return summary, nil
}

// SubmitRequest carries the parameters of a new workflow submission.
type SubmitRequest struct {
	AgentID      string `json:"agentId"`
	Description  string `json:"description"`
	ProjectType  string `json:"projectType"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	WithTests    bool   `json:"withTests"`
	ValidateCode bool   `json:"validateCode"`
}

// SubmitWorkflow starts a new run for the agent. At most one non-terminal
// run may exist per agent; a second concurrent submission gets
// domain.ErrConflict.
func (m *Manager) SubmitWorkflow(req SubmitRequest) (*domain.ProjectRun, error) {
	if req.Description == "" {
		return nil, fmt.Errorf("description is required")
	}

	agent, err := m.agents.Find(req.AgentID)
	if err != nil {
		return nil, err
	}

	provider := req.Provider
	if provider == "" {
		provider = agent.Provider
	}
	model := req.Model
	if model == "" {
		model = agent.Model
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.stores[agent.ID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agent.ID, domain.ErrNotFound)
	}

	if _, busy := m.active[agent.ID]; busy {
		return nil, domain.ErrConflict
	}
	// The table only covers this process; a prior daemon may have left a
	// non-terminal record behind.
	if existing, err := m.runs.Active(agent.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrConflict
	}

	now := time.Now()
	run := &domain.ProjectRun{
		ID:           uuid.NewString(),
		AgentID:      agent.ID,
		Description:  req.Description,
		ProjectType:  req.ProjectType,
		Provider:     provider,
		Model:        model,
		WithTests:    req.WithTests,
		ValidateCode: req.ValidateCode,
		Status:       domain.StatusQueued,
		Attempt:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.runs.Create(run); err != nil {
		return nil, err
	}

	if err := m.agents.AddChatMessage(agent.ID, domain.ChatMessage{
		Role:    "user",
		Content: req.Description,
	}); err != nil {
		m.log.Warn().Err(err).Str("agent", agent.ID).Msg("failed to record chat message")
	}

	m.launch(agent.ID, run, ws, false)

	// The engine goroutine owns the run record from here; hand back a copy.
	snapshot := *run
	return &snapshot, nil
}

// Retry re-enters a failed run at generating. The run id is preserved, the
// error message cleared, and the attempt counter bumped. Only failed runs
// are retryable.
func (m *Manager) Retry(runID string) (*domain.ProjectRun, error) {
	run, err := m.runs.Find(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.StatusFailed {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, domain.ErrInvalidStatus)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.stores[run.AgentID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", run.AgentID, domain.ErrNotFound)
	}
	if _, busy := m.active[run.AgentID]; busy {
		return nil, domain.ErrConflict
	}

	run.Status = domain.StatusGenerating
	run.ErrorMessage = ""
	run.CompletedAt = nil
	run.Attempt++
	if err := m.runs.Update(run); err != nil {
		return nil, err
	}

	m.launch(run.AgentID, run, ws, true)

	snapshot := *run
	return &snapshot, nil
}

// launch starts the run goroutine. Caller holds m.mu.
func (m *Manager) launch(agentID string, run *domain.ProjectRun, ws *workspace.Store, resume bool) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &activeRun{runID: run.ID, cancel: cancel, done: make(chan struct{})}
	m.active[agentID] = a

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(a.done)
		defer cancel()
		defer m.untrack(agentID, run.ID)

		if resume {
			m.engine.Resume(ctx, run, ws)
		} else {
			m.engine.Execute(ctx, run, ws)
		}
	}()
}

func (m *Manager) untrack(agentID, runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.active[agentID]; ok && a.runID == runID {
		delete(m.active, agentID)
	}
}

// CancelRun cooperatively cancels the agent's in-flight run. The run moves
// to failed once it observes the cancellation between steps.
func (m *Manager) CancelRun(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[agentID]
	if !ok {
		return fmt.Errorf("agent %s has no active run: %w", agentID, domain.ErrNotFound)
	}
	a.cancel()
	return nil
}

// Delete removes an agent: cancels its in-flight run, drops its bus topics,
// and deletes its records. Workspace files stay on disk.
func (m *Manager) Delete(agentID string) error {
	runs, err := m.runs.List(store.RunFilter{AgentID: agentID})
	if err != nil {
		return err
	}

	m.mu.Lock()
	a := m.active[agentID]
	if a != nil {
		a.cancel()
	}
	m.stopWatcher(agentID)
	delete(m.stores, agentID)
	m.mu.Unlock()

	// Let the run goroutine finalize (persist failed, emit finished)
	// before its rows and topics disappear underneath it.
	if a != nil {
		<-a.done
	}

	if err := m.agents.Delete(agentID); err != nil {
		return err
	}

	m.bus.DropTopic(domain.AgentTopic(agentID))
	for _, r := range runs {
		m.bus.DropTopic(domain.RunTopic(r.ID))
	}

	m.log.Info().Str("agent", agentID).Msg("agent deleted")
	return nil
}

// ChatHistory returns the agent's recorded conversation.
func (m *Manager) ChatHistory(agentID string) ([]domain.ChatMessage, error) {
	if _, err := m.agents.Find(agentID); err != nil {
		return nil, err
	}
	return m.agents.ChatHistory(agentID)
}

// Close cancels all in-flight runs and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, a := range m.active {
		a.cancel()
	}
	for id := range m.watchers {
		m.watchers[id].Close()
		delete(m.watchers, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("agent manager stopped")
}

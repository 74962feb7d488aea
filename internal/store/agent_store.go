package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// AgentStore persists agent records and their append-only chat history.
type AgentStore struct {
	db *DB
}

// NewAgentStore creates an agent store using the given database.
func NewAgentStore(db *DB) *AgentStore {
	return &AgentStore{db: db}
}

// Create inserts a new agent record.
func (s *AgentStore) Create(a *domain.Agent) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO agents (id, name, provider, model, workspace_root, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Provider, a.Model, a.WorkspaceRoot, a.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// Find returns the agent with the given id, or domain.ErrNotFound.
func (s *AgentStore) Find(id string) (*domain.Agent, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, name, provider, model, workspace_root, created_at
		 FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// List returns all agents, oldest first.
func (s *AgentStore) List() ([]domain.Agent, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, name, provider, model, workspace_root, created_at
		 FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateWorkspace records a retargeted workspace root.
func (s *AgentStore) UpdateWorkspace(id, root string) error {
	res, err := s.db.sql.Exec(`UPDATE agents SET workspace_root = ? WHERE id = ?`, root, id)
	if err != nil {
		return fmt.Errorf("updating agent workspace: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes an agent and, via cascade, its runs and chat history.
func (s *AgentStore) Delete(id string) error {
	res, err := s.db.sql.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddChatMessage appends a message to the agent's chat history.
func (s *AgentStore) AddChatMessage(agentID string, msg domain.ChatMessage) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO chat_history (agent_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		agentID, msg.Role, msg.Content, created.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}
	return nil
}

// ChatHistory returns the agent's chat history in insertion order.
func (s *AgentStore) ChatHistory(agentID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.sql.Query(
		`SELECT role, content, created_at FROM chat_history WHERE agent_id = ? ORDER BY id`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("listing chat history: %w", err)
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var (
			msg     domain.ChatMessage
			created string
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(timeLayout, created)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var (
		a       domain.Agent
		created string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Provider, &a.Model, &a.WorkspaceRoot, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return &a, nil
}

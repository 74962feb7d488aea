package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// timeLayout is the canonical timestamp format in the database.
const timeLayout = time.RFC3339Nano

// RunStore persists project runs. The owning engine task is the only
// writer for a given run; reads may come from anywhere.
type RunStore struct {
	db *DB
}

// NewRunStore creates a run store using the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// RunFilter narrows List results.
type RunFilter struct {
	AgentID string
	Status  domain.RunStatus
	Limit   int
}

// Create inserts a new run record.
func (s *RunStore) Create(run *domain.ProjectRun) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO runs (id, agent_id, description, project_type, provider, model,
			with_tests, validate_code, status, attempt, created_at, updated_at,
			completed_at, artifact_path, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentID, run.Description, run.ProjectType, run.Provider, run.Model,
		boolToInt(run.WithTests), boolToInt(run.ValidateCode), string(run.Status),
		run.Attempt, run.CreatedAt.Format(timeLayout), run.UpdatedAt.Format(timeLayout),
		formatNullableTime(run.CompletedAt), run.ArtifactPath, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a run and bumps updated_at.
func (s *RunStore) Update(run *domain.ProjectRun) error {
	run.UpdatedAt = time.Now()
	res, err := s.db.sql.Exec(
		`UPDATE runs SET status = ?, attempt = ?, updated_at = ?, completed_at = ?,
			artifact_path = ?, error_message = ?
		 WHERE id = ?`,
		string(run.Status), run.Attempt, run.UpdatedAt.Format(timeLayout),
		formatNullableTime(run.CompletedAt), run.ArtifactPath, run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Find returns the run with the given id, or domain.ErrNotFound.
func (s *RunStore) Find(id string) (*domain.ProjectRun, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, agent_id, description, project_type, provider, model,
			with_tests, validate_code, status, attempt, created_at, updated_at,
			completed_at, artifact_path, error_message
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// Active returns the agent's non-terminal run, or nil if every run for the
// agent has reached a terminal status.
func (s *RunStore) Active(agentID string) (*domain.ProjectRun, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, agent_id, description, project_type, provider, model,
			with_tests, validate_code, status, attempt, created_at, updated_at,
			completed_at, artifact_path, error_message
		 FROM runs WHERE agent_id = ? AND status NOT IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		agentID, string(domain.StatusDone), string(domain.StatusFailed))
	run, err := scanRun(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return run, err
}

// Latest returns the agent's most recent run, or nil if the agent has none.
func (s *RunStore) Latest(agentID string) (*domain.ProjectRun, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, agent_id, description, project_type, provider, model,
			with_tests, validate_code, status, attempt, created_at, updated_at,
			completed_at, artifact_path, error_message
		 FROM runs WHERE agent_id = ? ORDER BY created_at DESC LIMIT 1`, agentID)
	run, err := scanRun(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return run, err
}

// List returns runs matching the filter, newest first.
func (s *RunStore) List(filter RunFilter) ([]domain.ProjectRun, error) {
	query := `SELECT id, agent_id, description, project_type, provider, model,
			with_tests, validate_code, status, attempt, created_at, updated_at,
			completed_at, artifact_path, error_message
		 FROM runs WHERE 1=1`
	var args []any
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ProjectRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.ProjectRun, error) {
	var (
		run                 domain.ProjectRun
		withTests, validate int
		status              string
		created, updated    string
		completed           sql.NullString
	)
	err := row.Scan(
		&run.ID, &run.AgentID, &run.Description, &run.ProjectType, &run.Provider,
		&run.Model, &withTests, &validate, &status, &run.Attempt,
		&created, &updated, &completed, &run.ArtifactPath, &run.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	run.WithTests = withTests != 0
	run.ValidateCode = validate != 0
	run.Status = domain.RunStatus(status)
	run.CreatedAt, _ = time.Parse(timeLayout, created)
	run.UpdatedAt, _ = time.Parse(timeLayout, updated)
	if completed.Valid && completed.String != "" {
		t, err := time.Parse(timeLayout, completed.String)
		if err == nil {
			run.CompletedAt = &t
		}
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

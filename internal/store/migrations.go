package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents and runs",
		SQL: `
			CREATE TABLE agents (
				id             TEXT PRIMARY KEY,
				name           TEXT NOT NULL,
				provider       TEXT NOT NULL,
				model          TEXT NOT NULL DEFAULT '',
				workspace_root TEXT NOT NULL,
				created_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_agents_name ON agents (name);

			CREATE TABLE runs (
				id            TEXT PRIMARY KEY,
				agent_id      TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
				description   TEXT NOT NULL,
				project_type  TEXT NOT NULL,
				provider      TEXT NOT NULL,
				model         TEXT NOT NULL DEFAULT '',
				with_tests    INTEGER NOT NULL DEFAULT 0,
				validate_code INTEGER NOT NULL DEFAULT 0,
				status        TEXT NOT NULL,
				attempt       INTEGER NOT NULL DEFAULT 1,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL,
				completed_at  TEXT,
				artifact_path TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_runs_agent ON runs (agent_id, created_at);
			CREATE INDEX idx_runs_status ON runs (status);
		`,
	},
	{
		Version: 2,
		Name:    "create chat history",
		SQL: `
			CREATE TABLE chat_history (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
				role       TEXT NOT NULL,
				content    TEXT NOT NULL,
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_chat_history_agent ON chat_history (agent_id, id);
		`,
	},
}

package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".fabrik"

// Paths holds resolved filesystem paths for Fabrik data.
type Paths struct {
	Base       string // ~/.fabrik
	Config     string // ~/.fabrik/config.yaml
	Workspaces string // ~/.fabrik/workspaces
	Data       string // ~/.fabrik/data
	Logs       string // ~/.fabrik/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If FABRIK_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("FABRIK_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:       base,
		Config:     filepath.Join(base, "config.yaml"),
		Workspaces: filepath.Join(base, "workspaces"),
		Data:       filepath.Join(base, "data"),
		Logs:       filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Workspaces, p.Data, p.Logs}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the configured database path, defaulting to the
// standard data directory.
func (p Paths) DatabasePath(cfg DatabaseConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "fabrik.db")
}

// WorkspaceBase returns the configured workspace base, defaulting to the
// standard workspaces directory.
func (p Paths) WorkspaceBase(cfg WorkspaceConfig) string {
	if cfg.BaseDir != "" {
		return cfg.BaseDir
	}
	return p.Workspaces
}

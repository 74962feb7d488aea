package workspace

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// Well-known workspace subdirectories.
const (
	ArtifactsDir = "artifacts"
	PlansDir     = "artifacts/plans"
	ApprovalsDir = "artifacts/approvals"
)

// Approval is a recorded human-in-the-loop request, written when a run
// finishes in a state that needs review.
type Approval struct {
	ID       string         `json:"id"`
	Summary  string         `json:"summary"`
	Changes  map[string]any `json:"changes,omitempty"`
	Approved *bool          `json:"approved"`
}

// Stats scans the workspace and returns live counts. Nothing is cached:
// the dashboard always sees the current tree.
func (s *Store) Stats() domain.WorkspaceStats {
	s.mu.RLock()
	root := s.root
	s.mu.RUnlock()

	var stats domain.WorkspaceStats
	artifactsRoot := filepath.Join(root, ArtifactsDir)
	approvalsRoot := filepath.Join(root, filepath.FromSlash(ApprovalsDir))

	filepath.WalkDir(artifactsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasPrefix(path, approvalsRoot+string(filepath.Separator)) {
			if pendingApproval(path) {
				stats.PendingApprovals++
			}
			return nil
		}
		stats.ArtifactCount++
		return nil
	})
	return stats
}

// pendingApproval reports whether the approval file has no decision yet.
func pendingApproval(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var a Approval
	if err := json.Unmarshal(data, &a); err != nil {
		return false
	}
	return a.Approved == nil
}

// RecordApproval writes an approval request into the workspace.
func (s *Store) RecordApproval(a Approval) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return s.Write(filepath.ToSlash(filepath.Join(ApprovalsDir, a.ID+".json")), data)
}

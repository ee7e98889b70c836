// Package merge applies workspace branches to the mainline one at a time,
// in caller-supplied order, stopping at the first conflict.
package merge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/worktree"
)

// WorkspaceError records a merge failure for one workspace.
type WorkspaceError struct {
	WorkspaceID string `json:"workspace_id"`
	Branch      string `json:"branch"`
	Error       string `json:"error"`
}

// Result describes one merge run.
type Result struct {
	Success          bool             `json:"success"`
	MergedWorkspaces []string         `json:"merged_workspaces"`
	Errors           []WorkspaceError `json:"errors,omitempty"`
	ConflictFiles    []string         `json:"conflict_files,omitempty"`
}

// Coordinator merges workspace branches into a target branch.
type Coordinator struct {
	db     *db.DB
	wt     *worktree.Manager
	logger *zap.Logger
}

// NewCoordinator creates a merge coordinator. A nil logger disables logging.
func NewCoordinator(database *db.DB, wt *worktree.Manager, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{db: database, wt: wt, logger: logger}
}

// Merge processes workspace IDs in the given order. Already-merged
// workspaces are skipped. A conflicted merge stops the run immediately:
// later workspaces are left untouched until the operator resolves the
// conflict and retries.
func (c *Coordinator) Merge(workspaceIDs []string, targetBranch string) *Result {
	result := &Result{Success: true}

	if len(workspaceIDs) == 0 {
		return result
	}

	if err := c.wt.Checkout(targetBranch); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, WorkspaceError{Error: fmt.Sprintf("checkout %s: %v", targetBranch, err)})
		return result
	}

	for _, id := range workspaceIDs {
		ws, err := c.db.GetWorkspace(id)
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, WorkspaceError{WorkspaceID: id, Error: err.Error()})
			continue
		}
		if ws.Status == db.WorkspaceMerged {
			continue
		}

		if err := c.wt.Merge(ws.BranchName); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, WorkspaceError{WorkspaceID: id, Branch: ws.BranchName, Error: err.Error()})

			var conflict *worktree.ConflictError
			if errors.As(err, &conflict) {
				result.ConflictFiles = conflict.Files
				c.logger.Warn("merge conflict, stopping run",
					zap.String("workspace", id),
					zap.String("branch", ws.BranchName),
					zap.Strings("files", conflict.Files))
				break
			}
			continue
		}

		if err := c.db.UpdateWorkspaceStatus(id, db.WorkspaceMerged); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, WorkspaceError{WorkspaceID: id, Branch: ws.BranchName, Error: fmt.Sprintf("mark merged: %v", err)})
			continue
		}
		_ = c.db.LogWorkspaceEvent(ws.SessionID, id, "merged", fmt.Sprintf("into=%s", targetBranch))
		result.MergedWorkspaces = append(result.MergedWorkspaces, id)
	}

	return result
}

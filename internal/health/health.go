// Package health reconciles the workspace ledger against the git worktree
// state, producing typed issues with deterministic repairs.
package health

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/workspace"
	"github.com/lucasnoah/convoy/internal/worktree"
)

// IssueKind identifies one class of ledger/VCS inconsistency.
type IssueKind string

const (
	// IssueOrphanedVCS is worktree metadata git reports as prunable.
	IssueOrphanedVCS IssueKind = "orphaned_vcs"
	// IssueStaleLedger is an active ledger row with no matching worktree.
	IssueStaleLedger IssueKind = "stale_ledger"
	// IssueLocked is a worktree git reports as locked.
	IssueLocked IssueKind = "locked"
	// IssueMissingDir is an active ledger row whose directory is gone even
	// though git still lists the worktree.
	IssueMissingDir IssueKind = "missing_dir"
	// IssueAbandoned is an active ledger row older than the age threshold.
	IssueAbandoned IssueKind = "abandoned"
)

// Issue describes one inconsistency found during a health check. Issues are
// computed fresh on every check and never persisted.
type Issue struct {
	Kind          IssueKind `json:"kind"`
	Description   string    `json:"description"`
	WorkspacePath string    `json:"workspace_path,omitempty"`
	BranchName    string    `json:"branch_name,omitempty"`
	LedgerID      string    `json:"ledger_id,omitempty"`
	AutoFixable   bool      `json:"auto_fixable"`
}

// Report is the result of one health check.
type Report struct {
	Healthy             bool                `json:"healthy"`
	UnderVersionControl bool                `json:"under_version_control"`
	VCSWorkspaces       []worktree.Worktree `json:"vcs_workspaces,omitempty"`
	LedgerWorkspaces    []db.Workspace      `json:"ledger_workspaces,omitempty"`
	Issues              []Issue             `json:"issues,omitempty"`
}

// Checker reconciles ledger and VCS workspace state.
type Checker struct {
	db     *db.DB
	wt     *worktree.Manager
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewChecker creates a health checker. maxAge controls the abandoned-by-age
// threshold; zero means the default 24 hours. A nil logger disables logging.
func NewChecker(database *db.DB, wt *worktree.Manager, maxAge time.Duration, logger *zap.Logger) *Checker {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{db: database, wt: wt, maxAge: maxAge, logger: logger, now: time.Now}
}

// SetNow overrides the clock. For tests.
func (c *Checker) SetNow(now func() time.Time) {
	c.now = now
}

// CheckHealth compares the ledger's view of a session against git's. A
// repository that is not under version control is healthy with no issues.
// Enumeration failures degrade to an empty list rather than failing the
// check.
func (c *Checker) CheckHealth(sessionID string) *Report {
	report := &Report{Healthy: true, UnderVersionControl: true}

	if !c.wt.IsRepo() {
		report.UnderVersionControl = false
		return report
	}

	vcs, err := c.wt.List()
	vcsOK := err == nil
	if err != nil {
		c.logger.Warn("enumerating worktrees failed, treating as empty", zap.Error(err))
		vcs = nil
	}
	ledger, err := c.db.ListWorkspaces(sessionID, "")
	if err != nil {
		c.logger.Warn("enumerating ledger failed, treating as empty", zap.Error(err))
		ledger = nil
	}
	report.VCSWorkspaces = vcs
	report.LedgerWorkspaces = ledger

	byPath := make(map[string]worktree.Worktree, len(vcs))
	for _, wt := range vcs {
		byPath[wt.Path] = wt

		if wt.Path == c.wt.RepoDir() {
			continue
		}
		if wt.Locked {
			report.Issues = append(report.Issues, Issue{
				Kind:          IssueLocked,
				Description:   fmt.Sprintf("worktree %s is locked (%s)", wt.Path, wt.LockReason),
				WorkspacePath: wt.Path,
				BranchName:    wt.Branch,
				AutoFixable:   true,
			})
		}
		if wt.Prunable {
			report.Issues = append(report.Issues, Issue{
				Kind:          IssueOrphanedVCS,
				Description:   fmt.Sprintf("worktree %s has prunable metadata (%s)", wt.Path, wt.PruneReason),
				WorkspacePath: wt.Path,
				BranchName:    wt.Branch,
				AutoFixable:   true,
			})
		}
	}

	cutoff := c.now().Add(-c.maxAge)
	for _, ws := range ledger {
		if ws.Status != db.WorkspaceActive {
			continue
		}

		// Reconciliation against git is only meaningful when the worktree
		// enumeration actually succeeded. A failed enumeration would make
		// every active row look stale.
		if vcsOK {
			if _, known := byPath[ws.Path]; !known {
				report.Issues = append(report.Issues, Issue{
					Kind:          IssueStaleLedger,
					Description:   fmt.Sprintf("ledger row %s points at %s but git has no such worktree", ws.ID, ws.Path),
					WorkspacePath: ws.Path,
					BranchName:    ws.BranchName,
					LedgerID:      ws.ID,
					AutoFixable:   true,
				})
			} else if _, err := os.Stat(ws.Path); os.IsNotExist(err) {
				report.Issues = append(report.Issues, Issue{
					Kind:          IssueMissingDir,
					Description:   fmt.Sprintf("worktree directory %s is missing from disk", ws.Path),
					WorkspacePath: ws.Path,
					BranchName:    ws.BranchName,
					LedgerID:      ws.ID,
					AutoFixable:   true,
				})
			}
		}

		// Age check is independent of the consistency checks above, so one
		// workspace can carry multiple issues.
		if createdAt, err := time.Parse(time.RFC3339, ws.CreatedAt); err == nil && createdAt.Before(cutoff) {
			report.Issues = append(report.Issues, Issue{
				Kind:          IssueAbandoned,
				Description:   fmt.Sprintf("workspace %s has been active since %s", ws.ID, ws.CreatedAt),
				WorkspacePath: ws.Path,
				BranchName:    ws.BranchName,
				LedgerID:      ws.ID,
				AutoFixable:   true,
			})
		}
	}

	report.Healthy = len(report.Issues) == 0
	return report
}

// RepairFailure records one repair that did not complete.
type RepairFailure struct {
	Issue Issue  `json:"issue"`
	Error string `json:"error"`
}

// RepairResult enumerates per-issue outcomes so the operator sees exactly
// what was fixed and what still needs attention.
type RepairResult struct {
	Success bool            `json:"success"`
	Fixed   []string        `json:"fixed"`
	Failed  []RepairFailure `json:"failed"`
}

// Repair applies the corrective action for each issue. Repairs run
// independently and continue past individual failures; a final prune sweeps
// residual metadata regardless of outcomes.
func (c *Checker) Repair(sessionID string, issues []Issue) *RepairResult {
	result := &RepairResult{Success: true}

	for _, issue := range issues {
		if err := c.repairOne(issue); err != nil {
			result.Failed = append(result.Failed, RepairFailure{Issue: issue, Error: err.Error()})
			continue
		}
		result.Fixed = append(result.Fixed, fmt.Sprintf("%s: %s", issue.Kind, issue.Description))
		_ = c.db.LogWorkspaceEvent(sessionID, issue.LedgerID, "repaired", string(issue.Kind))
	}

	if err := c.wt.Prune(); err != nil {
		c.logger.Warn("final prune failed", zap.Error(err))
	}

	result.Success = len(result.Failed) == 0
	return result
}

func (c *Checker) repairOne(issue Issue) error {
	switch issue.Kind {
	case IssueOrphanedVCS:
		return c.wt.Prune()
	case IssueLocked:
		if err := c.wt.Unlock(issue.WorkspacePath); err != nil {
			return err
		}
		return c.wt.RemoveForce(issue.WorkspacePath)
	case IssueStaleLedger, IssueMissingDir:
		// Mark abandoned rather than delete, so audit history survives.
		return c.db.UpdateWorkspaceStatus(issue.LedgerID, db.WorkspaceAbandoned)
	case IssueAbandoned:
		if err := c.wt.RemoveForce(issue.WorkspacePath); err != nil {
			c.logger.Warn("force-remove during abandon repair failed", zap.String("path", issue.WorkspacePath), zap.Error(err))
		}
		if err := os.RemoveAll(issue.WorkspacePath); err != nil {
			return fmt.Errorf("remove directory: %w", err)
		}
		return c.db.UpdateWorkspaceStatus(issue.LedgerID, db.WorkspaceAbandoned)
	default:
		return fmt.Errorf("unknown issue kind %q", issue.Kind)
	}
}

// CleanupFailure records one cleanup sub-operation that failed. Cleanup is
// best-effort; failures are collected, not fatal.
type CleanupFailure struct {
	Op     string `json:"op"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

// CleanupResult aggregates the independent sub-operations of a full cleanup.
type CleanupResult struct {
	RemovedWorktrees []string         `json:"removed_worktrees"`
	AbandonedLedger  []string         `json:"abandoned_ledger"`
	DeletedBranches  []string         `json:"deleted_branches"`
	Failures         []CleanupFailure `json:"failures,omitempty"`
}

// FullCleanup is the nuclear option: remove every worktree except the repo
// root, prune, mark all active ledger rows abandoned, delete the worktree
// staging directory, and delete leftover feature branches. Each sub-operation
// continues past individual failures.
func (c *Checker) FullCleanup(sessionID string) *CleanupResult {
	result := &CleanupResult{}

	worktrees, err := c.wt.List()
	if err != nil {
		c.logger.Warn("enumerating worktrees for cleanup failed", zap.Error(err))
	}
	for _, wt := range worktrees {
		if wt.Path == c.wt.RepoDir() {
			continue
		}
		if err := c.wt.RemoveForce(wt.Path); err != nil {
			result.Failures = append(result.Failures, CleanupFailure{Op: "remove_worktree", Target: wt.Path, Error: err.Error()})
			continue
		}
		result.RemovedWorktrees = append(result.RemovedWorktrees, wt.Path)
	}

	if err := c.wt.Prune(); err != nil {
		result.Failures = append(result.Failures, CleanupFailure{Op: "prune", Error: err.Error()})
	}

	active, err := c.db.ListWorkspaces(sessionID, db.WorkspaceActive)
	if err != nil {
		result.Failures = append(result.Failures, CleanupFailure{Op: "list_ledger", Error: err.Error()})
	}
	for _, ws := range active {
		if err := c.db.UpdateWorkspaceStatus(ws.ID, db.WorkspaceAbandoned); err != nil {
			result.Failures = append(result.Failures, CleanupFailure{Op: "abandon_ledger", Target: ws.ID, Error: err.Error()})
			continue
		}
		result.AbandonedLedger = append(result.AbandonedLedger, ws.ID)
		_ = c.db.LogWorkspaceEvent(sessionID, ws.ID, "abandoned", "full cleanup")
	}

	if err := os.RemoveAll(c.wt.BaseDir()); err != nil {
		result.Failures = append(result.Failures, CleanupFailure{Op: "remove_base_dir", Target: c.wt.BaseDir(), Error: err.Error()})
	}

	// Leftover branch deletions are non-critical: keep going past failures.
	branches, err := c.wt.ListBranches(workspace.BranchPattern)
	if err != nil {
		result.Failures = append(result.Failures, CleanupFailure{Op: "list_branches", Error: err.Error()})
	}
	for _, branch := range branches {
		if err := c.wt.DeleteBranch(branch); err != nil {
			result.Failures = append(result.Failures, CleanupFailure{Op: "delete_branch", Target: branch, Error: err.Error()})
			continue
		}
		result.DeletedBranches = append(result.DeletedBranches, branch)
	}

	return result
}

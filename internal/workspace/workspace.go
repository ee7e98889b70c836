// Package workspace creates and lists the isolated, branch-backed checkouts
// that requirements execute in. The ledger is the source of truth; the git
// worktree is the on-disk realization.
package workspace

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/worktree"
)

// BranchName returns the branch naming convention for a workspace.
func BranchName(sessionID string, requirementID string) string {
	return fmt.Sprintf("convoy/%s/%s", sessionID, requirementID)
}

// BranchPattern matches all branches created by this tool, for cleanup.
const BranchPattern = "convoy/*"

// Manager creates workspaces against the ledger and the git worktree state.
type Manager struct {
	db       *db.DB
	wt       *worktree.Manager
	mainline string
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a workspace manager. A nil logger disables logging.
func NewManager(database *db.DB, wt *worktree.Manager, mainline string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: database, wt: wt, mainline: mainline, logger: logger, now: time.Now}
}

// SetNow overrides the clock. For tests.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// CreateOpts holds options for creating a workspace.
type CreateOpts struct {
	SessionID     string
	RequirementID string
	Branch        string // override auto-generated branch name
}

// Create makes a branch-backed worktree for a requirement and records it in
// the ledger. The ledger's partial unique index rejects a second active
// workspace for the same (session, requirement) pair.
func (m *Manager) Create(opts CreateOpts) (*db.Workspace, error) {
	if opts.SessionID == "" || opts.RequirementID == "" {
		return nil, fmt.Errorf("session and requirement are required")
	}

	branch := opts.Branch
	if branch == "" {
		branch = BranchName(opts.SessionID, opts.RequirementID)
	}
	// The session id keeps concurrent sessions working the same requirement
	// on distinct paths, mirroring the branch naming.
	path := filepath.Join(m.wt.BaseDir(), opts.SessionID, opts.RequirementID)

	if err := m.wt.Add(path, branch, m.mainline); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	ws := db.Workspace{
		ID:            uuid.New().String(),
		SessionID:     opts.SessionID,
		RequirementID: opts.RequirementID,
		BranchName:    branch,
		Path:          path,
		Status:        db.WorkspaceActive,
		CreatedAt:     m.now().UTC().Format(time.RFC3339),
	}
	if err := m.db.CreateWorkspace(ws); err != nil {
		// Roll the worktree back so git and ledger stay reconciled.
		if rmErr := m.wt.RemoveForce(path); rmErr != nil {
			m.logger.Warn("rollback worktree failed", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("record workspace: %w", err)
	}

	_ = m.db.LogWorkspaceEvent(ws.SessionID, ws.ID, "created", fmt.Sprintf("branch=%s", branch))
	m.logger.Info("workspace created",
		zap.String("session", ws.SessionID),
		zap.String("requirement", ws.RequirementID),
		zap.String("branch", branch),
		zap.String("path", path))
	return &ws, nil
}

// List returns the ledger's workspaces for a session, optionally filtered by
// status.
func (m *Manager) List(sessionID string, status string) ([]db.Workspace, error) {
	return m.db.ListWorkspaces(sessionID, status)
}

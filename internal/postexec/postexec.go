// Package postexec runs the post-execution pipeline: merge, acceptance gate,
// staging deploy, then production deploy behind an explicit approval prompt.
// The phases form a strict waterfall; a failed phase ends the run and the
// operator re-invokes after remediation.
package postexec

import (
	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/accept"
	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/deploy"
	"github.com/lucasnoah/convoy/internal/merge"
)

// Merger applies workspace branches to a target branch.
type Merger interface {
	Merge(workspaceIDs []string, targetBranch string) *merge.Result
}

// TestRunner runs the acceptance gate for a set of requirements.
type TestRunner interface {
	RunTests(requirementIDs []string) *accept.TestResults
}

// Approver asks a human whether to deploy to production. An error or an
// interrupted prompt counts as a decline.
type Approver interface {
	ApproveProduction(stagingURL string) (bool, error)
}

// Result aggregates every phase of one pipeline run.
type Result struct {
	Skipped            bool                `json:"skipped,omitempty"`
	SkipReason         string              `json:"skip_reason,omitempty"`
	Merge              *merge.Result       `json:"merge,omitempty"`
	Tests              *accept.TestResults `json:"tests,omitempty"`
	StagingDeployed    bool                `json:"staging_deployed"`
	Staging            *deploy.Result      `json:"staging,omitempty"`
	ProductionApproved bool                `json:"production_approved"`
	ProductionDeployed bool                `json:"production_deployed"`
	Production         *deploy.Result      `json:"production,omitempty"`
}

// RemoteChecker reports whether the repository has a deployment remote.
type RemoteChecker interface {
	HasRemote() bool
}

// Pipeline wires the phases together.
type Pipeline struct {
	db                *db.DB
	remote            RemoteChecker
	merger            Merger
	gate              TestRunner
	deployer          deploy.Deployer
	approver          Approver
	mainline          string
	stagingConfigured bool
	logger            *zap.Logger
}

// NewPipeline creates a pipeline. A nil logger disables logging.
func NewPipeline(database *db.DB, remote RemoteChecker, merger Merger, gate TestRunner,
	deployer deploy.Deployer, approver Approver, mainline string, stagingConfigured bool,
	logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		db:                database,
		remote:            remote,
		merger:            merger,
		gate:              gate,
		deployer:          deployer,
		approver:          approver,
		mainline:          mainline,
		stagingConfigured: stagingConfigured,
		logger:            logger,
	}
}

// Run executes the pipeline for the given workspaces.
func (p *Pipeline) Run(workspaceIDs []string) *Result {
	result := &Result{}

	// Phase 1: environment pre-check.
	if !p.remote.HasRemote() {
		result.Skipped = true
		result.SkipReason = "no remote configured"
		p.logger.Info("pipeline skipped", zap.String("reason", result.SkipReason))
		return result
	}
	if !p.stagingConfigured {
		result.Skipped = true
		result.SkipReason = "no staging deploy command configured"
		p.logger.Info("pipeline skipped", zap.String("reason", result.SkipReason))
		return result
	}

	// Phase 2: merge. Partial results are kept for triage.
	result.Merge = p.merger.Merge(workspaceIDs, p.mainline)
	if !result.Merge.Success {
		p.logger.Warn("merge phase failed",
			zap.Int("merged", len(result.Merge.MergedWorkspaces)),
			zap.Int("errors", len(result.Merge.Errors)),
			zap.Strings("conflict_files", result.Merge.ConflictFiles))
		return result
	}

	// Phase 3: acceptance gate over the requirements that actually merged.
	result.Tests = p.gate.RunTests(p.requirementIDs(result.Merge.MergedWorkspaces))
	if !result.Tests.Passed {
		p.logger.Warn("acceptance gate failed",
			zap.Int("failed", result.Tests.FailedCount),
			zap.Int("total", result.Tests.Total))
		return result
	}

	// Phase 4: staging. Failure is surfaced but does not end the run; the
	// operator may still want to deploy manually and answer the prompt.
	staging := p.deployer.DeployStaging()
	result.Staging = &staging
	result.StagingDeployed = staging.Success
	if !staging.Success {
		p.logger.Warn("staging deploy failed", zap.String("error", staging.Error))
	}

	// Phase 5: production, behind an explicit yes. Anything else declines.
	approved, err := p.approver.ApproveProduction(staging.URL)
	if err != nil {
		p.logger.Warn("approval prompt interrupted, treating as decline", zap.Error(err))
		approved = false
	}
	result.ProductionApproved = approved
	if !approved {
		p.logger.Info("production deploy declined")
		return result
	}

	production := p.deployer.DeployProduction()
	result.Production = &production
	result.ProductionDeployed = production.Success
	p.logger.Info("production deploy finished",
		zap.Bool("success", production.Success),
		zap.String("url", production.URL))
	return result
}

// requirementIDs resolves merged workspace IDs to their requirement IDs,
// preserving merge order and dropping duplicates.
func (p *Pipeline) requirementIDs(workspaceIDs []string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, wsID := range workspaceIDs {
		ws, err := p.db.GetWorkspace(wsID)
		if err != nil {
			p.logger.Warn("workspace lookup failed", zap.String("id", wsID), zap.Error(err))
			continue
		}
		if seen[ws.RequirementID] {
			continue
		}
		seen[ws.RequirementID] = true
		ids = append(ids, ws.RequirementID)
	}
	return ids
}

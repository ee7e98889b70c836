// Package accept runs per-requirement acceptance criteria and aggregates the
// results into a single pass/fail gate.
package accept

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/config"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// CriterionResult is the outcome of one acceptance command.
type CriterionResult struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// RequirementResult groups criterion outcomes for one requirement.
type RequirementResult struct {
	Name      string            `json:"name"`
	AllPassed bool              `json:"all_passed"`
	Criteria  []CriterionResult `json:"criteria"`
}

// TestResults aggregates the whole gate run.
type TestResults struct {
	Passed       bool                `json:"passed"`
	Total        int                 `json:"total"`
	PassedCount  int                 `json:"passed_count"`
	FailedCount  int                 `json:"failed_count"`
	Requirements []RequirementResult `json:"requirements"`
}

const defaultTimeout = 2 * time.Minute

// Gate executes acceptance criteria against a working directory.
type Gate struct {
	cmd      CommandRunner
	dir      string
	criteria map[string][]config.Criterion
	logger   *zap.Logger
}

// NewGate creates a gate. criteria maps requirement id to its checks. A nil
// logger disables logging.
func NewGate(cmd CommandRunner, dir string, criteria map[string][]config.Criterion, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cmd: cmd, dir: dir, criteria: criteria, logger: logger}
}

// RunTests runs every criterion configured for the given requirements in
// order. A requirement with no configured criteria passes vacuously. Command
// failures are captured in the results, never returned as errors.
func (g *Gate) RunTests(requirementIDs []string) *TestResults {
	results := &TestResults{Passed: true}

	for _, reqID := range requirementIDs {
		req := RequirementResult{Name: reqID, AllPassed: true}
		for _, crit := range g.criteria[reqID] {
			cr := g.runCriterion(crit)
			results.Total++
			if cr.Passed {
				results.PassedCount++
			} else {
				results.FailedCount++
				req.AllPassed = false
				results.Passed = false
			}
			req.Criteria = append(req.Criteria, cr)
		}
		g.logger.Info("acceptance requirement finished",
			zap.String("requirement", reqID),
			zap.Bool("passed", req.AllPassed),
			zap.Int("criteria", len(req.Criteria)))
		results.Requirements = append(results.Requirements, req)
	}
	return results
}

func (g *Gate) runCriterion(crit config.Criterion) CriterionResult {
	timeout := defaultTimeout
	if crit.Timeout != "" {
		if d, err := time.ParseDuration(crit.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cr := CriterionResult{Description: crit.Description}
	_, stderr, exitCode, err := g.cmd.Run(ctx, g.dir, crit.Command)
	switch {
	case err != nil:
		cr.Error = err.Error()
	case exitCode != 0:
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", exitCode)
		}
		cr.Error = msg
	default:
		cr.Passed = true
	}
	return cr
}

// Package deploy runs the configured staging and production deploy commands
// and extracts the resulting URL from their output.
package deploy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/accept"
	"github.com/lucasnoah/convoy/internal/config"
)

// Result is the outcome of a single deploy command.
type Result struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Deployer runs the staging and production deploys.
type Deployer interface {
	DeployStaging() Result
	DeployProduction() Result
}

const defaultTimeout = 10 * time.Minute

var urlPattern = regexp.MustCompile(`https://\S+`)

// ExecDeployer implements Deployer by running the configured shell commands
// in the repository directory.
type ExecDeployer struct {
	cmd     accept.CommandRunner
	dir     string
	cfg     config.Deploy
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecDeployer creates a deployer for the given deploy config. A nil
// logger disables logging.
func NewExecDeployer(cmd accept.CommandRunner, dir string, cfg config.Deploy, logger *zap.Logger) *ExecDeployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := defaultTimeout
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	return &ExecDeployer{cmd: cmd, dir: dir, cfg: cfg, timeout: timeout, logger: logger}
}

func (d *ExecDeployer) DeployStaging() Result {
	return d.run("staging", d.cfg.StagingCommand)
}

func (d *ExecDeployer) DeployProduction() Result {
	return d.run("production", d.cfg.ProductionCommand)
}

func (d *ExecDeployer) run(target string, command string) Result {
	if command == "" {
		return Result{Error: fmt.Sprintf("no %s deploy command configured", target)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	stdout, stderr, exitCode, err := d.cmd.Run(ctx, d.dir, command)
	if err != nil {
		d.logger.Warn("deploy command failed", zap.String("target", target), zap.Error(err))
		return Result{Error: err.Error()}
	}
	if exitCode != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", exitCode)
		}
		d.logger.Warn("deploy command failed",
			zap.String("target", target), zap.Int("exit_code", exitCode))
		return Result{Error: msg}
	}

	url := ExtractURL(stdout)
	d.logger.Info("deploy finished", zap.String("target", target), zap.String("url", url))
	return Result{Success: true, URL: url}
}

// ExtractURL returns the first https URL in the command output, or "".
func ExtractURL(output string) string {
	return urlPattern.FindString(output)
}

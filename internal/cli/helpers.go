package cli

import (
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/config"
	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/worktree"
)

func loadConfig() (*config.ProjectConfig, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// openDB opens the project ledger and applies pending migrations.
func openDB(cfg *config.ProjectConfig) (*db.DB, error) {
	path := cfg.Project.DBPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func gitManager(cfg *config.ProjectConfig) *worktree.Manager {
	return worktree.NewManager(&worktree.ExecGit{}, cfg.Project.RepoDir, cfg.Project.WorktreeDir)
}

func newLogger() *zap.Logger {
	if verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			return l
		}
	}
	return zap.NewNop()
}

func abandonedAfter(cfg *config.ProjectConfig) time.Duration {
	if d, err := time.ParseDuration(cfg.Project.AbandonedAfter); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

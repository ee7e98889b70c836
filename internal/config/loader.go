package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a project configuration from the given YAML file path.
// After parsing, it fills in defaults for fields the file leaves unset.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a project config in standard locations and loads the
// first one found. Search order: ./convoy.yaml, ~/.convoy/config.yaml
func LoadDefault() (*ProjectConfig, error) {
	candidates := []string{"convoy.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".convoy", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no project config found (searched: %v)", candidates)
}

// applyDefaults fills project-level fields that have sensible defaults.
func applyDefaults(cfg *ProjectConfig) {
	p := &cfg.Project

	if p.Mainline == "" {
		p.Mainline = "main"
	}
	if p.RepoDir == "" {
		p.RepoDir = "."
	}
	if p.WorktreeDir == "" {
		p.WorktreeDir = filepath.Join(p.RepoDir, "worktrees")
	}
	if p.AbandonedAfter == "" {
		p.AbandonedAfter = "24h"
	}
	if p.Deploy.Timeout == "" {
		p.Deploy.Timeout = "10m"
	}
	if p.Notify.Timeout == "" {
		p.Notify.Timeout = "5s"
	}
}

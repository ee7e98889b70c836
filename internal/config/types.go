package config

// ProjectConfig is the top-level configuration structure parsed from project YAML.
type ProjectConfig struct {
	Project Project `yaml:"project"`
}

// Project defines the full project: repo location, merge target, gates, and services.
type Project struct {
	Name           string                 `yaml:"name"`
	RepoDir        string                 `yaml:"repo_dir"`
	Mainline       string                 `yaml:"mainline"`
	WorktreeDir    string                 `yaml:"worktree_dir"`
	DBPath         string                 `yaml:"db_path"`
	AbandonedAfter string                 `yaml:"abandoned_after"`
	Acceptance     map[string][]Criterion `yaml:"acceptance"` // requirement id -> criteria
	Deploy         Deploy                 `yaml:"deploy"`
	Services       map[string]Service     `yaml:"services"`
	Notify         Notify                 `yaml:"notify"`
}

// Criterion defines a single acceptance check for a requirement.
type Criterion struct {
	Description string `yaml:"description"`
	Command     string `yaml:"command"`
	Timeout     string `yaml:"timeout"`
}

// Deploy holds the staging and production deploy commands.
type Deploy struct {
	StagingCommand    string `yaml:"staging_command"`
	ProductionCommand string `yaml:"production_command"`
	Timeout           string `yaml:"timeout"`
}

// Service defines an external service whose credentials can fail mid-run.
type Service struct {
	VerifyCommand string `yaml:"verify_command"`
}

// Notify holds the outbound notification webhook settings.
type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
	Timeout    string `yaml:"timeout"`
}

// Package recovery pauses pipelines on authentication failures and resumes
// them once the service's credentials verify again.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/convoy/internal/accept"
	"github.com/lucasnoah/convoy/internal/autherr"
	"github.com/lucasnoah/convoy/internal/config"
	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/notify"
)

// Verifier performs a live credential check for a service's source. The
// result is never cached.
type Verifier interface {
	VerifySource(service string, name string) (bool, error)
}

// ExecVerifier verifies credentials by running the service's configured
// verify command.
type ExecVerifier struct {
	cmd      accept.CommandRunner
	dir      string
	services map[string]config.Service
}

// NewExecVerifier creates a verifier backed by per-service shell commands.
func NewExecVerifier(cmd accept.CommandRunner, dir string, services map[string]config.Service) *ExecVerifier {
	return &ExecVerifier{cmd: cmd, dir: dir, services: services}
}

func (v *ExecVerifier) VerifySource(service string, name string) (bool, error) {
	svc, ok := v.services[service]
	if !ok || svc.VerifyCommand == "" {
		return false, fmt.Errorf("no verify command configured for service %q", service)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, _, exitCode, err := v.cmd.Run(ctx, v.dir, svc.VerifyCommand)
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

// Coordinator owns the pause/resume state machine for a project.
type Coordinator struct {
	db          *db.DB
	notifier    notify.Notifier
	verifier    Verifier
	projectName string
	logger      *zap.Logger
	now         func() time.Time
}

// NewCoordinator creates a coordinator. notifier may be nil when no sink is
// configured. A nil logger disables logging.
func NewCoordinator(database *db.DB, notifier notify.Notifier, verifier Verifier, projectName string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:          database,
		notifier:    notifier,
		verifier:    verifier,
		projectName: projectName,
		logger:      logger,
		now:         time.Now,
	}
}

// SetNow overrides the clock. For tests.
func (c *Coordinator) SetNow(now func() time.Time) {
	c.now = now
}

// PauseParams identifies the pipeline job being paused and the auth error
// that triggered the pause.
type PauseParams struct {
	ProjectPath   string
	JobID         string
	RequirementID string
	PausedPhase   string
	Service       string
	ErrorID       string
	ErrorKind     string
	ErrorMessage  string
}

// PausePipeline persists a paused pipeline row and notifies the sink.
// Notification failures are logged, never returned.
func (c *Coordinator) PausePipeline(params PauseParams) (*db.PausedPipeline, error) {
	p := db.PausedPipeline{
		ID:            uuid.New().String(),
		ProjectPath:   params.ProjectPath,
		JobID:         params.JobID,
		RequirementID: params.RequirementID,
		PausedPhase:   params.PausedPhase,
		Service:       params.Service,
		ErrorID:       params.ErrorID,
		PausedAt:      c.timestamp(),
		Status:        db.PausedStatusPaused,
	}
	if err := c.db.InsertPausedPipeline(p); err != nil {
		return nil, err
	}
	c.logger.Warn("pipeline paused on auth failure",
		zap.String("service", params.Service),
		zap.String("project", params.ProjectPath),
		zap.String("phase", params.PausedPhase),
		zap.String("kind", params.ErrorKind))

	if c.notifier != nil {
		err := c.notifier.SendAuthFailure(notify.AuthFailure{
			Service:      params.Service,
			ProjectPath:  params.ProjectPath,
			ProjectName:  c.projectName,
			ErrorKind:    params.ErrorKind,
			ErrorMessage: params.ErrorMessage,
			PausedPhase:  params.PausedPhase,
			Timestamp:    p.PausedAt,
		})
		if err != nil {
			c.logger.Warn("auth failure notification failed", zap.Error(err))
		}
	}
	return &p, nil
}

// HandleAuthFailure classifies a failure, records it, and pauses the
// pipeline. Retryable kinds are expected to have exhausted their backoff
// upstream before reaching this point.
func (c *Coordinator) HandleAuthFailure(params PauseParams, statusCode int, cause error) (*db.PausedPipeline, error) {
	kind := autherr.Classify(statusCode, cause)
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	authErr := db.AuthError{
		ID:          uuid.New().String(),
		ProjectPath: params.ProjectPath,
		Service:     params.Service,
		ErrorKind:   string(kind),
		Message:     message,
		OccurredAt:  c.timestamp(),
	}
	if params.JobID != "" {
		authErr.PipelineJobID = &params.JobID
	}
	if err := c.db.RecordAuthError(authErr); err != nil {
		return nil, err
	}

	params.ErrorID = authErr.ID
	params.ErrorKind = string(kind)
	params.ErrorMessage = message
	return c.PausePipeline(params)
}

// ResumePipeline transitions a paused pipeline to resumed and resolves its
// project's auth errors with method reauth. Only valid from paused.
func (c *Coordinator) ResumePipeline(id string) error {
	return c.finish(id, db.PausedStatusResumed, db.ResolutionReauth)
}

// CancelPipeline transitions a paused pipeline to cancelled and resolves its
// project's auth errors with method cancelled. Only valid from paused.
func (c *Coordinator) CancelPipeline(id string) error {
	return c.finish(id, db.PausedStatusCancelled, db.ResolutionCancelled)
}

func (c *Coordinator) finish(id string, status string, method string) error {
	p, err := c.db.GetPausedPipeline(id)
	if err != nil {
		return err
	}
	now := c.timestamp()
	ok, err := c.db.TransitionPaused(id, status, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pipeline %s is %s, not paused", id, p.Status)
	}
	if _, err := c.db.ResolveAuthErrors(p.ProjectPath, p.Service, method, now); err != nil {
		return err
	}
	c.logger.Info("pipeline "+status,
		zap.String("id", id),
		zap.String("service", p.Service),
		zap.String("project", p.ProjectPath))
	return nil
}

// CheckAndResumePipelines resumes every paused pipeline for a service, but
// only after a live verification of the service's default credential source
// succeeds. Returns the resumed pipelines.
func (c *Coordinator) CheckAndResumePipelines(service string) ([]db.PausedPipeline, error) {
	paused, err := c.db.ListPausedByService(service)
	if err != nil {
		return nil, err
	}
	if len(paused) == 0 {
		return nil, nil
	}

	source, err := c.db.GetDefaultAuthSource(service)
	if err != nil {
		return nil, fmt.Errorf("no default source for service %q: %w", service, err)
	}
	authenticated, err := c.verifier.VerifySource(service, source.Name)
	if err != nil {
		return nil, fmt.Errorf("verify source %q: %w", source.Name, err)
	}
	if !authenticated {
		c.logger.Info("credentials still failing, leaving pipelines paused",
			zap.String("service", service), zap.Int("paused", len(paused)))
		return nil, nil
	}

	now := c.timestamp()
	if err := c.db.MarkSourceVerified(source.Name, now); err != nil {
		c.logger.Warn("mark source verified failed", zap.Error(err))
	}

	var resumed []db.PausedPipeline
	for _, p := range paused {
		ok, err := c.db.TransitionPaused(p.ID, db.PausedStatusResumed, now)
		if err != nil {
			c.logger.Warn("resume failed", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if _, err := c.db.ResolveAuthErrors(p.ProjectPath, p.Service, db.ResolutionReauth, now); err != nil {
			c.logger.Warn("resolve auth errors failed", zap.String("project", p.ProjectPath), zap.Error(err))
		}
		resumed = append(resumed, p)
	}

	if len(resumed) > 0 && c.notifier != nil {
		err := c.notifier.SendAuthRestored(notify.AuthRestored{
			Service:    service,
			SourceName: source.Name,
			Timestamp:  now,
		})
		if err != nil {
			c.logger.Warn("auth restored notification failed", zap.Error(err))
		}
	}
	return resumed, nil
}

// CanResume reports whether the most recently paused pipeline for a project
// could be resumed now. Read-only; no state changes.
func (c *Coordinator) CanResume(projectPath string) (bool, error) {
	p, err := c.db.LatestPausedForProject(projectPath)
	if err == db.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	source, err := c.db.GetDefaultAuthSource(p.Service)
	if err != nil {
		return false, nil
	}
	authenticated, err := c.verifier.VerifySource(p.Service, source.Name)
	if err != nil {
		return false, nil
	}
	return authenticated, nil
}

func (c *Coordinator) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

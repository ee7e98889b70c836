package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Workspace statuses.
const (
	WorkspaceActive    = "active"
	WorkspaceMerged    = "merged"
	WorkspaceAbandoned = "abandoned"
)

// Paused pipeline statuses.
const (
	PausedStatusPaused    = "paused"
	PausedStatusResumed   = "resumed"
	PausedStatusCancelled = "cancelled"
)

// Auth error resolution methods.
const (
	ResolutionReauth    = "reauth"
	ResolutionRetry     = "retry"
	ResolutionManual    = "manual"
	ResolutionCancelled = "cancelled"
)

// Workspace represents a row in the workspaces table.
type Workspace struct {
	ID            string
	SessionID     string
	RequirementID string
	BranchName    string
	Path          string
	Status        string
	CreatedAt     string
}

// CreateWorkspace inserts a new workspace row. The partial unique index on
// (session_id, requirement_id) rejects a second active workspace for the
// same pair.
func (d *DB) CreateWorkspace(ws Workspace) error {
	_, err := d.conn.Exec(
		`INSERT INTO workspaces (id, session_id, requirement_id, branch_name, path, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.SessionID, ws.RequirementID, ws.BranchName, ws.Path, ws.Status, ws.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// GetWorkspace returns the workspace with the given id.
func (d *DB) GetWorkspace(id string) (*Workspace, error) {
	row := d.conn.QueryRow(
		`SELECT id, session_id, requirement_id, branch_name, path, status, created_at
		 FROM workspaces WHERE id = ?`, id,
	)
	var ws Workspace
	err := row.Scan(&ws.ID, &ws.SessionID, &ws.RequirementID, &ws.BranchName, &ws.Path, &ws.Status, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return &ws, nil
}

// ListWorkspaces returns all workspaces for a session, oldest first.
// Pass "" for statusFilter to return all statuses.
func (d *DB) ListWorkspaces(sessionID string, statusFilter string) ([]Workspace, error) {
	query := `SELECT id, session_id, requirement_id, branch_name, path, status, created_at
		 FROM workspaces WHERE session_id = ?`
	args := []any{sessionID}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.SessionID, &ws.RequirementID, &ws.BranchName, &ws.Path, &ws.Status, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// UpdateWorkspaceStatus transitions a workspace to the given status.
func (d *DB) UpdateWorkspaceStatus(id string, status string) error {
	res, err := d.conn.Exec(`UPDATE workspaces SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update workspace status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workspace status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LogWorkspaceEvent inserts a workspace audit event. Callers treat failures
// as non-critical.
func (d *DB) LogWorkspaceEvent(sessionID string, workspaceID string, event string, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO workspace_events (session_id, workspace_id, event, detail) VALUES (?, ?, ?, ?)`,
		sessionID, nullable(workspaceID), event, nullable(detail),
	)
	if err != nil {
		return fmt.Errorf("log workspace event: %w", err)
	}
	return nil
}

// AuthSource represents a named, service-scoped credential record.
type AuthSource struct {
	ID             string
	Name           string
	Service        string
	DisplayName    string
	AuthType       string
	IsDefault      bool
	LastVerifiedAt *string
	ExpiresAt      *string
	CreatedAt      string
	UpdatedAt      string
}

// CreateAuthSource inserts a credential source. If the source is marked
// default, the previous default for the same service is cleared in the same
// transaction.
func (d *DB) CreateAuthSource(s AuthSource) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.IsDefault {
		if _, err := tx.Exec(`UPDATE auth_sources SET is_default = FALSE, updated_at = ? WHERE service = ? AND is_default = TRUE`,
			s.UpdatedAt, s.Service); err != nil {
			return fmt.Errorf("clear previous default: %w", err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO auth_sources (id, name, service, display_name, auth_type, is_default, last_verified_at, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Service, s.DisplayName, s.AuthType, s.IsDefault, s.LastVerifiedAt, s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create auth source: %w", err)
	}
	return tx.Commit()
}

// SetDefaultAuthSource makes the named source the default for its service,
// atomically clearing the previous default.
func (d *DB) SetDefaultAuthSource(name string, updatedAt string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var service string
	err = tx.QueryRow(`SELECT service FROM auth_sources WHERE name = ?`, name).Scan(&service)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up auth source: %w", err)
	}
	if _, err := tx.Exec(`UPDATE auth_sources SET is_default = FALSE, updated_at = ? WHERE service = ? AND is_default = TRUE`,
		updatedAt, service); err != nil {
		return fmt.Errorf("clear previous default: %w", err)
	}
	if _, err := tx.Exec(`UPDATE auth_sources SET is_default = TRUE, updated_at = ? WHERE name = ?`,
		updatedAt, name); err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	return tx.Commit()
}

// GetDefaultAuthSource returns the default source for a service.
func (d *DB) GetDefaultAuthSource(service string) (*AuthSource, error) {
	row := d.conn.QueryRow(
		`SELECT id, name, service, display_name, auth_type, is_default, last_verified_at, expires_at, created_at, updated_at
		 FROM auth_sources WHERE service = ? AND is_default = TRUE`, service,
	)
	return scanAuthSource(row)
}

// GetAuthSource returns the source with the given unique name.
func (d *DB) GetAuthSource(name string) (*AuthSource, error) {
	row := d.conn.QueryRow(
		`SELECT id, name, service, display_name, auth_type, is_default, last_verified_at, expires_at, created_at, updated_at
		 FROM auth_sources WHERE name = ?`, name,
	)
	return scanAuthSource(row)
}

// ListAuthSources returns all credential sources, grouped by service.
func (d *DB) ListAuthSources() ([]AuthSource, error) {
	rows, err := d.conn.Query(
		`SELECT id, name, service, display_name, auth_type, is_default, last_verified_at, expires_at, created_at, updated_at
		 FROM auth_sources ORDER BY service, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list auth sources: %w", err)
	}
	defer rows.Close()

	var sources []AuthSource
	for rows.Next() {
		s, err := scanAuthSourceRows(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// MarkSourceVerified records a successful live verification.
func (d *DB) MarkSourceVerified(name string, verifiedAt string) error {
	res, err := d.conn.Exec(
		`UPDATE auth_sources SET last_verified_at = ?, updated_at = ? WHERE name = ?`,
		verifiedAt, verifiedAt, name,
	)
	if err != nil {
		return fmt.Errorf("mark source verified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAuthSource(row *sql.Row) (*AuthSource, error) {
	var s AuthSource
	var lastVerified, expires sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.Service, &s.DisplayName, &s.AuthType, &s.IsDefault,
		&lastVerified, &expires, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth source: %w", err)
	}
	if lastVerified.Valid {
		s.LastVerifiedAt = &lastVerified.String
	}
	if expires.Valid {
		s.ExpiresAt = &expires.String
	}
	return &s, nil
}

func scanAuthSourceRows(rows *sql.Rows) (*AuthSource, error) {
	var s AuthSource
	var lastVerified, expires sql.NullString
	err := rows.Scan(&s.ID, &s.Name, &s.Service, &s.DisplayName, &s.AuthType, &s.IsDefault,
		&lastVerified, &expires, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan auth source: %w", err)
	}
	if lastVerified.Valid {
		s.LastVerifiedAt = &lastVerified.String
	}
	if expires.Valid {
		s.ExpiresAt = &expires.String
	}
	return &s, nil
}

// AuthError represents a classified authentication failure. Rows are never
// deleted; resolution only fills resolved_at and resolution_method.
type AuthError struct {
	ID               string
	ProjectPath      string
	Service          string
	ErrorKind        string
	Message          string
	PipelineJobID    *string
	OccurredAt       string
	ResolvedAt       *string
	ResolutionMethod *string
}

// RecordAuthError inserts a classified auth failure.
func (d *DB) RecordAuthError(e AuthError) error {
	_, err := d.conn.Exec(
		`INSERT INTO auth_errors (id, project_path, service, error_kind, message, pipeline_job_id, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectPath, e.Service, e.ErrorKind, e.Message, e.PipelineJobID, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("record auth error: %w", err)
	}
	return nil
}

// GetAuthError returns the auth error with the given id.
func (d *DB) GetAuthError(id string) (*AuthError, error) {
	row := d.conn.QueryRow(
		`SELECT id, project_path, service, error_kind, message, pipeline_job_id, occurred_at, resolved_at, resolution_method
		 FROM auth_errors WHERE id = ?`, id,
	)
	var e AuthError
	var jobID, resolvedAt, method sql.NullString
	err := row.Scan(&e.ID, &e.ProjectPath, &e.Service, &e.ErrorKind, &e.Message, &jobID, &e.OccurredAt, &resolvedAt, &method)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth error: %w", err)
	}
	if jobID.Valid {
		e.PipelineJobID = &jobID.String
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.String
	}
	if method.Valid {
		e.ResolutionMethod = &method.String
	}
	return &e, nil
}

// ResolveAuthErrors marks all unresolved errors for a project+service pair
// resolved with the given method. Returns the number of rows updated.
func (d *DB) ResolveAuthErrors(projectPath string, service string, method string, resolvedAt string) (int64, error) {
	res, err := d.conn.Exec(
		`UPDATE auth_errors SET resolved_at = ?, resolution_method = ?
		 WHERE project_path = ? AND service = ? AND resolved_at IS NULL`,
		resolvedAt, method, projectPath, service,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve auth errors: %w", err)
	}
	return res.RowsAffected()
}

// PausedPipeline represents a pipeline suspended on an auth failure.
type PausedPipeline struct {
	ID            string
	ProjectPath   string
	JobID         string
	RequirementID string
	PausedPhase   string
	Service       string
	ErrorID       string
	PausedAt      string
	ResumedAt     *string
	Status        string
}

// InsertPausedPipeline persists a newly paused pipeline.
func (d *DB) InsertPausedPipeline(p PausedPipeline) error {
	_, err := d.conn.Exec(
		`INSERT INTO paused_pipelines (id, project_path, job_id, requirement_id, paused_phase, service, error_id, paused_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectPath, p.JobID, nullable(p.RequirementID), p.PausedPhase, p.Service, p.ErrorID, p.PausedAt, p.Status,
	)
	if err != nil {
		return fmt.Errorf("insert paused pipeline: %w", err)
	}
	return nil
}

// GetPausedPipeline returns the paused pipeline with the given id.
func (d *DB) GetPausedPipeline(id string) (*PausedPipeline, error) {
	row := d.conn.QueryRow(
		`SELECT id, project_path, job_id, requirement_id, paused_phase, service, error_id, paused_at, resumed_at, status
		 FROM paused_pipelines WHERE id = ?`, id,
	)
	var p PausedPipeline
	var reqID, resumedAt sql.NullString
	err := row.Scan(&p.ID, &p.ProjectPath, &p.JobID, &reqID, &p.PausedPhase, &p.Service, &p.ErrorID, &p.PausedAt, &resumedAt, &p.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paused pipeline: %w", err)
	}
	if reqID.Valid {
		p.RequirementID = reqID.String
	}
	if resumedAt.Valid {
		p.ResumedAt = &resumedAt.String
	}
	return &p, nil
}

// ListPausedByService returns all pipelines currently paused for a service,
// oldest first.
func (d *DB) ListPausedByService(service string) ([]PausedPipeline, error) {
	return d.listPaused(`service = ?`, service)
}

// ListPausedByProject returns all pipelines currently paused for a project,
// oldest first.
func (d *DB) ListPausedByProject(projectPath string) ([]PausedPipeline, error) {
	return d.listPaused(`project_path = ?`, projectPath)
}

func (d *DB) listPaused(where string, arg any) ([]PausedPipeline, error) {
	rows, err := d.conn.Query(
		`SELECT id, project_path, job_id, requirement_id, paused_phase, service, error_id, paused_at, resumed_at, status
		 FROM paused_pipelines WHERE `+where+` AND status = 'paused' ORDER BY paused_at ASC, id ASC`, arg,
	)
	if err != nil {
		return nil, fmt.Errorf("list paused pipelines: %w", err)
	}
	defer rows.Close()

	var paused []PausedPipeline
	for rows.Next() {
		var p PausedPipeline
		var reqID, resumedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.ProjectPath, &p.JobID, &reqID, &p.PausedPhase, &p.Service, &p.ErrorID, &p.PausedAt, &resumedAt, &p.Status); err != nil {
			return nil, fmt.Errorf("scan paused pipeline: %w", err)
		}
		if reqID.Valid {
			p.RequirementID = reqID.String
		}
		if resumedAt.Valid {
			p.ResumedAt = &resumedAt.String
		}
		paused = append(paused, p)
	}
	return paused, rows.Err()
}

// LatestPausedForProject returns the most recently paused pipeline for a
// project, or ErrNotFound if none is paused.
func (d *DB) LatestPausedForProject(projectPath string) (*PausedPipeline, error) {
	row := d.conn.QueryRow(
		`SELECT id, project_path, job_id, requirement_id, paused_phase, service, error_id, paused_at, resumed_at, status
		 FROM paused_pipelines WHERE project_path = ? AND status = 'paused'
		 ORDER BY paused_at DESC, id DESC LIMIT 1`, projectPath,
	)
	var p PausedPipeline
	var reqID, resumedAt sql.NullString
	err := row.Scan(&p.ID, &p.ProjectPath, &p.JobID, &reqID, &p.PausedPhase, &p.Service, &p.ErrorID, &p.PausedAt, &resumedAt, &p.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest paused pipeline: %w", err)
	}
	if reqID.Valid {
		p.RequirementID = reqID.String
	}
	if resumedAt.Valid {
		p.ResumedAt = &resumedAt.String
	}
	return &p, nil
}

// TransitionPaused moves a paused pipeline to resumed or cancelled. The
// update is conditional on the row still being paused, so an already-final
// row reports false rather than transitioning twice. resumed_at is written
// only for the resumed transition; cancellations carry no resume timestamp.
func (d *DB) TransitionPaused(id string, newStatus string, resumedAt string) (bool, error) {
	query := `UPDATE paused_pipelines SET status = ? WHERE id = ? AND status = 'paused'`
	args := []any{newStatus, id}
	if newStatus == PausedStatusResumed {
		query = `UPDATE paused_pipelines SET status = ?, resumed_at = ? WHERE id = ? AND status = 'paused'`
		args = []any{newStatus, resumedAt, id}
	}
	res, err := d.conn.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("transition paused pipeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition paused pipeline: %w", err)
	}
	return n > 0, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

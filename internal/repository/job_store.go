package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chainwatch/internal/models"
)

// CreateJob persists a new Job from a validated JobSpec. Callers
// must call spec.Validate() first; CreateJob does not re-validate.
func (r *Repository) CreateJob(ctx context.Context, spec *models.JobSpec) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:              uuid.NewString(),
		Action:          spec.Action,
		Payload:         spec.Payload,
		Network:         spec.Network,
		Type:            spec.Type,
		ScheduledAt:     spec.ScheduledAt,
		IntervalMinutes: spec.IntervalMinutes,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO jobs (id, action, payload, network, type, scheduled_at, interval_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Action, payloadJSON, job.Network, job.Type,
		job.ScheduledAt, job.IntervalMinutes, job.Status, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob loads a single Job with its log streams in append order.
func (r *Repository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := r.scanJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Logs, err = r.logsFor(ctx, id, "worker", nil)
	if err != nil {
		return nil, err
	}
	job.ServiceLogs, err = r.logsFor(ctx, id, "analyzer", nil)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Repository) scanJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	var payloadJSON, errDetailsJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, action, payload, network, type, scheduled_at, interval_minutes,
		       status, last_run_at, next_run_at, error_details, created_at, updated_at
		FROM jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Action, &payloadJSON, &job.Network, &job.Type, &job.ScheduledAt,
		&job.IntervalMinutes, &job.Status, &job.LastRunAt, &job.NextRunAt, &errDetailsJSON,
		&job.CreatedAt, &job.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(errDetailsJSON) > 0 {
		job.ErrorDetails = &models.ErrorDetails{}
		if err := json.Unmarshal(errDetailsJSON, job.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	return &job, nil
}

// ListJobs returns every Job, newest first, without log streams (callers
// needing logs should GetJob the ones they care about).
func (r *Repository) ListJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, action, payload, network, type, scheduled_at, interval_minutes,
		       status, last_run_at, next_run_at, error_details, created_at, updated_at
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListFailed returns the most recently failed Jobs, newest first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, action, payload, network, type, scheduled_at, interval_minutes,
		       status, last_run_at, next_run_at, error_details, created_at, updated_at
		FROM jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`, models.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

func scanJobRows(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		var payloadJSON, errDetailsJSON []byte
		if err := rows.Scan(&job.ID, &job.Action, &payloadJSON, &job.Network, &job.Type, &job.ScheduledAt,
			&job.IntervalMinutes, &job.Status, &job.LastRunAt, &job.NextRunAt, &errDetailsJSON,
			&job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &job.Payload)
		}
		if len(errDetailsJSON) > 0 {
			job.ErrorDetails = &models.ErrorDetails{}
			_ = json.Unmarshal(errDetailsJSON, job.ErrorDetails)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a Job record and its log streams (ON DELETE CASCADE).
// The caller is responsible for first removing matching queue entries.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StatusPatch carries the optional fields SetStatus may update alongside
// status; unset fields are left untouched.
type StatusPatch struct {
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	ErrorDetails *models.ErrorDetails
}

// SetStatus transitions a Job's status and merges any non-nil patch fields.
func (r *Repository) SetStatus(ctx context.Context, id string, status models.JobStatus, patch StatusPatch) error {
	var errDetailsJSON []byte
	if patch.ErrorDetails != nil {
		var err error
		errDetailsJSON, err = json.Marshal(patch.ErrorDetails)
		if err != nil {
			return fmt.Errorf("marshal error details: %w", err)
		}
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET
			status = $2,
			last_run_at = COALESCE($3, last_run_at),
			next_run_at = COALESCE($4, next_run_at),
			error_details = COALESCE($5, error_details),
			updated_at = NOW()
		WHERE id = $1`,
		id, status, patch.LastRunAt, patch.NextRunAt, errDetailsJSON,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog appends one Worker-produced log entry, preserving order.
func (r *Repository) AppendLog(ctx context.Context, id string, entry models.LogEntry) error {
	return r.appendLog(ctx, id, "worker", entry)
}

// AppendServiceLog appends one Analyzer-produced log entry, preserving order.
func (r *Repository) AppendServiceLog(ctx context.Context, id string, entry models.LogEntry) error {
	return r.appendLog(ctx, id, "analyzer", entry)
}

func (r *Repository) appendLog(ctx context.Context, id, source string, entry models.LogEntry) error {
	var detailsJSON []byte
	if len(entry.Details) > 0 {
		detailsJSON = entry.Details
	}
	var durationMs *int64
	if entry.Duration != nil {
		ms := entry.Duration.Milliseconds()
		durationMs = &ms
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_logs (job_id, source, timestamp, level, message, function, duration_ms, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, source, entry.Timestamp, entry.Level, entry.Message, entry.Function, durationMs, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("append %s log: %w", source, err)
	}
	return nil
}

// LogFilter narrows a log-stream read for
// GET /jobs/{id}/logs?level=&source=&limit=.
type LogFilter struct {
	Level *models.LogLevel
	Limit int
}

// Logs returns the Worker-produced log entries for a Job, newest first.
func (r *Repository) Logs(ctx context.Context, id string, f LogFilter) ([]models.LogEntry, error) {
	return r.logsFor(ctx, id, "worker", &f)
}

// ServiceLogs returns the Analyzer-produced log entries for a Job, newest first.
func (r *Repository) ServiceLogs(ctx context.Context, id string, f LogFilter) ([]models.LogEntry, error) {
	return r.logsFor(ctx, id, "analyzer", &f)
}

func (r *Repository) logsFor(ctx context.Context, id, source string, f *LogFilter) ([]models.LogEntry, error) {
	limit := 0
	var level *models.LogLevel
	newestFirst := f != nil
	if f != nil {
		limit = f.Limit
		level = f.Level
	}
	if limit <= 0 {
		limit = 1000
	}

	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	var query string
	var args []interface{}
	if level != nil {
		query = fmt.Sprintf(`
			SELECT timestamp, level, message, function, duration_ms, details
			FROM job_logs WHERE job_id = $1 AND source = $2 AND level = $3
			ORDER BY id %s LIMIT $4`, order)
		args = []interface{}{id, source, *level, limit}
	} else {
		query = fmt.Sprintf(`
			SELECT timestamp, level, message, function, duration_ms, details
			FROM job_logs WHERE job_id = $1 AND source = $2
			ORDER BY id %s LIMIT $3`, order)
		args = []interface{}{id, source, limit}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s logs: %w", source, err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var durationMs *int64
		var details []byte
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Message, &e.Function, &durationMs, &details); err != nil {
			return nil, fmt.Errorf("scan %s log: %w", source, err)
		}
		if durationMs != nil {
			d := time.Duration(*durationMs) * time.Millisecond
			e.Duration = &d
		}
		if len(details) > 0 {
			e.Details = details
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindOrphans returns retry-type jobs in pending status whose lastRunAt is
// missing or older than the given threshold.
func (r *Repository) FindOrphans(ctx context.Context, threshold time.Duration) ([]*models.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := r.db.Query(ctx, `
		SELECT id, action, payload, network, type, scheduled_at, interval_minutes,
		       status, last_run_at, next_run_at, error_details, created_at, updated_at
		FROM jobs
		WHERE type = $1 AND status = $2 AND (last_run_at IS NULL OR last_run_at < $3)`,
		models.JobTypeRetry, models.StatusPending, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find orphans: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// MarkAllNonTerminalRetryFailed implements the emergency-clear admin
// contract: every non-terminal retry job is
// marked failed with an explanatory message.
func (r *Repository) MarkAllNonTerminalRetryFailed(ctx context.Context, message string) (int, error) {
	details, err := json.Marshal(models.ErrorDetails{Message: message, Timestamp: time.Now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("marshal error details: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET status = $1, error_details = $2, updated_at = NOW()
		WHERE type = $3 AND status IN ($4, $5)`,
		models.StatusFailed, details, models.JobTypeRetry, models.StatusPending, models.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark retry jobs failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = fmt.Errorf("not found")

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"enrichment-pipeline/internal/models"
)

var (
	// ErrJobNotActive means the job log is missing or already terminal.
	ErrJobNotActive = errors.New("job log not active")
	// ErrJobNotFound means no job log matched the id and tenant.
	ErrJobNotFound = errors.New("job log not found")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool          *pgxpool.Pool
	contactsTable string
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string, contactsTable string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if contactsTable == "" {
		contactsTable = "contacts"
	}
	return &Store{pool: pool, contactsTable: contactsTable}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobLogParams collects inputs required to insert a job log.
type CreateJobLogParams struct {
	QueueName      string
	JobType        string
	OrganizationID string
	Payload        any
}

// CreateJobLog inserts a queued job log and returns it.
func (s *Store) CreateJobLog(ctx context.Context, p CreateJobLogParams) (models.JobLog, error) {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.JobLog{}, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_logs (id, queue_name, job_type, organization_id, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, id, p.QueueName, p.JobType, p.OrganizationID, payloadJSON, models.StatusQueued, now)
	if err != nil {
		return models.JobLog{}, fmt.Errorf("insert job log: %w", err)
	}

	return models.JobLog{
		ID:             id,
		QueueName:      p.QueueName,
		JobType:        p.JobType,
		OrganizationID: p.OrganizationID,
		Payload:        payloadJSON,
		Status:         models.StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

const jobLogColumns = `id, queue_name, job_type, organization_id, payload, status, attempts, result, error_message, started_at, completed_at, created_at, updated_at`

func scanJobLog(row pgx.Row) (models.JobLog, error) {
	var job models.JobLog
	var payload, result []byte
	var errMsg pgtype.Text
	var started, completed pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.QueueName, &job.JobType, &job.OrganizationID, &payload, &job.Status,
		&job.Attempts, &result, &errMsg, &started, &completed, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.JobLog{}, err
	}
	job.Payload = payload
	if len(result) > 0 {
		job.Result = result
	}
	job.ErrorMessage = textPtr(errMsg)
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return job, nil
}

// GetJobLog fetches a job log scoped to its organization.
func (s *Store) GetJobLog(ctx context.Context, id, organizationID string) (models.JobLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.JobLog{}, ErrJobNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobLogColumns+` FROM job_logs WHERE id = $1 AND organization_id = $2`, id, organizationID)
	job, err := scanJobLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobLog{}, ErrJobNotFound
	}
	if err != nil {
		return models.JobLog{}, fmt.Errorf("scan job log: %w", err)
	}
	return job, nil
}

// StartJob moves a non-terminal job log to processing, stamps started_at and
// increments attempts. Terminal or missing job logs yield ErrJobNotActive.
func (s *Store) StartJob(ctx context.Context, id string) (models.JobLog, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job_logs
		SET status = $2, started_at = NOW(), attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $2)
		RETURNING `+jobLogColumns,
		id, models.StatusProcessing, models.StatusQueued)
	job, err := scanJobLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobLog{}, ErrJobNotActive
	}
	if err != nil {
		return models.JobLog{}, fmt.Errorf("start job: %w", err)
	}
	return job, nil
}

// FailJob marks a non-terminal job log failed with the given message.
func (s *Store) FailJob(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_logs
		SET status = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.StatusFailed, message, models.StatusQueued, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotActive
	}
	return nil
}

// CompleteEnrichment merges the outcome into the tenant's contact and marks the job
// log completed in one transaction.
func (s *Store) CompleteEnrichment(ctx context.Context, job models.JobLog, entityID string, outcome models.EnrichmentOutcome) error {
	resultJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if err := mergeContact(ctx, tx, s.contactsTable, entityID, job.OrganizationID, outcome.Result); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE job_logs
		SET status = $2, result = $3, error_message = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, job.ID, models.StatusCompleted, resultJSON, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotActive
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

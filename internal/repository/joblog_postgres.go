package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/featuremart/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ingestionJobRepository struct {
	pool    *pgxpool.Pool
	dataset string
}

// NewIngestionJobRepository wires the audit log repository backed by
// pgxpool.
func NewIngestionJobRepository(pool *pgxpool.Pool, dataset string) IngestionJobRepository {
	return &ingestionJobRepository{pool: pool, dataset: dataset}
}

func (r *ingestionJobRepository) Record(ctx context.Context, job domain.IngestionJob) error {
	if r.pool == nil {
		return fmt.Errorf("ingestion job repository not initialized")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	table := pgx.Identifier{r.dataset, "ingestion_jobs"}.Sanitize()
	_, err := r.pool.Exec(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (id, message_id, source, status, failure_class, error_message, records, rows_appended, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, table),
		job.ID,
		job.MessageID,
		job.Source,
		string(job.Status),
		string(job.FailureClass),
		job.ErrorMessage,
		job.Records,
		job.RowsAppended,
		job.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion job: %w", err)
	}
	return nil
}

func (r *ingestionJobRepository) List(ctx context.Context, messageID string, limit int, offset int) ([]domain.IngestionJob, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("ingestion job repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	table := pgx.Identifier{r.dataset, "ingestion_jobs"}.Sanitize()
	rows, err := r.pool.Query(
		ctx,
		fmt.Sprintf(`SELECT id, message_id, source, status, failure_class, error_message, records, rows_appended, duration_ms, created_at
		 FROM %s
		 WHERE ($1 = '' OR message_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, table),
		messageID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.IngestionJob{}
	for rows.Next() {
		var (
			job          domain.IngestionJob
			status       string
			failureClass string
			durationMS   int64
			createdAt    pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&job.ID,
			&job.MessageID,
			&job.Source,
			&status,
			&failureClass,
			&job.ErrorMessage,
			&job.Records,
			&job.RowsAppended,
			&durationMS,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion job: %w", scanErr)
		}

		job.Status = domain.JobStatus(status)
		job.FailureClass = domain.FailureClass(failureClass)
		job.Duration = time.Duration(durationMS) * time.Millisecond
		if createdAt.Valid {
			job.CreatedAt = createdAt.Time
		}

		jobs = append(jobs, job)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion jobs: %w", rowsErr)
	}

	return jobs, nil
}

package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// Schema for the archive table. Applied by Migrate; idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS archived_jobs (
	id           text PRIMARY KEY,
	type         text NOT NULL,
	status       text NOT NULL,
	priority     text NOT NULL,
	attempt      int NOT NULL,
	max_attempts int NOT NULL,
	payload      jsonb,
	result       jsonb,
	error        text,
	created_at   timestamptz NOT NULL,
	completed_at timestamptz,
	archived_at  timestamptz NOT NULL DEFAULT now()
)`

// Postgres archives evicted jobs into an archived_jobs table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres archiver. The caller owns the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the archive table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Archive inserts the batch in one round trip. Conflicting IDs (a job
// archived twice across deployments) keep the first row.
func (p *Postgres) Archive(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(`
			INSERT INTO archived_jobs
				(id, type, status, priority, attempt, max_attempts, payload, result, error, created_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING`,
			j.ID, j.Type, string(j.Status), string(j.Priority),
			j.Attempt, j.MaxAttempts,
			[]byte(j.Payload), []byte(j.Result), j.Error,
			j.CreatedAt, j.CompletedAt,
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range jobs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("archive: insert: %w", err)
		}
	}
	return nil
}

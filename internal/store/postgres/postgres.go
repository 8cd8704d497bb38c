// Package postgres is the durable job-record backend.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mehular0ra/forge/internal/store"
	"github.com/mehular0ra/forge/internal/tracer"
	"github.com/mehular0ra/forge/internal/util"
	"github.com/mehular0ra/forge/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	app_name   TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	output     JSONB NOT NULL DEFAULT '[]',
	auth_url   TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	sandbox_id TEXT NOT NULL DEFAULT '',
	app_data   JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, connURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pg config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(pctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(pctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure jobs table: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Create(pctx context.Context, job *model.Job) error {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "Postgres/CreateJob")
	defer span.End()

	output, err := json.Marshal(job.Output)
	if err != nil {
		return err
	}
	var appData []byte
	if job.AppData != nil {
		appData, err = json.Marshal(job.AppData)
		if err != nil {
			return err
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, user_id, app_name, status, stage, output,
			auth_url, error, sandbox_id, app_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.UserID, job.AppName, job.Status, job.Stage, output,
		job.AuthURL, job.Error, job.SandboxID, appData, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (s *Store) Get(pctx context.Context, jobID string) (*model.Job, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "Postgres/GetJob")
	defer span.End()

	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, app_name, status, stage, output,
			auth_url, error, sandbox_id, app_data, created_at, updated_at
		FROM jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		util.RecordSpanError(span, err)
		return nil, err
	}
	return job, nil
}

// Update shallow-merges inside a transaction: read, apply, write back. The
// row lock serializes overlapping ticks on the same job; last write wins.
func (s *Store) Update(pctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "Postgres/UpdateJob")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, user_id, app_name, status, stage, output,
			auth_url, error, sandbox_id, app_data, created_at, updated_at
		FROM jobs WHERE id = $1 FOR UPDATE`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		util.RecordSpanError(span, err)
		return nil, err
	}

	upd.Apply(job, model.NormalizeTime(time.Now()))

	output, err := json.Marshal(job.Output)
	if err != nil {
		return nil, err
	}
	var appData []byte
	if job.AppData != nil {
		appData, err = json.Marshal(job.AppData)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status = $2, stage = $3, output = $4, auth_url = $5,
			error = $6, sandbox_id = $7, app_data = $8, updated_at = $9
		WHERE id = $1`,
		job.ID, job.Status, job.Stage, output, job.AuthURL,
		job.Error, job.SandboxID, appData, job.UpdatedAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return job, nil
}

func (s *Store) DeleteOlderThan(pctx context.Context, cutoff time.Time) (int, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "Postgres/DeleteOldJobs")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE updated_at < $1`, cutoff)
	if err != nil {
		util.RecordSpanError(span, err)
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j       model.Job
		output  []byte
		appData []byte
	)
	err := row.Scan(
		&j.ID, &j.UserID, &j.AppName, &j.Status, &j.Stage, &output,
		&j.AuthURL, &j.Error, &j.SandboxID, &appData, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(output, &j.Output); err != nil {
		return nil, fmt.Errorf("decoding job output: %w", err)
	}
	if len(appData) > 0 {
		if err := json.Unmarshal(appData, &j.AppData); err != nil {
			return nil, fmt.Errorf("decoding job app data: %w", err)
		}
	}

	// Timestamps come back in the server's zone; collapse to the in-process
	// representation so callers never special-case backend origin.
	j.CreatedAt = model.NormalizeTime(j.CreatedAt)
	j.UpdatedAt = model.NormalizeTime(j.UpdatedAt)
	return &j, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datallboy/rangedl/internal/domain"
)

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT PRIMARY KEY,
    url            TEXT             NOT NULL,
    save_directory TEXT             NOT NULL,
    filename       TEXT             NOT NULL DEFAULT '',
    connections    INTEGER          NOT NULL DEFAULT 1,
    headers        TEXT,
    status         TEXT             NOT NULL,
    total_bytes    BIGINT           NOT NULL DEFAULT 0,
    bytes_complete BIGINT           NOT NULL DEFAULT 0,
    progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
    error          TEXT,
    created_at     BIGINT           NOT NULL,
    updated_at     BIGINT           NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
}

// PostgresStore is the PostgreSQL catalog, for deployments that share one
// database between several rangedl instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("could not create schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, item *domain.QueueItem) error {
	var row jobDBO
	if err := row.FromDomain(item); err != nil {
		return err
	}

	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			save_directory = EXCLUDED.save_directory,
			filename = EXCLUDED.filename,
			connections = EXCLUDED.connections,
			headers = EXCLUDED.headers,
			status = EXCLUDED.status,
			total_bytes = EXCLUDED.total_bytes,
			bytes_complete = EXCLUDED.bytes_complete,
			progress = EXCLUDED.progress,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		row.ID, row.URL, row.SaveDirectory, row.Filename, row.Connections, row.Headers, row.Status,
		row.TotalBytes, row.BytesComplete, row.Progress, row.Error, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	item, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]*domain.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectRows(rows)
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context) ([]*domain.QueueItem, error) {
	statuses := make([]string, len(terminalStatuses))
	for i, st := range terminalStatuses {
		statuses[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE NOT (status = ANY($1)) ORDER BY id ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active jobs: %w", err)
	}
	return collectRows(rows)
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectRows(rows pgx.Rows) ([]*domain.QueueItem, error) {
	defer rows.Close()

	var items []*domain.QueueItem
	for rows.Next() {
		item, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/datallboy/rangedl/internal/domain"
)

// PersistentStore is the sqlite catalog.
type PersistentStore struct {
	db *sql.DB
}

func NewPersistentStore(dbPath string) (*PersistentStore, error) {
	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	store := &PersistentStore{db: db}

	if err := store.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

const jobColumns = `id, url, save_directory, filename, connections, headers, status,
	total_bytes, bytes_complete, progress, error, created_at, updated_at`

func (s *PersistentStore) SaveJob(ctx context.Context, item *domain.QueueItem) error {
	var row jobDBO
	if err := row.FromDomain(item); err != nil {
		return err
	}

	query := `INSERT OR REPLACE INTO jobs (` + jobColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.URL, row.SaveDirectory, row.Filename, row.Connections, row.Headers, row.Status,
		row.TotalBytes, row.BytesComplete, row.Progress, row.Error, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", item.ID, err)
	}
	return nil
}

func (s *PersistentStore) GetJob(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ? LIMIT 1`, id)

	item, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return item, nil
}

func (s *PersistentStore) ListJobs(ctx context.Context) ([]*domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *PersistentStore) ListActiveJobs(ctx context.Context) ([]*domain.QueueItem, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status NOT IN (?, ?, ?)
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query,
		string(terminalStatuses[0]), string(terminalStatuses[1]), string(terminalStatuses[2]))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *PersistentStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*domain.QueueItem, error) {
	var row jobDBO
	err := sc.Scan(
		&row.ID, &row.URL, &row.SaveDirectory, &row.Filename, &row.Connections, &row.Headers, &row.Status,
		&row.TotalBytes, &row.BytesComplete, &row.Progress, &row.Error, &row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row.ToDomain()
}

func collectJobs(rows *sql.Rows) ([]*domain.QueueItem, error) {
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

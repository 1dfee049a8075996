package store

import (
	"context"
	"fmt"

	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/infra/config"
)

// Store is the durable catalog of scheduled jobs.
type Store interface {
	SaveJob(ctx context.Context, item *domain.QueueItem) error
	// GetJob returns domain.ErrJobNotFound for an unknown id.
	GetJob(ctx context.Context, id string) (*domain.QueueItem, error)
	ListJobs(ctx context.Context) ([]*domain.QueueItem, error)
	// ListActiveJobs returns jobs that have not completed, failed or been removed, oldest first.
	ListActiveJobs(ctx context.Context) ([]*domain.QueueItem, error)
	DeleteJob(ctx context.Context, id string) error
	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewPersistentStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// terminal statuses are excluded from ListActiveJobs.
var terminalStatuses = []domain.JobStatus{domain.StatusComplete, domain.StatusFailed, domain.StatusRemoved}

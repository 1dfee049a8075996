package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var jobMigrations embed.FS

// RunMigrations applies any pending jobs-table migrations. A catalog left
// dirty by an interrupted migration is refused rather than guessed at.
func (s *PersistentStore) RunMigrations() error {
	src, err := iofs.New(jobMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded job migrations: %w", err)
	}

	// modernc.org/sqlite registers as "sqlite", which this driver accepts
	target, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare catalog for migration: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("init catalog migrator: %w", err)
	}

	if _, dirty, err := m.Version(); err == nil && dirty {
		return errors.New("job catalog is marked dirty by an interrupted migration; repair it before starting")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("upgrade job catalog schema: %w", err)
	}

	return nil
}

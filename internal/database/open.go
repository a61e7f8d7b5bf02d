package database

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open returns the repository for driver together with its closer. The
// postgres schema is migrated before the repository is returned.
func Open(ctx context.Context, driver, dsn string, log *slog.Logger) (Repository, func() error, error) {
	switch driver {
	case DriverMemory:
		log.Warn("using the in-memory repository, data is lost on exit")
		return NewMemoryRepository(), func() error { return nil }, nil
	case DriverPostgres, "":
		repo, err := NewPgRepository(ctx, dsn, log)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repo, repo.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", driver)
}

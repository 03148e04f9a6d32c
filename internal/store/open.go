package store

import (
	"context"
	"fmt"

	"launchwatch/config"
	"launchwatch/logger"
)

// OpenRepository builds the repository named by cfg.Driver and migrates it.
func OpenRepository(ctx context.Context, cfg config.StorageConfig) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch cfg.Driver {
	case "postgres":
		repo, err = NewPostgresRepository(ctx, cfg.DSN)
	case "mysql":
		repo, err = NewMySQLRepository(ctx, cfg.DSN)
	case "file":
		repo = NewFileRepository(cfg.Path)
	case "memory":
		repo = NewMemoryRepository()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// Open returns a ready Store over the configured repository.
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Log) (*Store, error) {
	repo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(repo, cfg.Cache, log)
	if err != nil {
		repo.Close()
		return nil, err
	}
	log.WithComponent("store").WithFields(logger.Fields{"driver": cfg.Driver}).Info("announcement store ready")
	return s, nil
}

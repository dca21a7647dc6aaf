// Package backend selects and builds the storage backend from
// configuration.
package backend

import (
	"fmt"

	"paghetta/internal/config"
	"paghetta/internal/log"
	"paghetta/internal/storage"
	"paghetta/internal/storage/memory"
	"paghetta/internal/storage/postgres"
	"paghetta/internal/storage/sqlite"
)

// Type identifies a storage backend.
type Type string

const (
	SQLiteBackend   Type = "sqlite"
	PostgresBackend Type = "postgres"
	MemoryBackend   Type = "memory"
)

func (t Type) String() string {
	return string(t)
}

// IsValid returns true for a known backend type.
func (t Type) IsValid() bool {
	switch t {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Open builds the storage backend named by the configuration and runs
// its migrations. The caller owns the returned store and must Close it.
func Open(cfg *config.Config, logger *log.Logger) (storage.Store, error) {
	logger = logger.WithComponent(log.ComponentBackend)

	backendType := Type(cfg.DataBackend)
	if !backendType.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.DataBackend)
	}

	switch backendType {
	case SQLiteBackend:
		store, err := sqlite.NewRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return store, nil

	case PostgresBackend:
		store, err := postgres.NewStore(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		logger.Info("Initialized Postgres backend")
		return store, nil

	case MemoryBackend:
		logger.Info("Initialized memory backend")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}

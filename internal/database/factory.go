package database

import (
	"fmt"
	"os"
	"path/filepath"

	"attache/internal/config"
)

// NewRecordStoreFromConfig creates a SQLiteStore based on the database config type.
// File databases must be migrated explicitly; in-memory databases are
// migrated on creation since nothing else could reach them.
func NewRecordStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "attache.db"), nil, nil)
	case "memory":
		store, err := NewSQLiteStore(":memory:", nil, nil)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheSeeker/Sone-sub000/internal/config"
)

// FileName is the name of the state database inside the configured data directory.
const FileName = "sone.db"

// NewDatabaseFromConfig opens the database described by cfg. The schema is not
// migrated; callers run Migrate.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

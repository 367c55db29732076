// Package factory selects a storage backend from configuration.
package factory

import (
	"fmt"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/internal/storage/memory"
	"github.com/aloksahay/warhead/internal/storage/postgres"
	sqlitestorage "github.com/aloksahay/warhead/internal/storage/sqlite"
)

// NewStore creates a storage backend based on configuration. The caller
// must call Init before use.
func NewStore(cfg config.StorageConfig, log logging.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.DB, log)
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, log)
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// Package postgres implements storage.Store on PostgreSQL through the GORM backend.
package postgres

import (
	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/database"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	gormstorage "github.com/aloksahay/warhead/internal/storage/gorm"
)

// Backend is the GORM backend bound to a PostgreSQL connection.
type Backend struct {
	*gormstorage.Backend
	cfg config.DBConfig
}

var _ storage.Store = (*Backend)(nil)

// New connects to PostgreSQL. Connection failures are reported as
// core.ErrUnavailable.
func New(cfg config.DBConfig, log logging.Logger) (*Backend, error) {
	db, err := database.OpenPostgres(cfg)
	if err != nil {
		return nil, storage.Unavailable(err)
	}

	log.Info("connected to postgres", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	return &Backend{
		Backend: gormstorage.New(db, log),
		cfg:     cfg,
	}, nil
}

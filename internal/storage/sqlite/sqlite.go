// Package sqlitestorage implements storage.Store on SQLite, in memory or on
// disk, with optional periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend via composition; the only SQLite-specific
// concerns are opening the database and the dump loop.
package sqlitestorage

import (
	"sync"
	"time"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/database"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	gormstorage "github.com/aloksahay/warhead/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      logging.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

var _ storage.Store = (*Backend)(nil)

// New creates a new SQLite storage backend.
func New(cfg config.SQLiteConfig, log logging.Logger) (*Backend, error) {
	db, err := database.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, storage.Unavailable(err)
	}

	return &Backend{
		Backend:  gormstorage.New(db, log),
		db:       db,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.loopDone = make(chan struct{})
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the
// embedded GORM backend.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	if b.loopDone != nil {
		<-b.loopDone
		b.dump()
	}
	return b.Backend.Close()
}

// Dump writes a point-in-time copy of the database to the configured dump path.
func (b *Backend) Dump() error {
	return database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath)
}

// dumpLoop periodically dumps the database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.loopDone)

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.dump()
		}
	}
}

func (b *Backend) dump() {
	start := time.Now()
	if err := b.Dump(); err != nil {
		b.log.Error("error dumping to disk", "error", err, "path", b.cfg.DumpPath)
		return
	}
	b.log.Debug("dumped to disk", "path", b.cfg.DumpPath, "took", time.Since(start).String())
}

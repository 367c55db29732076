// Package gormstorage implements storage.Store on any GORM dialect.
// Conditional transitions are single UPDATE statements guarded by the
// expected current state; CommitImpact runs in one transaction.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aloksahay/warhead/internal/database"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/model"
	"github.com/aloksahay/warhead/internal/model/convert"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"

	"gorm.io/gorm"
)

// Backend implements storage.Store using GORM.
type Backend struct {
	db  *gorm.DB
	log logging.Logger
}

var _ storage.Store = (*Backend)(nil)

// New creates a new GORM storage backend over an open connection.
func New(db *gorm.DB, log logging.Logger) *Backend {
	return &Backend{db: db, log: log}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if err := database.Migrate(b.db); err != nil {
		return storage.Unavailable(err)
	}
	b.log.Debug("schema migrated", "dialect", b.db.Dialector.Name())
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreatePlayer inserts a new player. A blank status defaults to alive.
func (b *Backend) CreatePlayer(ctx context.Context, p core.Player) (core.Player, error) {
	if p.ID == "" {
		return core.Player{}, fmt.Errorf("%w: player id", core.ErrMissingField)
	}
	if p.Status == "" {
		p.Status = core.PlayerAlive
	}
	if err := storage.ValidatePlayer(p); err != nil {
		return core.Player{}, err
	}
	row := convert.PlayerToGorm(p)

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Player{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return core.ErrPlayerExists
		}
		return translate(tx.Create(&row).Error, core.ErrPlayerExists)
	})
	if err != nil {
		return core.Player{}, storage.Unavailable(err)
	}
	return convert.PlayerToCore(row), nil
}

// GetPlayer returns a player by ID.
func (b *Backend) GetPlayer(ctx context.Context, id string) (core.Player, error) {
	row, err := findPlayer(b.db.WithContext(ctx), id, core.ErrPlayerNotFound)
	if err != nil {
		return core.Player{}, storage.Unavailable(err)
	}
	return convert.PlayerToCore(row), nil
}

// GetPlayers returns the known players among ids, keyed by ID.
func (b *Backend) GetPlayers(ctx context.Context, ids []string) (map[string]core.Player, error) {
	out := make(map[string]core.Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Player
	if err := b.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, storage.Unavailable(err)
	}
	for _, row := range rows {
		out[row.ID] = convert.PlayerToCore(row)
	}
	return out, nil
}

// ListLocatedPlayers returns every player with both coordinates set, by ID.
func (b *Backend) ListLocatedPlayers(ctx context.Context) ([]core.Player, error) {
	var rows []model.Player
	err := b.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, storage.Unavailable(err)
	}
	out := make([]core.Player, 0, len(rows))
	for _, row := range rows {
		out = append(out, convert.PlayerToCore(row))
	}
	return out, nil
}

// UpdatePlayerLocation records a player's latest position.
func (b *Backend) UpdatePlayerLocation(ctx context.Context, id string, loc core.LatLon, at time.Time) (core.Player, error) {
	var row model.Player
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Player{}).Where("id = ?", id).Updates(map[string]any{
			"latitude":   loc.Lat,
			"longitude":  loc.Lon,
			"updated_at": at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return core.ErrPlayerNotFound
		}
		var err error
		row, err = findPlayer(tx, id, core.ErrPlayerNotFound)
		return err
	})
	if err != nil {
		return core.Player{}, storage.Unavailable(err)
	}
	return convert.PlayerToCore(row), nil
}

// CreateMissile inserts a new missile. The database assigns its ID.
func (b *Backend) CreateMissile(ctx context.Context, m core.Missile) (core.Missile, error) {
	if m.TokenID == "" {
		return core.Missile{}, fmt.Errorf("%w: token id", core.ErrMissingField)
	}
	if m.Status == "" {
		m.Status = core.MissileReady
	}
	m.ID = 0
	if err := storage.ValidateMissile(m); err != nil {
		return core.Missile{}, err
	}
	row, err := convert.MissileToGorm(m)
	if err != nil {
		return core.Missile{}, err
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Missile{}).Where("token_id = ?", m.TokenID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return core.ErrTokenExists
		}
		return translate(tx.Create(&row).Error, core.ErrTokenExists)
	})
	if err != nil {
		return core.Missile{}, storage.Unavailable(err)
	}
	return missileToCore(row)
}

// GetMissile returns a missile by ID.
func (b *Backend) GetMissile(ctx context.Context, id uint) (core.Missile, error) {
	row, err := findMissile(b.db.WithContext(ctx), id)
	if err != nil {
		return core.Missile{}, storage.Unavailable(err)
	}
	return missileToCore(row)
}

// ListMissilesByOwner returns an owner's missiles, oldest first.
func (b *Backend) ListMissilesByOwner(ctx context.Context, ownerID string) ([]core.Missile, error) {
	var rows []model.Missile
	err := b.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, storage.Unavailable(err)
	}
	return missilesToCore(rows)
}

// ListInFlightBefore returns in-flight missiles launched before cutoff.
func (b *Backend) ListInFlightBefore(ctx context.Context, cutoff time.Time) ([]core.Missile, error) {
	var rows []model.Missile
	err := b.db.WithContext(ctx).
		Where("status = ? AND launch_time < ?", string(core.MissileInFlight), cutoff.UTC()).
		Order("launch_time, id").
		Find(&rows).Error
	if err != nil {
		return nil, storage.Unavailable(err)
	}
	return missilesToCore(rows)
}

// LaunchMissile moves a ready missile owned by the caller to in_flight
// with one guarded UPDATE.
func (b *Backend) LaunchMissile(ctx context.Context, p storage.LaunchParams) (core.Missile, error) {
	var row model.Missile
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Missile{}).
			Where("id = ? AND owner_id = ? AND status = ?", p.MissileID, p.OwnerID, string(core.MissileReady)).
			Updates(map[string]any{
				"status":           string(core.MissileInFlight),
				"launch_time":      p.At.UTC(),
				"target_latitude":  p.TargetLocation.Lat,
				"target_longitude": p.TargetLocation.Lon,
				"target_id":        p.TargetID,
				"updated_at":       p.At,
			})
		if res.Error != nil {
			return res.Error
		}

		var err error
		row, err = findMissile(tx, p.MissileID)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			if row.OwnerID != p.OwnerID {
				return core.ErrNotOwner
			}
			return core.ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return core.Missile{}, storage.Unavailable(err)
	}
	return missileToCore(row)
}

// FinishMissile moves an in-flight missile to a terminal status.
func (b *Backend) FinishMissile(ctx context.Context, id uint, status core.MissileStatus, at time.Time) (core.Missile, error) {
	if !status.Terminal() {
		return core.Missile{}, core.ErrInvalidTerminalStatus
	}

	var row model.Missile
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := finishInFlight(tx, id, status, at); err != nil {
			return err
		}
		var err error
		row, err = findMissile(tx, id)
		return err
	})
	if err != nil {
		return core.Missile{}, storage.Unavailable(err)
	}
	return missileToCore(row)
}

// ReassignMissile transfers a ready missile to a new owner.
func (b *Backend) ReassignMissile(ctx context.Context, id uint, newOwnerID string, at time.Time) (core.Missile, error) {
	var row model.Missile
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Missile{}).
			Where("id = ? AND status = ?", id, string(core.MissileReady)).
			Updates(map[string]any{"owner_id": newOwnerID, "updated_at": at})
		if res.Error != nil {
			return res.Error
		}
		var err error
		row, err = findMissile(tx, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return core.ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return core.Missile{}, storage.Unavailable(err)
	}
	return missileToCore(row)
}

// CommitImpact explodes the missile, damages the target and inserts the
// impact in one transaction.
func (b *Backend) CommitImpact(ctx context.Context, p storage.ImpactParams) (storage.ImpactResult, error) {
	impact, err := convert.ImpactToGorm(core.MissileImpact{
		MissileID:      p.MissileID,
		TargetID:       p.TargetID,
		Damage:         p.Damage,
		ImpactLocation: p.Location,
		ImpactTime:     p.At,
	})
	if err != nil {
		return storage.ImpactResult{}, err
	}

	var (
		missile model.Missile
		target  model.Player
	)
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := finishInFlight(tx, p.MissileID, core.MissileExploded, p.At); err != nil {
			return err
		}
		if err := applyDamage(tx, p.TargetID, p.Damage, p.At, core.ErrTargetNotFound); err != nil {
			return err
		}
		if err := translate(tx.Create(&impact).Error, core.ErrInvalidState); err != nil {
			return err
		}

		var err error
		if missile, err = findMissile(tx, p.MissileID); err != nil {
			return err
		}
		target, err = findPlayer(tx, p.TargetID, core.ErrTargetNotFound)
		return err
	})
	if err != nil {
		return storage.ImpactResult{}, storage.Unavailable(err)
	}

	m, err := missileToCore(missile)
	if err != nil {
		return storage.ImpactResult{}, err
	}
	return storage.ImpactResult{
		Missile: m,
		Target:  convert.PlayerToCore(target),
		Impact:  convert.ImpactToCore(impact),
	}, nil
}

// GetImpactByMissile returns the impact recorded for a missile.
func (b *Backend) GetImpactByMissile(ctx context.Context, missileID uint) (core.MissileImpact, error) {
	var row model.MissileImpact
	err := b.db.WithContext(ctx).Where("missile_id = ?", missileID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.MissileImpact{}, core.ErrImpactNotFound
	}
	if err != nil {
		return core.MissileImpact{}, storage.Unavailable(err)
	}
	return convert.ImpactToCore(row), nil
}

// applyDamage is a single atomic read-modify-write. Both CASE expressions
// see the pre-update shield value.
func applyDamage(tx *gorm.DB, playerID string, damage int, at time.Time, notFound error) error {
	res := tx.Model(&model.Player{}).Where("id = ?", playerID).Updates(map[string]any{
		"shield_points": gorm.Expr("CASE WHEN shield_points > ? THEN shield_points - ? ELSE 0 END", damage, damage),
		"status":        gorm.Expr("CASE WHEN shield_points > ? THEN status ELSE ? END", damage, string(core.PlayerDead)),
		"updated_at":    at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func finishInFlight(tx *gorm.DB, id uint, status core.MissileStatus, at time.Time) error {
	res := tx.Model(&model.Missile{}).
		Where("id = ? AND status = ?", id, string(core.MissileInFlight)).
		Updates(map[string]any{"status": string(status), "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := findMissile(tx, id); err != nil {
		return err
	}
	return core.ErrInvalidState
}

func findPlayer(tx *gorm.DB, id string, notFound error) (model.Player, error) {
	var row model.Player
	err := tx.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, notFound
	}
	return row, err
}

func findMissile(tx *gorm.DB, id uint) (model.Missile, error) {
	var row model.Missile
	err := tx.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, core.ErrMissileNotFound
	}
	return row, err
}

// translate maps a unique-key violation to the given domain error.
func translate(err, duplicate error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return duplicate
	}
	return err
}

func missileToCore(row model.Missile) (core.Missile, error) {
	m, err := convert.MissileToCore(row)
	if err != nil {
		return core.Missile{}, storage.Unavailable(err)
	}
	return m, nil
}

func missilesToCore(rows []model.Missile) ([]core.Missile, error) {
	out := make([]core.Missile, 0, len(rows))
	for _, row := range rows {
		m, err := missileToCore(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

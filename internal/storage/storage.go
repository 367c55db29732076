// internal/storage/storage.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aloksahay/warhead/pkg/core"
)

// Store is the durable system of record. Every implementation must make
// LaunchMissile, FinishMissile, ReassignMissile and CommitImpact atomic
// with respect to concurrent callers.
type Store interface {
	// Lifecycle
	Init() error
	Close() error

	// Players
	CreatePlayer(ctx context.Context, p core.Player) (core.Player, error)
	GetPlayer(ctx context.Context, id string) (core.Player, error)
	GetPlayers(ctx context.Context, ids []string) (map[string]core.Player, error)
	ListLocatedPlayers(ctx context.Context) ([]core.Player, error)
	UpdatePlayerLocation(ctx context.Context, id string, loc core.LatLon, at time.Time) (core.Player, error)

	// Missiles
	CreateMissile(ctx context.Context, m core.Missile) (core.Missile, error)
	GetMissile(ctx context.Context, id uint) (core.Missile, error)
	ListMissilesByOwner(ctx context.Context, ownerID string) ([]core.Missile, error)
	ListInFlightBefore(ctx context.Context, cutoff time.Time) ([]core.Missile, error)

	// Conditional transitions
	LaunchMissile(ctx context.Context, p LaunchParams) (core.Missile, error)
	FinishMissile(ctx context.Context, id uint, status core.MissileStatus, at time.Time) (core.Missile, error)
	ReassignMissile(ctx context.Context, id uint, newOwnerID string, at time.Time) (core.Missile, error)

	// Combat
	CommitImpact(ctx context.Context, p ImpactParams) (ImpactResult, error)
	GetImpactByMissile(ctx context.Context, missileID uint) (core.MissileImpact, error)
}

// LaunchParams moves a missile from ready to in_flight. The update only
// applies while the missile is ready and owned by OwnerID.
type LaunchParams struct {
	MissileID      uint
	OwnerID        string
	TargetID       string
	TargetLocation core.LatLon
	At             time.Time
}

// ImpactParams resolves an in_flight missile against its target.
type ImpactParams struct {
	MissileID uint
	TargetID  string
	Damage    int
	Location  core.LatLon
	At        time.Time
}

// ImpactResult is the committed state after CommitImpact.
type ImpactResult struct {
	Missile core.Missile
	Target  core.Player
	Impact  core.MissileImpact
}

// Unavailable marks err as an infrastructure failure. Domain errors
// (validation, not found, conflict) and nil pass through unchanged.
func Unavailable(err error) error {
	if err == nil || IsDomainError(err) || errors.Is(err, core.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrUnavailable, err)
}

// IsDomainError reports whether err is a definitive answer from the store
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	return errors.Is(err, core.ErrValidation) ||
		errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrConflict)
}

// ValidatePlayer checks a new player record: a live player has a positive
// shield and a dead one has none.
func ValidatePlayer(p core.Player) error {
	switch {
	case p.ShieldPoints < 0:
		return fmt.Errorf("%w: shield_points=%d", core.ErrInvalidPlayer, p.ShieldPoints)
	case p.Status == core.PlayerAlive && p.ShieldPoints == 0:
		return fmt.Errorf("%w: alive with shield_points=0", core.ErrInvalidPlayer)
	case p.Status == core.PlayerDead && p.ShieldPoints != 0:
		return fmt.Errorf("%w: dead with shield_points=%d", core.ErrInvalidPlayer, p.ShieldPoints)
	case p.Status != core.PlayerAlive && p.Status != core.PlayerDead:
		return fmt.Errorf("%w: status %q", core.ErrInvalidPlayer, p.Status)
	}
	return nil
}

// ValidateMissile checks a new missile record. Its attributes must encode
// as JSON so every backend can store them.
func ValidateMissile(m core.Missile) error {
	if len(m.Attributes) == 0 {
		return nil
	}
	if _, err := json.Marshal(m.Attributes); err != nil {
		return fmt.Errorf("%w: missile attributes: %v", core.ErrValidation, err)
	}
	return nil
}

// ApplyDamageTo returns the player's state after taking damage: shield
// never drops below zero and a player at zero shield is dead.
func ApplyDamageTo(p core.Player, damage int) core.Player {
	if p.ShieldPoints > damage {
		p.ShieldPoints -= damage
		return p
	}
	p.ShieldPoints = 0
	p.Status = core.PlayerDead
	return p
}

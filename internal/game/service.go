// Package game is the boundary the transport layers call: location
// reports, missile listing and launching, and event subscriptions.
package game

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aloksahay/warhead/internal/combat"
	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/geo"
	"github.com/aloksahay/warhead/internal/ledger"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
)

// Config holds player-facing tunables.
type Config struct {
	NearbyRadiusMeters float64
	StartingShield     int
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		NearbyRadiusMeters: 5000,
		StartingShield:     100,
	}
}

// Dependencies holds all dependencies for the service.
type Dependencies struct {
	Store    storage.Store
	Index    *geo.Index
	Ledger   *ledger.Ledger
	Resolver *combat.Resolver
	Bus      *events.Bus
	Logger   logging.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Service composes the engine components.
type Service struct {
	deps Dependencies
	cfg  Config
}

// Validate checks that new players start alive and the nearby radius is usable.
func (c Config) Validate() error {
	if c.StartingShield <= 0 {
		return fmt.Errorf("%w: starting shield must be positive, got %d", core.ErrValidation, c.StartingShield)
	}
	if math.IsNaN(c.NearbyRadiusMeters) || math.IsInf(c.NearbyRadiusMeters, 0) || c.NearbyRadiusMeters < 0 {
		return fmt.Errorf("%w: nearby radius must be a non-negative distance, got %v", core.ErrValidation, c.NearbyRadiusMeters)
	}
	return nil
}

// New creates a Service.
func New(deps Dependencies, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{deps: deps, cfg: cfg}, nil
}

// RegisterPlayer creates a player with the starting shield.
func (s *Service) RegisterPlayer(ctx context.Context, playerID, nickname string) (core.Player, error) {
	if playerID == "" {
		return core.Player{}, fmt.Errorf("%w: player id", core.ErrMissingField)
	}

	p, err := s.deps.Store.CreatePlayer(ctx, core.Player{
		ID:           playerID,
		Nickname:     nickname,
		Status:       core.PlayerAlive,
		ShieldPoints: s.cfg.StartingShield,
		CreatedAt:    s.deps.Clock(),
	})
	if err != nil {
		return core.Player{}, err
	}

	s.deps.Logger.Info("player registered", "player", p.ID, "nickname", p.Nickname)
	s.deps.Bus.Publish(events.PlayerUpdated(p))
	return p, nil
}

// GetPlayer returns a player record.
func (s *Service) GetPlayer(ctx context.Context, playerID string) (core.Player, error) {
	return s.deps.Store.GetPlayer(ctx, playerID)
}

// ReportLocation records a player's position and returns everyone within
// the nearby radius, the reporting player included, nearest first.
func (s *Service) ReportLocation(ctx context.Context, playerID string, lat, lon float64) ([]core.NearbyPlayer, error) {
	if err := geo.Validate(lat, lon); err != nil {
		return nil, err
	}

	p, err := s.deps.Store.UpdatePlayerLocation(ctx, playerID, core.LatLon{Lat: lat, Lon: lon}, s.deps.Clock())
	if err != nil {
		return nil, err
	}
	if err := s.deps.Index.Upsert(playerID, lat, lon); err != nil {
		return nil, err
	}
	s.deps.Bus.Publish(events.PlayerUpdated(p))

	return s.Nearby(ctx, lat, lon, s.cfg.NearbyRadiusMeters)
}

// Nearby returns player records within radiusMeters of the point.
// Indexed players without a stored record are skipped.
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]core.NearbyPlayer, error) {
	hits, err := s.deps.Index.Nearby(lat, lon, radiusMeters)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []core.NearbyPlayer{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.PlayerID
	}
	players, err := s.deps.Store.GetPlayers(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]core.NearbyPlayer, 0, len(hits))
	for _, h := range hits {
		p, ok := players[h.PlayerID]
		if !ok {
			continue
		}
		out = append(out, core.NearbyPlayer{Player: p, DistanceMeters: h.DistanceMeters})
	}
	return out, nil
}

// ListMissiles returns the owner's missiles, oldest first.
func (s *Service) ListMissiles(ctx context.Context, ownerID string) ([]core.Missile, error) {
	return s.deps.Ledger.ListByOwner(ctx, ownerID)
}

// MintMissile records a newly minted missile token.
func (s *Service) MintMissile(ctx context.Context, req ledger.MintRequest) (core.Missile, error) {
	return s.deps.Ledger.Mint(ctx, req)
}

// LaunchMissile fires the requester's missile at the target now.
func (s *Service) LaunchMissile(ctx context.Context, requesterID string, missileID uint, targetID string) (core.MissileImpact, error) {
	return s.deps.Resolver.Launch(ctx, requesterID, missileID, targetID, s.deps.Clock())
}

// Subscribe opens an event subscription for everything addressed to
// principalID, optionally narrowed to the given kinds.
func (s *Service) Subscribe(principalID string, kinds ...events.Kind) (*events.Subscription, error) {
	if principalID == "" {
		return nil, core.ErrUnauthenticated
	}
	return s.deps.Bus.Subscribe(events.Filter{Kinds: kinds, RecipientID: principalID})
}

// RebuildIndex loads every located player into the proximity index.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	players, err := s.deps.Store.ListLocatedPlayers(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range players {
		if err := s.deps.Index.Upsert(p.ID, p.Location.Lat, p.Location.Lon); err != nil {
			s.deps.Logger.Warn("skipping stored location", "player", p.ID, "error", err)
			continue
		}
		n++
	}
	s.deps.Index.Rebuild()

	s.deps.Logger.Info("proximity index rebuilt", "players", n)
	return n, nil
}

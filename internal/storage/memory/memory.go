// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
)

// Backend keeps the system of record in process memory. A single mutex
// guards every map; it is held only for the mutation itself.
type Backend struct {
	mu sync.RWMutex

	players  map[string]core.Player
	missiles map[uint]core.Missile
	tokens   map[string]uint
	impacts  map[uint]core.MissileImpact // keyed by missile ID

	missileSeq uint
	impactSeq  uint

	now func() time.Time
}

var _ storage.Store = (*Backend)(nil)

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		players:  make(map[string]core.Player),
		missiles: make(map[uint]core.Missile),
		tokens:   make(map[string]uint),
		impacts:  make(map[uint]core.MissileImpact),
		now:      time.Now,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// CreatePlayer stores a new player. A blank status defaults to alive.
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

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.players[p.ID]; ok {
		return core.Player{}, core.ErrPlayerExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = b.now()
	}
	p.UpdatedAt = p.CreatedAt
	p = clonePlayer(p)
	b.players[p.ID] = p
	return clonePlayer(p), nil
}

// GetPlayer returns a player by ID.
func (b *Backend) GetPlayer(ctx context.Context, id string) (core.Player, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.players[id]
	if !ok {
		return core.Player{}, core.ErrPlayerNotFound
	}
	return clonePlayer(p), nil
}

// GetPlayers returns the known players among ids, keyed by ID.
func (b *Backend) GetPlayers(ctx context.Context, ids []string) (map[string]core.Player, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]core.Player, len(ids))
	for _, id := range ids {
		if p, ok := b.players[id]; ok {
			out[id] = clonePlayer(p)
		}
	}
	return out, nil
}

// ListLocatedPlayers returns every player with a known location, by ID.
func (b *Backend) ListLocatedPlayers(ctx context.Context) ([]core.Player, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []core.Player
	for _, p := range b.players {
		if p.Location != nil {
			out = append(out, clonePlayer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdatePlayerLocation records a player's latest position.
func (b *Backend) UpdatePlayerLocation(ctx context.Context, id string, loc core.LatLon, at time.Time) (core.Player, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.players[id]
	if !ok {
		return core.Player{}, core.ErrPlayerNotFound
	}
	p.Location = &loc
	p.UpdatedAt = at
	b.players[id] = p
	return clonePlayer(p), nil
}

// CreateMissile stores a new missile under the next ID.
func (b *Backend) CreateMissile(ctx context.Context, m core.Missile) (core.Missile, error) {
	if m.TokenID == "" {
		return core.Missile{}, fmt.Errorf("%w: token id", core.ErrMissingField)
	}
	if err := storage.ValidateMissile(m); err != nil {
		return core.Missile{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tokens[m.TokenID]; ok {
		return core.Missile{}, core.ErrTokenExists
	}
	b.missileSeq++
	m.ID = b.missileSeq
	if m.Status == "" {
		m.Status = core.MissileReady
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = b.now()
	}
	m.UpdatedAt = m.CreatedAt
	m = cloneMissile(m)
	b.missiles[m.ID] = m
	b.tokens[m.TokenID] = m.ID
	return cloneMissile(m), nil
}

// GetMissile returns a missile by ID.
func (b *Backend) GetMissile(ctx context.Context, id uint) (core.Missile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.missiles[id]
	if !ok {
		return core.Missile{}, core.ErrMissileNotFound
	}
	return cloneMissile(m), nil
}

// ListMissilesByOwner returns an owner's missiles, oldest first.
func (b *Backend) ListMissilesByOwner(ctx context.Context, ownerID string) ([]core.Missile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []core.Missile{}
	for _, m := range b.missiles {
		if m.OwnerID == ownerID {
			out = append(out, cloneMissile(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListInFlightBefore returns in-flight missiles launched before cutoff.
func (b *Backend) ListInFlightBefore(ctx context.Context, cutoff time.Time) ([]core.Missile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []core.Missile
	for _, m := range b.missiles {
		if m.Status == core.MissileInFlight && m.LaunchTime != nil && m.LaunchTime.Before(cutoff) {
			out = append(out, cloneMissile(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LaunchTime.Equal(*out[j].LaunchTime) {
			return out[i].LaunchTime.Before(*out[j].LaunchTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LaunchMissile moves a ready missile owned by the caller to in_flight.
func (b *Backend) LaunchMissile(ctx context.Context, p storage.LaunchParams) (core.Missile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.missiles[p.MissileID]
	switch {
	case !ok:
		return core.Missile{}, core.ErrMissileNotFound
	case m.OwnerID != p.OwnerID:
		return core.Missile{}, core.ErrNotOwner
	case m.Status != core.MissileReady:
		return core.Missile{}, core.ErrInvalidState
	}

	at := p.At
	loc := p.TargetLocation
	target := p.TargetID
	m.Status = core.MissileInFlight
	m.LaunchTime = &at
	m.TargetLocation = &loc
	m.TargetID = &target
	m.UpdatedAt = at
	b.missiles[m.ID] = m
	return cloneMissile(m), nil
}

// FinishMissile moves an in-flight missile to a terminal status.
func (b *Backend) FinishMissile(ctx context.Context, id uint, status core.MissileStatus, at time.Time) (core.Missile, error) {
	if !status.Terminal() {
		return core.Missile{}, core.ErrInvalidTerminalStatus
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.inFlightLocked(id)
	if err != nil {
		return core.Missile{}, err
	}
	m.Status = status
	m.UpdatedAt = at
	b.missiles[id] = m
	return cloneMissile(m), nil
}

// ReassignMissile transfers a ready missile to a new owner.
func (b *Backend) ReassignMissile(ctx context.Context, id uint, newOwnerID string, at time.Time) (core.Missile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.missiles[id]
	if !ok {
		return core.Missile{}, core.ErrMissileNotFound
	}
	if m.Status != core.MissileReady {
		return core.Missile{}, core.ErrInvalidState
	}
	m.OwnerID = newOwnerID
	m.UpdatedAt = at
	b.missiles[id] = m
	return cloneMissile(m), nil
}

// CommitImpact explodes the missile, damages the target and records the
// impact under one lock.
func (b *Backend) CommitImpact(ctx context.Context, p storage.ImpactParams) (storage.ImpactResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.inFlightLocked(p.MissileID)
	if err != nil {
		return storage.ImpactResult{}, err
	}
	target, ok := b.players[p.TargetID]
	if !ok {
		return storage.ImpactResult{}, core.ErrTargetNotFound
	}

	m.Status = core.MissileExploded
	m.UpdatedAt = p.At
	target = storage.ApplyDamageTo(target, p.Damage)
	target.UpdatedAt = p.At
	b.impactSeq++
	impact := core.MissileImpact{
		ID:             b.impactSeq,
		MissileID:      m.ID,
		TargetID:       p.TargetID,
		Damage:         p.Damage,
		ImpactLocation: p.Location,
		ImpactTime:     p.At,
	}

	b.missiles[m.ID] = m
	b.players[target.ID] = target
	b.impacts[m.ID] = impact

	return storage.ImpactResult{
		Missile: cloneMissile(m),
		Target:  clonePlayer(target),
		Impact:  impact,
	}, nil
}

// GetImpactByMissile returns the impact recorded for a missile.
func (b *Backend) GetImpactByMissile(ctx context.Context, missileID uint) (core.MissileImpact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	impact, ok := b.impacts[missileID]
	if !ok {
		return core.MissileImpact{}, core.ErrImpactNotFound
	}
	return impact, nil
}

func (b *Backend) inFlightLocked(id uint) (core.Missile, error) {
	m, ok := b.missiles[id]
	if !ok {
		return core.Missile{}, core.ErrMissileNotFound
	}
	if m.Status != core.MissileInFlight {
		return core.Missile{}, core.ErrInvalidState
	}
	return m, nil
}

// clonePlayer detaches the copy from pointers held in the maps.
func clonePlayer(p core.Player) core.Player {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}

func cloneMissile(m core.Missile) core.Missile {
	if m.LaunchTime != nil {
		t := *m.LaunchTime
		m.LaunchTime = &t
	}
	if m.TargetLocation != nil {
		loc := *m.TargetLocation
		m.TargetLocation = &loc
	}
	if m.TargetID != nil {
		id := *m.TargetID
		m.TargetID = &id
	}
	if m.Attributes != nil {
		m.Attributes = maps.Clone(m.Attributes)
	}
	return m
}

// Package ledger owns missile custody: lookups, minting, ownership changes
// and the one-way status transitions ready -> in_flight -> exploded|destroyed.
// Every committed change is published as a MissileUpdated event.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
)

// LaunchTransition moves a ready missile into flight toward a target.
type LaunchTransition struct {
	MissileID      uint
	OwnerID        string
	TargetID       string
	TargetLocation core.LatLon
	Now            time.Time
}

// MintRequest records a newly minted missile token.
type MintRequest struct {
	OwnerID    string
	TokenID    string
	Type       int
	Attributes map[string]any
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source for transitions that do not
// carry their own time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithMissileTypes restricts Mint to types the predicate accepts.
func WithMissileTypes(known func(missileType int) bool) Option {
	return func(l *Ledger) {
		l.knownType = known
	}
}

// Ledger is the missile custody service.
type Ledger struct {
	store     storage.Store
	pub       events.Publisher
	log       logging.Logger
	now       func() time.Time
	knownType func(int) bool
}

// New creates a Ledger over the store, publishing changes to pub.
func New(store storage.Store, pub events.Publisher, log logging.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		pub:       pub,
		log:       log,
		now:       time.Now,
		knownType: func(t int) bool { return t > 0 },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns a missile by ID.
func (l *Ledger) Get(ctx context.Context, missileID uint) (core.Missile, error) {
	return l.store.GetMissile(ctx, missileID)
}

// ListByOwner returns the owner's missiles, oldest first.
func (l *Ledger) ListByOwner(ctx context.Context, ownerID string) ([]core.Missile, error) {
	return l.store.ListMissilesByOwner(ctx, ownerID)
}

// TransitionReadyToInFlight is the single serialization point of a launch:
// of any number of concurrent calls for one missile, at most one succeeds.
func (l *Ledger) TransitionReadyToInFlight(ctx context.Context, t LaunchTransition) (core.Missile, error) {
	m, err := l.store.LaunchMissile(ctx, storage.LaunchParams{
		MissileID:      t.MissileID,
		OwnerID:        t.OwnerID,
		TargetID:       t.TargetID,
		TargetLocation: t.TargetLocation,
		At:             t.Now,
	})
	if err != nil {
		return core.Missile{}, err
	}

	l.log.Debug("missile launched", "missile", m.ID, "owner", m.OwnerID, "target", t.TargetID)
	l.pub.Publish(events.MissileUpdated(m))
	return m, nil
}

// TransitionToTerminal ends a missile's flight. Only exploded and destroyed
// are accepted, and only from in_flight.
func (l *Ledger) TransitionToTerminal(ctx context.Context, missileID uint, status core.MissileStatus) (core.Missile, error) {
	if !status.Terminal() {
		return core.Missile{}, fmt.Errorf("%w: %q", core.ErrInvalidTerminalStatus, status)
	}

	m, err := l.store.FinishMissile(ctx, missileID, status, l.now())
	if err != nil {
		return core.Missile{}, err
	}

	l.log.Debug("missile finished", "missile", m.ID, "status", string(m.Status))
	l.pub.Publish(events.MissileUpdated(m))
	return m, nil
}

// Mint records a missile token for an existing player in the ready state.
func (l *Ledger) Mint(ctx context.Context, req MintRequest) (core.Missile, error) {
	switch {
	case req.OwnerID == "":
		return core.Missile{}, fmt.Errorf("%w: owner id", core.ErrMissingField)
	case req.TokenID == "":
		return core.Missile{}, fmt.Errorf("%w: token id", core.ErrMissingField)
	case !l.knownType(req.Type):
		return core.Missile{}, fmt.Errorf("%w: %d", core.ErrInvalidMissileType, req.Type)
	}

	if _, err := l.store.GetPlayer(ctx, req.OwnerID); err != nil {
		return core.Missile{}, err
	}

	m, err := l.store.CreateMissile(ctx, core.Missile{
		TokenID:    req.TokenID,
		Type:       req.Type,
		OwnerID:    req.OwnerID,
		Status:     core.MissileReady,
		Attributes: req.Attributes,
		CreatedAt:  l.now(),
	})
	if err != nil {
		return core.Missile{}, err
	}

	l.log.Info("missile minted", "missile", m.ID, "token", m.TokenID, "owner", m.OwnerID, "type", m.Type)
	l.pub.Publish(events.MissileUpdated(m))
	return m, nil
}

// Reassign moves a ready missile to a new owner.
func (l *Ledger) Reassign(ctx context.Context, missileID uint, newOwnerID string) (core.Missile, error) {
	if newOwnerID == "" {
		return core.Missile{}, fmt.Errorf("%w: owner id", core.ErrMissingField)
	}

	before, err := l.store.GetMissile(ctx, missileID)
	if err != nil {
		return core.Missile{}, err
	}
	if before.OwnerID == newOwnerID {
		return before, nil
	}

	m, err := l.store.ReassignMissile(ctx, missileID, newOwnerID, l.now())
	if err != nil {
		return core.Missile{}, err
	}

	l.log.Info("missile reassigned", "missile", m.ID, "from", before.OwnerID, "to", m.OwnerID)
	l.pub.Publish(events.MissileUpdated(m))
	return m, nil
}

// Package combat resolves missile launches into impacts and recovers
// missiles whose resolution was interrupted.
package combat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/ledger"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// LocationSource is the fallback for a target's last known position.
type LocationSource interface {
	Position(playerID string) (core.LatLon, bool)
}

// Dependencies holds all dependencies for the resolver.
type Dependencies struct {
	Store     storage.Store
	Ledger    *ledger.Ledger
	Locations LocationSource
	Publisher events.Publisher
	Logger    logging.Logger
}

// Resolver runs the launch pipeline.
type Resolver struct {
	deps Dependencies
	cfg  Config
	now  func() time.Time

	// OTEL metrics
	launches   metric.Int64Counter
	recoveries metric.Int64Counter
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used by Run.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a Resolver. Uses the global OTel meter for metrics
// (no-op if not configured).
func NewResolver(deps Dependencies, cfg Config, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	m := meter()

	var err error

	r.launches, err = m.Int64Counter(
		"combat.launches",
		metric.WithDescription("Launch attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating launches counter: %w", err)
	}

	r.recoveries, err = m.Int64Counter(
		"combat.recoveries",
		metric.WithDescription("Stuck missiles handled by recovery, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating recoveries counter: %w", err)
	}

	return r, nil
}

// DamageFor returns the damage for a missile type under this resolver's
// default.
func (r *Resolver) DamageFor(missileType int) int {
	return damageFor(missileType, r.cfg.DefaultDamage)
}

// Launch fires requesterID's missile at targetID.
//
// Validation and the ready -> in_flight transition either fail with no
// state change or succeed; from the transition on, the launch runs to
// completion regardless of ctx. A failed commit leaves the missile in
// flight for recovery.
func (r *Resolver) Launch(ctx context.Context, requesterID string, missileID uint, targetID string, now time.Time) (impact core.MissileImpact, err error) {
	ctx, span := tracer().Start(ctx, "combat.Launch", trace.WithAttributes(
		attribute.Int64("missile.id", int64(missileID)),
		attribute.String("target.id", targetID),
	))
	outcome := "rejected"
	defer func() {
		if err == nil {
			outcome = "hit"
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		r.launches.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	switch {
	case requesterID == "":
		return core.MissileImpact{}, fmt.Errorf("%w: requester id", core.ErrMissingField)
	case targetID == "":
		return core.MissileImpact{}, fmt.Errorf("%w: target id", core.ErrMissingField)
	case targetID == requesterID:
		return core.MissileImpact{}, core.ErrSelfTargetForbidden
	}

	target, err := r.deps.Store.GetPlayer(ctx, targetID)
	if errors.Is(err, core.ErrPlayerNotFound) {
		return core.MissileImpact{}, core.ErrTargetNotFound
	}
	if err != nil {
		return core.MissileImpact{}, err
	}
	if !target.Alive() {
		return core.MissileImpact{}, core.ErrTargetAlreadyDead
	}

	loc, ok := r.targetLocation(target)
	if !ok {
		return core.MissileImpact{}, core.ErrTargetLocationUnknown
	}

	if err := ctx.Err(); err != nil {
		return core.MissileImpact{}, storage.Unavailable(err)
	}
	ctx = context.WithoutCancel(ctx)

	missile, err := r.deps.Ledger.TransitionReadyToInFlight(ctx, ledger.LaunchTransition{
		MissileID:      missileID,
		OwnerID:        requesterID,
		TargetID:       targetID,
		TargetLocation: loc,
		Now:            now,
	})
	if err != nil {
		return core.MissileImpact{}, err
	}

	outcome = "failed"
	res, err := r.deps.Store.CommitImpact(ctx, storage.ImpactParams{
		MissileID: missile.ID,
		TargetID:  targetID,
		Damage:    r.DamageFor(missile.Type),
		Location:  loc,
		At:        now,
	})
	if err != nil {
		r.deps.Logger.Error("impact commit failed, missile left in flight for recovery",
			"missile", missile.ID, "target", targetID, "error", err)
		return core.MissileImpact{}, err
	}

	r.publishImpact(res)
	r.deps.Logger.Info("missile impact",
		"missile", missile.ID,
		"owner", requesterID,
		"target", targetID,
		"damage", res.Impact.Damage,
		"shield", res.Target.ShieldPoints,
		"target_status", string(res.Target.Status))

	return res.Impact, nil
}

// targetLocation prefers the system of record over the proximity index.
func (r *Resolver) targetLocation(target core.Player) (core.LatLon, bool) {
	if target.Location != nil {
		return *target.Location, true
	}
	if r.deps.Locations != nil {
		return r.deps.Locations.Position(target.ID)
	}
	return core.LatLon{}, false
}

func (r *Resolver) publishImpact(res storage.ImpactResult) {
	r.deps.Publisher.Publish(events.MissileUpdated(res.Missile))
	r.deps.Publisher.Publish(events.ImpactOccurred(res.Impact))
	r.deps.Publisher.Publish(events.PlayerUpdated(res.Target))
}

package combat

import (
	"context"
	"errors"
	"time"

	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecoveryReport counts what one recovery pass did.
type RecoveryReport struct {
	Destroyed int
	Resolved  int
	// Skipped missiles were finished concurrently by someone else.
	Skipped int
	Failed  int
}

// Recover handles every missile in flight for longer than
// MaxFlightDuration as of now, according to the recovery policy.
// Failures on individual missiles do not stop the pass.
func (r *Resolver) Recover(ctx context.Context, now time.Time) (RecoveryReport, error) {
	var report RecoveryReport

	ctx, span := tracer().Start(ctx, "combat.Recover")
	defer span.End()

	stuck, err := r.deps.Store.ListInFlightBefore(ctx, now.Add(-r.cfg.MaxFlightDuration))
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	span.SetAttributes(attribute.Int("stuck", len(stuck)))

	var errs []error
	for _, m := range stuck {
		outcome, err := r.recoverOne(ctx, m, now)
		switch {
		case errors.Is(err, core.ErrInvalidState):
			outcome = "skipped"
			report.Skipped++
		case err != nil:
			outcome = "failed"
			report.Failed++
			errs = append(errs, err)
			r.deps.Logger.Error("recovery failed", "missile", m.ID, "error", err)
		case outcome == "resolved":
			report.Resolved++
		default:
			report.Destroyed++
		}
		r.recoveries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if len(stuck) > 0 {
		r.deps.Logger.Info("recovery pass complete",
			"stuck", len(stuck),
			"destroyed", report.Destroyed,
			"resolved", report.Resolved,
			"skipped", report.Skipped,
			"failed", report.Failed)
	}
	return report, errors.Join(errs...)
}

func (r *Resolver) recoverOne(ctx context.Context, m core.Missile, now time.Time) (string, error) {
	if r.cfg.Policy == PolicyResolve && m.TargetID != nil && m.TargetLocation != nil {
		target, err := r.deps.Store.GetPlayer(ctx, *m.TargetID)
		switch {
		case err == nil && target.Alive():
			res, err := r.deps.Store.CommitImpact(ctx, storage.ImpactParams{
				MissileID: m.ID,
				TargetID:  target.ID,
				Damage:    r.DamageFor(m.Type),
				Location:  *m.TargetLocation,
				At:        now,
			})
			if err != nil {
				return "", err
			}
			r.publishImpact(res)
			return "resolved", nil
		case err != nil && !errors.Is(err, core.ErrPlayerNotFound):
			return "", err
		}
	}

	if _, err := r.deps.Ledger.TransitionToTerminal(ctx, m.ID, core.MissileDestroyed); err != nil {
		return "", err
	}
	return "destroyed", nil
}

// Run performs a recovery pass immediately and then every
// RecoveryInterval until ctx is done.
func (r *Resolver) Run(ctx context.Context) {
	r.runPass(ctx)

	ticker := time.NewTicker(r.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Resolver) runPass(ctx context.Context) {
	if _, err := r.Recover(ctx, r.now()); err != nil && ctx.Err() == nil {
		r.deps.Logger.Warn("recovery pass had errors", "error", err)
	}
}

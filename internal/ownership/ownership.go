// Package ownership keeps missile owners in step with an external token
// ownership ledger.
package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/aloksahay/warhead/internal/ownership"

// ErrUnknownToken is returned by a Ledger that has no record of a token.
var ErrUnknownToken = fmt.Errorf("%w: token unknown to ownership ledger", core.ErrNotFound)

// Ledger answers who currently holds a token.
type Ledger interface {
	OwnerOf(ctx context.Context, tokenID string) (string, error)
}

// StaticLedger is an in-memory Ledger.
type StaticLedger struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewStaticLedger creates a ledger seeded with tokenID -> ownerID.
func NewStaticLedger(owners map[string]string) *StaticLedger {
	l := &StaticLedger{owners: make(map[string]string, len(owners))}
	for token, owner := range owners {
		l.owners[token] = owner
	}
	return l
}

// LoadStaticLedger reads a JSON object of token ID to owner ID.
func LoadStaticLedger(path string) (*StaticLedger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ownership ledger: %w", err)
	}
	var owners map[string]string
	if err := json.Unmarshal(data, &owners); err != nil {
		return nil, fmt.Errorf("parsing ownership ledger %s: %w", path, err)
	}
	return NewStaticLedger(owners), nil
}

// Set records ownerID as the holder of tokenID.
func (l *StaticLedger) Set(tokenID, ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[tokenID] = ownerID
}

// OwnerOf implements Ledger.
func (l *StaticLedger) OwnerOf(_ context.Context, tokenID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[tokenID]
	if !ok {
		return "", ErrUnknownToken
	}
	return owner, nil
}

// Reassigner moves a ready missile to a new owner.
type Reassigner interface {
	Reassign(ctx context.Context, missileID uint, newOwnerID string) (core.Missile, error)
}

// OwnerSource lists the player IDs whose missiles are reconciled.
type OwnerSource func(ctx context.Context) ([]string, error)

// LocatedPlayers walks every player that has reported a position.
func LocatedPlayers(store storage.Store) OwnerSource {
	return func(ctx context.Context) ([]string, error) {
		players, err := store.ListLocatedPlayers(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(players))
		for _, p := range players {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
}

// Report counts what one reconciliation pass did.
type Report struct {
	Checked    int
	Reassigned int
	// Skipped missiles were not ready, unknown to the ledger, or moved to
	// an owner that is not a registered player.
	Skipped int
	Failed  int
}

// Reconciler applies ownership changes reported by a Ledger.
type Reconciler struct {
	store    storage.Store
	ledger   Ledger
	missiles Reassigner
	owners   OwnerSource
	log      logging.Logger
	interval time.Duration

	passes metric.Int64Counter
}

// NewReconciler creates a reconciler that runs every interval.
func NewReconciler(store storage.Store, ledger Ledger, missiles Reassigner, owners OwnerSource, log logging.Logger, interval time.Duration) (*Reconciler, error) {
	passes, err := meter().Int64Counter("ownership.missiles",
		metric.WithDescription("Missiles examined by ownership reconciliation"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ownership.missiles counter: %w", err)
	}
	return &Reconciler{
		store:    store,
		ledger:   ledger,
		missiles: missiles,
		owners:   owners,
		log:      log,
		interval: interval,
		passes:   passes,
	}, nil
}

// Sync reconciles every ready missile of every known owner once.
func (r *Reconciler) Sync(ctx context.Context) (Report, error) {
	var report Report

	owners, err := r.owners(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, ownerID := range owners {
		missiles, err := r.store.ListMissilesByOwner(ctx, ownerID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range missiles {
			if m.Status != core.MissileReady {
				continue
			}
			report.Checked++
			outcome, err := r.syncOne(ctx, m)
			switch {
			case err != nil:
				outcome = "failed"
				report.Failed++
				errs = append(errs, err)
				r.log.Error("ownership sync failed", "missile", m.ID, "token", m.TokenID, "error", err)
			case outcome == "reassigned":
				report.Reassigned++
			default:
				report.Skipped++
			}
			r.passes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}

	if report.Reassigned > 0 || report.Failed > 0 {
		r.log.Info("ownership pass complete",
			"checked", report.Checked,
			"reassigned", report.Reassigned,
			"skipped", report.Skipped,
			"failed", report.Failed)
	}
	return report, errors.Join(errs...)
}

func (r *Reconciler) syncOne(ctx context.Context, m core.Missile) (string, error) {
	owner, err := r.ledger.OwnerOf(ctx, m.TokenID)
	if errors.Is(err, ErrUnknownToken) {
		return "unknown", nil
	}
	if err != nil {
		return "", err
	}
	if owner == "" || owner == m.OwnerID {
		return "unchanged", nil
	}

	if _, err := r.store.GetPlayer(ctx, owner); err != nil {
		if errors.Is(err, core.ErrPlayerNotFound) {
			r.log.Warn("token moved to unregistered player", "missile", m.ID, "token", m.TokenID, "owner", owner)
			return "unregistered", nil
		}
		return "", err
	}

	if _, err := r.missiles.Reassign(ctx, m.ID, owner); err != nil {
		if errors.Is(err, core.ErrInvalidState) {
			// launched between listing and reassigning
			return "launched", nil
		}
		return "", err
	}
	return "reassigned", nil
}

// Run performs a pass immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	r.runPass(ctx)

	ticker := time.NewTicker(r.interval)
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

func (r *Reconciler) runPass(ctx context.Context) {
	if _, err := r.Sync(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn("ownership pass had errors", "error", err)
	}
}

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

package combat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/ledger"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/internal/storage/memory"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type staticLocations map[string]core.LatLon

func (s staticLocations) Position(id string) (core.LatLon, bool) {
	loc, ok := s[id]
	return loc, ok
}

// flakyStore fails CommitImpact while failCommit is set.
type flakyStore struct {
	*memory.Backend
	failCommit atomic.Bool
}

func (f *flakyStore) CommitImpact(ctx context.Context, p storage.ImpactParams) (storage.ImpactResult, error) {
	if f.failCommit.Load() {
		return storage.ImpactResult{}, storage.Unavailable(errors.New("connection reset"))
	}
	return f.Backend.CommitImpact(ctx, p)
}

type fixture struct {
	store    *flakyStore
	ledger   *ledger.Ledger
	resolver *Resolver
	rec      *recorder
	locs     staticLocations
	tokens   atomic.Int32
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store: &flakyStore{Backend: memory.New()},
		rec:   &recorder{},
		locs:  staticLocations{},
	}
	f.ledger = ledger.New(f.store, f.rec, logging.Nop(),
		ledger.WithClock(func() time.Time { return t0 }),
		ledger.WithMissileTypes(KnownType),
	)
	r, err := NewResolver(Dependencies{
		Store:     f.store,
		Ledger:    f.ledger,
		Locations: f.locs,
		Publisher: f.rec,
		Logger:    logging.Nop(),
	}, cfg, WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	f.resolver = r
	return f
}

func (f *fixture) player(t *testing.T, id string, shield int, loc *core.LatLon) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.CreatePlayer(ctx, core.Player{ID: id, ShieldPoints: shield})
	require.NoError(t, err)
	if loc != nil {
		_, err = f.store.UpdatePlayerLocation(ctx, id, *loc, t0)
		require.NoError(t, err)
	}
}

func (f *fixture) missile(t *testing.T, owner string, typ int) core.Missile {
	t.Helper()
	m, err := f.ledger.Mint(context.Background(), ledger.MintRequest{
		OwnerID: owner,
		TokenID: fmt.Sprintf("%s-%d", owner, f.tokens.Add(1)),
		Type:    typ,
	})
	require.NoError(t, err)
	return m
}

func here() *core.LatLon { return &core.LatLon{Lat: 37.7749, Lon: -122.4194} }

func TestDamageFor(t *testing.T) {
	assert.Equal(t, 30, DamageFor(1))
	assert.Equal(t, 60, DamageFor(2))
	assert.Equal(t, 100, DamageFor(3))
	assert.Equal(t, DefaultDamage, DamageFor(42))
	assert.True(t, KnownType(2))
	assert.False(t, KnownType(0))
}

func TestLaunch_Hit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())
	m := f.missile(t, "A", 1)
	f.rec.reset()

	impact, err := f.resolver.Launch(ctx, "A", m.ID, "B", t0)
	require.NoError(t, err)
	assert.Equal(t, 30, impact.Damage)
	assert.Equal(t, "B", impact.TargetID)
	assert.Equal(t, *here(), impact.ImpactLocation)
	assert.True(t, impact.ImpactTime.Equal(t0))

	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 20, b.ShieldPoints)
	assert.Equal(t, core.PlayerAlive, b.Status)

	got, err := f.ledger.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileExploded, got.Status)

	assert.Equal(t, []events.Kind{
		events.KindMissileUpdated, // in flight
		events.KindMissileUpdated, // exploded
		events.KindImpactOccurred,
		events.KindPlayerUpdated,
	}, f.rec.kinds())

	_, err = f.resolver.Launch(ctx, "A", m.ID, "B", t0)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestLaunch_KillsTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 40, here())
	m := f.missile(t, "A", 3)

	_, err := f.resolver.Launch(ctx, "A", m.ID, "B", t0)
	require.NoError(t, err)

	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, b.ShieldPoints)
	assert.Equal(t, core.PlayerDead, b.Status)

	m2 := f.missile(t, "A", 1)
	_, err = f.resolver.Launch(ctx, "A", m2.ID, "B", t0)
	assert.ErrorIs(t, err, core.ErrTargetAlreadyDead)
}

func TestLaunch_RejectionsLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())
	f.player(t, "Nowhere", 50, nil)
	m := f.missile(t, "A", 1)
	other := f.missile(t, "B", 1)
	f.rec.reset()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		requester string
		missile   uint
		target    string
		want      error
	}{
		{"self target", ctx, "A", m.ID, "A", core.ErrSelfTargetForbidden},
		{"missing target", ctx, "A", m.ID, "", core.ErrMissingField},
		{"unknown target", ctx, "A", m.ID, "Z", core.ErrTargetNotFound},
		{"no location", ctx, "A", m.ID, "Nowhere", core.ErrTargetLocationUnknown},
		{"not owner", ctx, "A", other.ID, "B", core.ErrNotOwner},
		{"unknown missile", ctx, "A", 404, "B", core.ErrMissileNotFound},
		{"cancelled before launch", cancelled, "A", m.ID, "B", core.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Launch(tt.ctx, tt.requester, tt.missile, tt.target, t0)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	got, err := f.ledger.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileReady, got.Status)
	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 50, b.ShieldPoints)
	assert.Empty(t, f.rec.kinds())
}

func TestLaunch_FallsBackToIndexedLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 100, nil)
	f.locs["B"] = core.LatLon{Lat: 10, Lon: 20}
	m := f.missile(t, "A", 2)

	impact, err := f.resolver.Launch(ctx, "A", m.ID, "B", t0)
	require.NoError(t, err)
	assert.Equal(t, core.LatLon{Lat: 10, Lon: 20}, impact.ImpactLocation)
	assert.Equal(t, 60, impact.Damage)
}

func TestLaunch_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 100, here())
	m := f.missile(t, "A", 1)

	const n = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.resolver.Launch(ctx, "A", m.ID, "B", t0)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, core.ErrInvalidState)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 70, b.ShieldPoints)
}

func TestLaunch_DamageOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "X", 100, here())
	f.player(t, "Y", 100, here())

	for _, typ := range []int{1, 2} {
		m := f.missile(t, "A", typ)
		_, err := f.resolver.Launch(ctx, "A", m.ID, "X", t0)
		require.NoError(t, err)
	}
	for _, typ := range []int{2, 1} {
		m := f.missile(t, "A", typ)
		_, err := f.resolver.Launch(ctx, "A", m.ID, "Y", t0)
		require.NoError(t, err)
	}

	x, err := f.store.GetPlayer(ctx, "X")
	require.NoError(t, err)
	y, err := f.store.GetPlayer(ctx, "Y")
	require.NoError(t, err)
	assert.Equal(t, 10, x.ShieldPoints)
	assert.Equal(t, x.ShieldPoints, y.ShieldPoints)
}

func TestLaunch_CommitFailureLeavesMissileInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())
	m := f.missile(t, "A", 1)

	f.store.failCommit.Store(true)
	_, err := f.resolver.Launch(ctx, "A", m.ID, "B", t0)
	require.ErrorIs(t, err, core.ErrUnavailable)

	got, err := f.ledger.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileInFlight, got.Status)

	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 50, b.ShieldPoints)

	// not retried blindly
	_, err = f.resolver.Launch(ctx, "A", m.ID, "B", t0)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestParsePolicy(t *testing.T) {
	_, err := ParsePolicy("explode")
	assert.Error(t, err)

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyDestroy, p)
}

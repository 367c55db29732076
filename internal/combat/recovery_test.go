package combat

import (
	"context"
	"testing"
	"time"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/storage/storagetest"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stuckMissile leaves a launched missile in flight since launchedAt.
func stuckMissile(t *testing.T, f *fixture, owner, target string, launchedAt time.Time) core.Missile {
	t.Helper()
	m := f.missile(t, owner, 1)
	f.store.failCommit.Store(true)
	defer f.store.failCommit.Store(false)

	_, err := f.resolver.Launch(context.Background(), owner, m.ID, target, launchedAt)
	require.ErrorIs(t, err, core.ErrUnavailable)
	return m
}

func TestRecover_DestroyPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())

	old := stuckMissile(t, f, "A", "B", t0.Add(-time.Minute))
	fresh := stuckMissile(t, f, "A", "B", t0.Add(-5*time.Second))
	f.rec.reset()

	report, err := f.resolver.Recover(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Destroyed: 1}, report)

	got, err := f.ledger.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileDestroyed, got.Status)

	got, err = f.ledger.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileInFlight, got.Status)

	_, err = f.store.GetImpactByMissile(ctx, old.ID)
	assert.ErrorIs(t, err, core.ErrImpactNotFound)
	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 50, b.ShieldPoints)

	assert.Equal(t, []events.Kind{events.KindMissileUpdated}, f.rec.kinds())
}

func TestRecover_ResolvePolicy(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Policy = PolicyResolve
	f := newFixture(t, cfg)
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())
	f.player(t, "C", 10, here())

	toB := stuckMissile(t, f, "A", "B", t0.Add(-time.Minute))
	toC := stuckMissile(t, f, "A", "C", t0.Add(-time.Minute))
	// C dies before recovery runs
	storagetest.Damage(t, f.store, "C", 100)

	report, err := f.resolver.Recover(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Destroyed)

	gotB, err := f.ledger.Get(ctx, toB.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileExploded, gotB.Status)
	impact, err := f.store.GetImpactByMissile(ctx, toB.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, impact.Damage)
	assert.Equal(t, *here(), impact.ImpactLocation)

	b, err := f.store.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 20, b.ShieldPoints)

	gotC, err := f.ledger.Get(ctx, toC.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileDestroyed, gotC.Status)
}

func TestRecover_NothingStuck(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	report, err := f.resolver.Recover(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{}, report)
}

func TestRecover_CommitStillFailing(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Policy = PolicyResolve
	f := newFixture(t, cfg)
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())
	m := stuckMissile(t, f, "A", "B", t0.Add(-time.Minute))

	f.store.failCommit.Store(true)
	report, err := f.resolver.Recover(ctx, t0)
	assert.ErrorIs(t, err, core.ErrUnavailable)
	assert.Equal(t, 1, report.Failed)

	got, err := f.ledger.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileInFlight, got.Status)
}

func TestRun_RecoversAtStartupAndStops(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RecoveryInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.player(t, "A", 100, here())
	f.player(t, "B", 50, here())
	m := stuckMissile(t, f, "A", "B", t0.Add(-time.Hour))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		f.resolver.Run(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := f.ledger.Get(ctx, m.ID)
		return err == nil && got.Status == core.MissileDestroyed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestConfigFromSection(t *testing.T) {
	cfg, err := ConfigFrom(config.CombatConfig{
		MaxFlightDuration: time.Minute,
		RecoveryPolicy:    "resolve",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.MaxFlightDuration)
	assert.Equal(t, PolicyResolve, cfg.Policy)
	assert.Equal(t, 10*time.Second, cfg.RecoveryInterval)
	assert.Equal(t, DefaultDamage, cfg.DefaultDamage)

	_, err = ConfigFrom(config.CombatConfig{RecoveryPolicy: "nuke"})
	assert.Error(t, err)
}

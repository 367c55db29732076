// Package storagetest is a conformance suite every storage.Store
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, initialised store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Players", testPlayers},
		{"PlayerLocation", testPlayerLocation},
		{"Missiles", testMissiles},
		{"LaunchMissile", testLaunchMissile},
		{"FinishMissile", testFinishMissile},
		{"ReassignMissile", testReassignMissile},
		{"CommitImpact", testCommitImpact},
		{"CommitImpactRequiresInFlight", testCommitImpactRequiresInFlight},
		{"ListInFlightBefore", testListInFlightBefore},
		{"ImpactDamageCommutes", testImpactDamageCommutes},
		{"ConcurrentLaunchSingleWinner", testConcurrentLaunch},
		{"ConcurrentDamage", testConcurrentDamage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func mustPlayer(t *testing.T, s storage.Store, id string, shield int) core.Player {
	t.Helper()
	p, err := s.CreatePlayer(context.Background(), core.Player{
		ID:           id,
		Nickname:     id,
		Status:       core.PlayerAlive,
		ShieldPoints: shield,
	})
	require.NoError(t, err)
	return p
}

func mustMissile(t *testing.T, s storage.Store, owner, token string, typ int) core.Missile {
	t.Helper()
	m, err := s.CreateMissile(context.Background(), core.Missile{
		TokenID: token,
		Type:    typ,
		OwnerID: owner,
		Status:  core.MissileReady,
	})
	require.NoError(t, err)
	return m
}

var damageTokens atomic.Int64

// Damage lands an impact of damage on playerID through CommitImpact, the
// only path that changes a shield. It returns the target's new state.
func Damage(t *testing.T, s storage.Store, playerID string, damage int) core.Player {
	t.Helper()
	res, err := damage1(s, playerID, damage)
	require.NoError(t, err)
	return res.Target
}

func damage1(s storage.Store, playerID string, damage int) (storage.ImpactResult, error) {
	ctx := context.Background()
	token := fmt.Sprintf("damage-%d", damageTokens.Add(1))
	m, err := s.CreateMissile(ctx, core.Missile{TokenID: token, Type: 1, OwnerID: "storagetest"})
	if err != nil {
		return storage.ImpactResult{}, err
	}
	if _, err := s.LaunchMissile(ctx, storage.LaunchParams{MissileID: m.ID, OwnerID: m.OwnerID, TargetID: playerID, At: t0}); err != nil {
		return storage.ImpactResult{}, err
	}
	return s.CommitImpact(ctx, storage.ImpactParams{MissileID: m.ID, TargetID: playerID, Damage: damage, At: t0})
}

func launch(s storage.Store, m core.Missile, target string) (core.Missile, error) {
	return s.LaunchMissile(context.Background(), storage.LaunchParams{
		MissileID:      m.ID,
		OwnerID:        m.OwnerID,
		TargetID:       target,
		TargetLocation: core.LatLon{Lat: 1, Lon: 2},
		At:             t0,
	})
}

func testPlayers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p := mustPlayer(t, s, "A", 100)
	assert.Equal(t, core.PlayerAlive, p.Status)
	assert.Nil(t, p.Location)

	_, err := s.CreatePlayer(ctx, core.Player{ID: "A", ShieldPoints: 1})
	assert.ErrorIs(t, err, core.ErrPlayerExists)

	_, err = s.CreatePlayer(ctx, core.Player{})
	assert.ErrorIs(t, err, core.ErrValidation)

	for _, bad := range []core.Player{
		{ID: "zero", Status: core.PlayerAlive, ShieldPoints: 0},
		{ID: "defaulted", ShieldPoints: 0},
		{ID: "negative", Status: core.PlayerAlive, ShieldPoints: -5},
		{ID: "ghost", Status: core.PlayerDead, ShieldPoints: 10},
		{ID: "odd", Status: "undead", ShieldPoints: 10},
	} {
		_, err = s.CreatePlayer(ctx, bad)
		assert.ErrorIs(t, err, core.ErrInvalidPlayer, bad.ID)
		_, err = s.GetPlayer(ctx, bad.ID)
		assert.ErrorIs(t, err, core.ErrPlayerNotFound, bad.ID)
	}

	got, err := s.GetPlayer(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 100, got.ShieldPoints)

	_, err = s.GetPlayer(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrPlayerNotFound)

	mustPlayer(t, s, "B", 50)
	many, err := s.GetPlayers(ctx, []string{"A", "B", "missing"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.Equal(t, 50, many["B"].ShieldPoints)

	none, err := s.GetPlayers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testPlayerLocation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustPlayer(t, s, "A", 100)
	mustPlayer(t, s, "B", 100)

	located, err := s.ListLocatedPlayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, located)

	p, err := s.UpdatePlayerLocation(ctx, "A", core.LatLon{Lat: 37.77, Lon: -122.42}, t0)
	require.NoError(t, err)
	require.NotNil(t, p.Location)
	assert.Equal(t, core.LatLon{Lat: 37.77, Lon: -122.42}, *p.Location)

	located, err = s.ListLocatedPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, located, 1)
	assert.Equal(t, "A", located[0].ID)

	_, err = s.UpdatePlayerLocation(ctx, "missing", core.LatLon{}, t0)
	assert.ErrorIs(t, err, core.ErrPlayerNotFound)
}

func testMissiles(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustPlayer(t, s, "A", 100)

	first := mustMissile(t, s, "A", "tok-1", 1)
	second := mustMissile(t, s, "A", "tok-2", 3)
	mustMissile(t, s, "B", "tok-3", 2)
	assert.NotZero(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, core.MissileReady, first.Status)

	_, err := s.CreateMissile(ctx, core.Missile{TokenID: "tok-1", OwnerID: "A", Type: 1})
	assert.ErrorIs(t, err, core.ErrTokenExists)

	_, err = s.CreateMissile(ctx, core.Missile{OwnerID: "A", Type: 1})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = s.CreateMissile(ctx, core.Missile{TokenID: "tok-nan", OwnerID: "A", Type: 1, Attributes: map[string]any{"yield": math.NaN()}})
	assert.ErrorIs(t, err, core.ErrValidation)
	nan, err := s.ListMissilesByOwner(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, nan, 2, "rejected missile must not be stored")

	withAttrs, err := s.CreateMissile(ctx, core.Missile{TokenID: "tok-attrs", OwnerID: "C", Type: 1, Attributes: map[string]any{"name": "Hellfire"}})
	require.NoError(t, err)
	got, err := s.GetMissile(ctx, withAttrs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hellfire", got.Attributes["name"])

	got, err = s.GetMissile(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.TokenID)
	assert.Equal(t, 3, got.Type)
	assert.Nil(t, got.LaunchTime)

	_, err = s.GetMissile(ctx, 9999)
	assert.ErrorIs(t, err, core.ErrMissileNotFound)

	owned, err := s.ListMissilesByOwner(ctx, "A")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, first.ID, owned[0].ID)
	assert.Equal(t, second.ID, owned[1].ID)

	none, err := s.ListMissilesByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLaunchMissile(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := mustMissile(t, s, "A", "tok-1", 1)

	_, err := s.LaunchMissile(ctx, storage.LaunchParams{MissileID: m.ID, OwnerID: "B", TargetID: "C", At: t0})
	assert.ErrorIs(t, err, core.ErrNotOwner)

	_, err = s.LaunchMissile(ctx, storage.LaunchParams{MissileID: 9999, OwnerID: "A", TargetID: "C", At: t0})
	assert.ErrorIs(t, err, core.ErrMissileNotFound)

	launched, err := launch(s, m, "C")
	require.NoError(t, err)
	assert.Equal(t, core.MissileInFlight, launched.Status)
	require.NotNil(t, launched.LaunchTime)
	assert.True(t, launched.LaunchTime.Equal(t0))
	require.NotNil(t, launched.TargetID)
	assert.Equal(t, "C", *launched.TargetID)
	require.NotNil(t, launched.TargetLocation)
	assert.Equal(t, core.LatLon{Lat: 1, Lon: 2}, *launched.TargetLocation)

	_, err = launch(s, m, "C")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func testFinishMissile(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := mustMissile(t, s, "A", "tok-1", 1)

	_, err := s.FinishMissile(ctx, m.ID, core.MissileDestroyed, t0)
	assert.ErrorIs(t, err, core.ErrInvalidState, "ready missile cannot finish")

	_, err = launch(s, m, "C")
	require.NoError(t, err)

	_, err = s.FinishMissile(ctx, m.ID, core.MissileReady, t0)
	assert.ErrorIs(t, err, core.ErrInvalidTerminalStatus)

	done, err := s.FinishMissile(ctx, m.ID, core.MissileDestroyed, t0)
	require.NoError(t, err)
	assert.Equal(t, core.MissileDestroyed, done.Status)

	_, err = s.FinishMissile(ctx, m.ID, core.MissileExploded, t0)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = s.FinishMissile(ctx, 9999, core.MissileExploded, t0)
	assert.ErrorIs(t, err, core.ErrMissileNotFound)
}

func testReassignMissile(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := mustMissile(t, s, "A", "tok-1", 1)

	moved, err := s.ReassignMissile(ctx, m.ID, "B", t0)
	require.NoError(t, err)
	assert.Equal(t, "B", moved.OwnerID)

	_, err = launch(s, moved, "C")
	require.NoError(t, err)

	_, err = s.ReassignMissile(ctx, m.ID, "A", t0)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = s.ReassignMissile(ctx, 9999, "A", t0)
	assert.ErrorIs(t, err, core.ErrMissileNotFound)
}

func testCommitImpact(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustPlayer(t, s, "B", 50)
	m := mustMissile(t, s, "A", "tok-1", 1)
	_, err := launch(s, m, "B")
	require.NoError(t, err)

	res, err := s.CommitImpact(ctx, storage.ImpactParams{
		MissileID: m.ID,
		TargetID:  "B",
		Damage:    30,
		Location:  core.LatLon{Lat: 1, Lon: 2},
		At:        t0.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, core.MissileExploded, res.Missile.Status)
	assert.Equal(t, 20, res.Target.ShieldPoints)
	assert.Equal(t, core.PlayerAlive, res.Target.Status)
	assert.NotZero(t, res.Impact.ID)
	assert.Equal(t, m.ID, res.Impact.MissileID)
	assert.Equal(t, 30, res.Impact.Damage)
	assert.Equal(t, core.LatLon{Lat: 1, Lon: 2}, res.Impact.ImpactLocation)

	stored, err := s.GetImpactByMissile(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Impact.ID, stored.ID)
	assert.Equal(t, "B", stored.TargetID)
	assert.True(t, stored.ImpactTime.Equal(t0.Add(time.Second)))

	_, err = s.GetImpactByMissile(ctx, 9999)
	assert.ErrorIs(t, err, core.ErrImpactNotFound)

	// a second missile finishes the target off
	m2 := mustMissile(t, s, "A", "tok-2", 2)
	_, err = launch(s, m2, "B")
	require.NoError(t, err)
	res, err = s.CommitImpact(ctx, storage.ImpactParams{MissileID: m2.ID, TargetID: "B", Damage: 60, At: t0})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Target.ShieldPoints)
	assert.Equal(t, core.PlayerDead, res.Target.Status)
}

func testCommitImpactRequiresInFlight(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustPlayer(t, s, "B", 50)
	m := mustMissile(t, s, "A", "tok-1", 1)

	_, err := s.CommitImpact(ctx, storage.ImpactParams{MissileID: m.ID, TargetID: "B", Damage: 30, At: t0})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = launch(s, m, "ghost")
	require.NoError(t, err)

	// unknown target rolls the whole commit back
	_, err = s.CommitImpact(ctx, storage.ImpactParams{MissileID: m.ID, TargetID: "ghost", Damage: 30, At: t0})
	assert.ErrorIs(t, err, core.ErrTargetNotFound)

	still, err := s.GetMissile(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MissileInFlight, still.Status)
	_, err = s.GetImpactByMissile(ctx, m.ID)
	assert.ErrorIs(t, err, core.ErrImpactNotFound)

	b, err := s.GetPlayer(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 50, b.ShieldPoints)
}

func testListInFlightBefore(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := mustMissile(t, s, "A", "tok-1", 1)
	fresh := mustMissile(t, s, "A", "tok-2", 1)
	mustMissile(t, s, "A", "tok-3", 1)

	_, err := s.LaunchMissile(ctx, storage.LaunchParams{MissileID: old.ID, OwnerID: "A", TargetID: "B", At: t0})
	require.NoError(t, err)
	_, err = s.LaunchMissile(ctx, storage.LaunchParams{MissileID: fresh.ID, OwnerID: "A", TargetID: "B", At: t0.Add(time.Minute)})
	require.NoError(t, err)

	stale, err := s.ListInFlightBefore(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	all, err := s.ListInFlightBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testImpactDamageCommutes(t *testing.T, s storage.Store) {
	mustPlayer(t, s, "X", 70)
	mustPlayer(t, s, "Y", 70)

	for _, d := range []int{30, 60} {
		Damage(t, s, "X", d)
	}
	for _, d := range []int{60, 30} {
		Damage(t, s, "Y", d)
	}

	ctx := context.Background()
	x, err := s.GetPlayer(ctx, "X")
	require.NoError(t, err)
	y, err := s.GetPlayer(ctx, "Y")
	require.NoError(t, err)
	assert.Equal(t, x.ShieldPoints, y.ShieldPoints)
	assert.Equal(t, x.Status, y.Status)
	assert.Equal(t, 0, x.ShieldPoints)
	assert.Equal(t, core.PlayerDead, x.Status)

	_, err = damage1(s, "missing", 10)
	assert.ErrorIs(t, err, core.ErrTargetNotFound)
}

func testConcurrentLaunch(t *testing.T, s storage.Store) {
	m := mustMissile(t, s, "A", "tok-1", 1)

	const n = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := launch(s, m, "B")
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, core.ErrInvalidState):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
}

func testConcurrentDamage(t *testing.T, s storage.Store) {
	mustPlayer(t, s, "B", 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := damage1(s, "B", 7)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := s.GetPlayer(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, 30, b.ShieldPoints)
	assert.Equal(t, core.PlayerAlive, b.Status)
}

// internal/storage/memory/memory_test.go
package memory

import (
	"context"
	"testing"
	"time"

	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/internal/storage/storagetest"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		b := New()
		require.NoError(t, b.Init())
		return b
	})
}

func TestReturnedRecordsAreDetached(t *testing.T) {
	ctx := context.Background()
	b := New()

	_, err := b.CreatePlayer(ctx, core.Player{ID: "A", ShieldPoints: 100})
	require.NoError(t, err)
	p, err := b.UpdatePlayerLocation(ctx, "A", core.LatLon{Lat: 1, Lon: 1}, fixedTime())
	require.NoError(t, err)

	p.Location.Lat = 50

	again, err := b.GetPlayer(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Location.Lat)

	m, err := b.CreateMissile(ctx, core.Missile{TokenID: "t", OwnerID: "A", Type: 1, Attributes: map[string]any{"name": "x"}})
	require.NoError(t, err)
	m.Attributes["name"] = "y"

	stored, err := b.GetMissile(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", stored.Attributes["name"])
}

func fixedTime() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

package convert

import (
	"math"
	"testing"
	"time"

	"github.com/aloksahay/warhead/internal/model"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func ptr[T any](v T) *T { return &v }

func TestPlayerToCore_NoLocation(t *testing.T) {
	p := PlayerToCore(model.Player{ID: "a", Status: "alive", ShieldPoints: 100})

	assert.Nil(t, p.Location)
	assert.Equal(t, core.PlayerAlive, p.Status)
	assert.True(t, p.Alive())
}

func TestPlayerToCore_HalfLocationIsUnknown(t *testing.T) {
	p := PlayerToCore(model.Player{ID: "a", Latitude: ptr(1.0)})
	assert.Nil(t, p.Location)
}

// Round-trip: GORM → Core → GORM
func TestPlayerRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := model.Player{
		ID:           "player-1",
		Nickname:     "Maverick",
		Latitude:     ptr(37.7749),
		Longitude:    ptr(-122.4194),
		Status:       "dead",
		ShieldPoints: 0,
		CreatedAt:    now,
		UpdatedAt:    now.Add(time.Minute),
	}

	got := PlayerToGorm(PlayerToCore(orig))
	assert.Equal(t, orig, got)
}

func TestMissileRoundTrip(t *testing.T) {
	launched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := model.Missile{
		ID:              7,
		TokenID:         "0xabc",
		Type:            2,
		OwnerID:         "A",
		Status:          "in_flight",
		LaunchTime:      &launched,
		TargetLatitude:  ptr(1.5),
		TargetLongitude: ptr(2.5),
		TargetID:        ptr("B"),
		Attributes:      datatypes.JSON(`{"name":"Hellfire"}`),
	}

	c, err := MissileToCore(orig)
	require.NoError(t, err)
	require.NotNil(t, c.TargetLocation)
	assert.Equal(t, core.LatLon{Lat: 1.5, Lon: 2.5}, *c.TargetLocation)
	assert.Equal(t, core.MissileInFlight, c.Status)
	assert.Equal(t, "Hellfire", c.Attributes["name"])

	back, err := MissileToGorm(c)
	require.NoError(t, err)
	assert.Equal(t, orig.TargetID, back.TargetID)
	assert.Equal(t, orig.TargetLatitude, back.TargetLatitude)
	assert.JSONEq(t, string(orig.Attributes), string(back.Attributes))
}

func TestMissileToCore_TargetIDIsCopied(t *testing.T) {
	row := model.Missile{TargetID: ptr("B")}
	c, err := MissileToCore(row)
	require.NoError(t, err)

	*row.TargetID = "C"
	assert.Equal(t, "B", *c.TargetID)
}

func TestMissileToCore_BadAttributesFail(t *testing.T) {
	_, err := MissileToCore(model.Missile{ID: 9, Attributes: datatypes.JSON(`{broken`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missile 9")
}

func TestMissileToCore_NullAttributes(t *testing.T) {
	c, err := MissileToCore(model.Missile{Attributes: datatypes.JSON("null")})
	require.NoError(t, err)
	assert.Nil(t, c.Attributes)
}

func TestMissileToGorm_UnencodableAttributes(t *testing.T) {
	_, err := MissileToGorm(core.Missile{TokenID: "0x01", Attributes: map[string]any{"yield": math.Inf(1)}})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestImpactRoundTrip(t *testing.T) {
	impact := core.MissileImpact{
		ID:             3,
		MissileID:      7,
		TargetID:       "B",
		Damage:         30,
		ImpactLocation: core.LatLon{Lat: -33.8688, Lon: 151.2093},
		ImpactTime:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	row, err := ImpactToGorm(impact)
	require.NoError(t, err)
	assert.Equal(t, impact, ImpactToCore(row))
}

func TestImpactToGorm_NonFiniteLocation(t *testing.T) {
	_, err := ImpactToGorm(core.MissileImpact{MissileID: 7, ImpactLocation: core.LatLon{Lat: math.NaN()}})
	assert.ErrorIs(t, err, core.ErrInvalidCoordinate)
}

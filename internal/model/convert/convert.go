// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/aloksahay/warhead/internal/geo"
	"github.com/aloksahay/warhead/internal/model"
	"github.com/aloksahay/warhead/pkg/core"
	"gorm.io/datatypes"
)

// latLonFromColumns returns nil unless both columns are set.
func latLonFromColumns(lat, lon *float64) *core.LatLon {
	if lat == nil || lon == nil {
		return nil
	}
	return &core.LatLon{Lat: *lat, Lon: *lon}
}

func columnsFromLatLon(p *core.LatLon) (lat, lon *float64) {
	if p == nil {
		return nil, nil
	}
	la, lo := p.Lat, p.Lon
	return &la, &lo
}

// PlayerToCore converts a GORM Player to a core.Player.
func PlayerToCore(p model.Player) core.Player {
	return core.Player{
		ID:           p.ID,
		Nickname:     p.Nickname,
		Location:     latLonFromColumns(p.Latitude, p.Longitude),
		Status:       core.PlayerStatus(p.Status),
		ShieldPoints: p.ShieldPoints,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// PlayerToGorm converts a core.Player to a GORM Player.
func PlayerToGorm(p core.Player) model.Player {
	lat, lon := columnsFromLatLon(p.Location)
	return model.Player{
		ID:           p.ID,
		Nickname:     p.Nickname,
		Latitude:     lat,
		Longitude:    lon,
		Status:       string(p.Status),
		ShieldPoints: p.ShieldPoints,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// MissileToCore converts a GORM Missile to a core.Missile. It fails when
// the stored attributes are not a JSON object.
func MissileToCore(m model.Missile) (core.Missile, error) {
	var attrs map[string]any
	if len(m.Attributes) > 0 {
		if err := json.Unmarshal(m.Attributes, &attrs); err != nil {
			return core.Missile{}, fmt.Errorf("decoding attributes of missile %d: %w", m.ID, err)
		}
	}

	var targetID *string
	if m.TargetID != nil {
		id := *m.TargetID
		targetID = &id
	}

	return core.Missile{
		ID:             m.ID,
		TokenID:        m.TokenID,
		Type:           m.Type,
		OwnerID:        m.OwnerID,
		Status:         core.MissileStatus(m.Status),
		LaunchTime:     m.LaunchTime,
		TargetLocation: latLonFromColumns(m.TargetLatitude, m.TargetLongitude),
		TargetID:       targetID,
		Attributes:     attrs,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// MissileToGorm converts a core.Missile to a GORM Missile.
func MissileToGorm(m core.Missile) (model.Missile, error) {
	var attrs datatypes.JSON
	if len(m.Attributes) > 0 {
		b, err := json.Marshal(m.Attributes)
		if err != nil {
			return model.Missile{}, fmt.Errorf("%w: missile attributes: %v", core.ErrValidation, err)
		}
		attrs = b
	}
	lat, lon := columnsFromLatLon(m.TargetLocation)

	return model.Missile{
		ID:              m.ID,
		TokenID:         m.TokenID,
		Type:            m.Type,
		OwnerID:         m.OwnerID,
		Status:          string(m.Status),
		LaunchTime:      m.LaunchTime,
		TargetLatitude:  lat,
		TargetLongitude: lon,
		TargetID:        m.TargetID,
		Attributes:      attrs,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

// ImpactToCore converts a GORM MissileImpact to a core.MissileImpact.
func ImpactToCore(i model.MissileImpact) core.MissileImpact {
	loc, _ := geo.FromPoint(i.ImpactLocation)
	return core.MissileImpact{
		ID:             i.ID,
		MissileID:      i.MissileID,
		TargetID:       i.TargetID,
		Damage:         i.Damage,
		ImpactLocation: loc,
		ImpactTime:     i.ImpactTime,
	}
}

// ImpactToGorm converts a core.MissileImpact to a GORM MissileImpact.
func ImpactToGorm(i core.MissileImpact) (model.MissileImpact, error) {
	loc, err := geo.ToPoint(i.ImpactLocation)
	if err != nil {
		return model.MissileImpact{}, fmt.Errorf("impact of missile %d: %w", i.MissileID, err)
	}
	return model.MissileImpact{
		ID:             i.ID,
		MissileID:      i.MissileID,
		TargetID:       i.TargetID,
		Damage:         i.Damage,
		ImpactLocation: loc,
		ImpactTime:     i.ImpactTime,
	}, nil
}

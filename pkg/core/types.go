// pkg/core/types.go
package core

import "time"

// PlayerStatus is the life state of a player.
type PlayerStatus string

const (
	PlayerAlive PlayerStatus = "alive"
	PlayerDead  PlayerStatus = "dead"
)

// MissileStatus is a step of the missile lifecycle.
// ready -> in_flight -> exploded|destroyed, never backwards.
type MissileStatus string

const (
	MissileReady     MissileStatus = "ready"
	MissileInFlight  MissileStatus = "in_flight"
	MissileExploded  MissileStatus = "exploded"
	MissileDestroyed MissileStatus = "destroyed"
)

// Terminal reports whether no further transition is possible from s.
func (s MissileStatus) Terminal() bool {
	return s == MissileExploded || s == MissileDestroyed
}

// Valid reports whether s is a known status.
func (s MissileStatus) Valid() bool {
	switch s {
	case MissileReady, MissileInFlight, MissileExploded, MissileDestroyed:
		return true
	}
	return false
}

// LatLon is a WGS84 position in degrees.
type LatLon struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Player is a participant in the game. ID is the principal issued by the identity provider.
type Player struct {
	ID           string       `json:"id"`
	Nickname     string       `json:"nickname"`
	Location     *LatLon      `json:"location,omitempty"`
	Status       PlayerStatus `json:"status"`
	ShieldPoints int          `json:"shield_points"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Alive reports whether the player can still be targeted.
func (p Player) Alive() bool {
	return p.Status == PlayerAlive && p.ShieldPoints > 0
}

// Missile is a launchable token held by a player.
// LaunchTime, TargetLocation and TargetID are set iff Status != ready.
type Missile struct {
	ID             uint           `json:"id"`
	TokenID        string         `json:"token_id"`
	Type           int            `json:"type"`
	OwnerID        string         `json:"owner_id"`
	Status         MissileStatus  `json:"status"`
	LaunchTime     *time.Time     `json:"launch_time,omitempty"`
	TargetLocation *LatLon        `json:"target_location,omitempty"`
	TargetID       *string        `json:"target_id,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MissileImpact is the append-only record of a resolved launch.
type MissileImpact struct {
	ID             uint      `json:"id"`
	MissileID      uint      `json:"missile_id"`
	TargetID       string    `json:"target_id"`
	Damage         int       `json:"damage"`
	ImpactLocation LatLon    `json:"impact_location"`
	ImpactTime     time.Time `json:"impact_time"`
}

// NearbyPlayer is a proximity query hit joined with the player record.
type NearbyPlayer struct {
	Player
	DistanceMeters float64 `json:"distance_meters"`
}

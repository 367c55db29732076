package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&Player{},
	&Missile{},
	&MissileImpact{},
}

// Player is the system of record for a player's shield, status and last
// reported location. Latitude and Longitude are NULL until the first report.
type Player struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"`
	Nickname     string    `json:"nickname" gorm:"size:64"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	Status       string    `json:"status" gorm:"size:16;not null;default:alive;index:idx_players_status"`
	ShieldPoints int       `json:"shieldPoints" gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (*Player) TableName() string {
	return "players"
}

// Missile is a launchable token owned by a player. Status only moves
// ready -> in_flight -> exploded|destroyed.
type Missile struct {
	ID              uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	TokenID         string         `json:"tokenId" gorm:"size:128;not null;uniqueIndex:idx_missiles_token_id"`
	Type            int            `json:"type" gorm:"not null"`
	OwnerID         string         `json:"ownerId" gorm:"size:64;not null;index:idx_missiles_owner_id"`
	Status          string         `json:"status" gorm:"size:16;not null;index:idx_missiles_status"`
	LaunchTime      *time.Time     `json:"launchTime" gorm:"index:idx_missiles_launch_time"`
	TargetLatitude  *float64       `json:"targetLatitude"`
	TargetLongitude *float64       `json:"targetLongitude"`
	TargetID        *string        `json:"targetId" gorm:"size:64"`
	Attributes      datatypes.JSON `json:"attributes"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (*Missile) TableName() string {
	return "missiles"
}

// MissileImpact records a resolved launch. At most one per missile.
type MissileImpact struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	MissileID      uint       `json:"missileId" gorm:"not null;uniqueIndex:idx_missile_impacts_missile_id"`
	TargetID       string     `json:"targetId" gorm:"size:64;not null;index:idx_missile_impacts_target_id"`
	Damage         int        `json:"damage" gorm:"not null"`
	ImpactLocation geom.Point `json:"impactLocation" gorm:"type:bytea"` // WGS84 lon/lat point
	ImpactTime     time.Time  `json:"impactTime" gorm:"not null;index:idx_missile_impacts_time"`
}

func (*MissileImpact) TableName() string {
	return "missile_impacts"
}

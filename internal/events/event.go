package events

import (
	"time"

	"github.com/aloksahay/warhead/pkg/core"
	"github.com/google/uuid"
)

// Kind identifies what changed.
type Kind int

const (
	KindImpactOccurred Kind = iota + 1
	KindPlayerUpdated
	KindMissileUpdated
)

func (k Kind) String() string {
	switch k {
	case KindImpactOccurred:
		return "impact_occurred"
	case KindPlayerUpdated:
		return "player_updated"
	case KindMissileUpdated:
		return "missile_updated"
	default:
		return "unknown"
	}
}

// AllKinds lists every event kind in a stable order.
var AllKinds = []Kind{KindImpactOccurred, KindPlayerUpdated, KindMissileUpdated}

// Event is a committed state change. Exactly one of Impact, Player or
// Missile is set, matching Kind. ID, Seq and PublishedAt are assigned by the
// bus on publish.
type Event struct {
	ID          uuid.UUID
	Seq         uint64
	Kind        Kind
	PublishedAt time.Time

	Impact  *core.MissileImpact
	Player  *core.Player
	Missile *core.Missile
}

// ImpactOccurred builds an impact event.
func ImpactOccurred(impact core.MissileImpact) Event {
	return Event{Kind: KindImpactOccurred, Impact: &impact}
}

// PlayerUpdated builds a player event.
func PlayerUpdated(p core.Player) Event {
	return Event{Kind: KindPlayerUpdated, Player: &p}
}

// MissileUpdated builds a missile event.
func MissileUpdated(m core.Missile) Event {
	return Event{Kind: KindMissileUpdated, Missile: &m}
}

// RecipientID returns the player an event is addressed to: the impact's
// target, the updated player, or the missile's owner.
func (e Event) RecipientID() string {
	switch e.Kind {
	case KindImpactOccurred:
		if e.Impact != nil {
			return e.Impact.TargetID
		}
	case KindPlayerUpdated:
		if e.Player != nil {
			return e.Player.ID
		}
	case KindMissileUpdated:
		if e.Missile != nil {
			return e.Missile.OwnerID
		}
	}
	return ""
}

// Publisher accepts committed changes for fan-out.
type Publisher interface {
	Publish(e Event)
}

// Filter selects events for a subscription. Empty Kinds matches every kind,
// empty RecipientID matches every recipient.
type Filter struct {
	Kinds       []Kind
	RecipientID string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.RecipientID != "" && e.RecipientID() != f.RecipientID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// ImpactsFor matches impacts landing on playerID.
func ImpactsFor(playerID string) Filter {
	return Filter{Kinds: []Kind{KindImpactOccurred}, RecipientID: playerID}
}

// PlayerUpdatesFor matches updates to playerID's own record.
func PlayerUpdatesFor(playerID string) Filter {
	return Filter{Kinds: []Kind{KindPlayerUpdated}, RecipientID: playerID}
}

// MissileUpdatesFor matches changes to missiles owned by playerID.
func MissileUpdatesFor(playerID string) Filter {
	return Filter{Kinds: []Kind{KindMissileUpdated}, RecipientID: playerID}
}

// AllFor matches every event addressed to playerID.
func AllFor(playerID string) Filter {
	return Filter{RecipientID: playerID}
}

// Everything matches every event. Used by internal consumers like telemetry.
func Everything() Filter {
	return Filter{}
}

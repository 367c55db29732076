package combat

// DefaultDamage applies to missile types without a profile.
const DefaultDamage = 25

var damageProfiles = map[int]int{
	1: 30,
	2: 60,
	3: 100,
}

// DamageFor returns the shield damage a missile type deals.
func DamageFor(missileType int) int {
	return damageFor(missileType, DefaultDamage)
}

func damageFor(missileType, fallback int) int {
	if d, ok := damageProfiles[missileType]; ok {
		return d
	}
	return fallback
}

// KnownType reports whether missileType has a damage profile.
func KnownType(missileType int) bool {
	_, ok := damageProfiles[missileType]
	return ok
}

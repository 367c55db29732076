package combat

import (
	"fmt"
	"time"

	"github.com/aloksahay/warhead/internal/config"
)

// RecoveryPolicy decides what happens to a missile stuck in flight.
type RecoveryPolicy string

const (
	// PolicyDestroy marks stuck missiles destroyed without an impact.
	PolicyDestroy RecoveryPolicy = "destroy"
	// PolicyResolve completes the impact against the recorded target when
	// it is still alive, and destroys the missile otherwise.
	PolicyResolve RecoveryPolicy = "resolve"
)

// ParsePolicy validates a policy name. Empty selects PolicyDestroy.
func ParsePolicy(s string) (RecoveryPolicy, error) {
	switch RecoveryPolicy(s) {
	case "", PolicyDestroy:
		return PolicyDestroy, nil
	case PolicyResolve:
		return PolicyResolve, nil
	default:
		return "", fmt.Errorf("unknown recovery policy: %s", s)
	}
}

// Config tunes the resolver.
type Config struct {
	MaxFlightDuration time.Duration
	Policy            RecoveryPolicy
	RecoveryInterval  time.Duration
	DefaultDamage     int
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		MaxFlightDuration: 30 * time.Second,
		Policy:            PolicyDestroy,
		RecoveryInterval:  10 * time.Second,
		DefaultDamage:     DefaultDamage,
	}
}

// ConfigFrom converts the combat config section, filling unset values
// from DefaultConfig.
func ConfigFrom(c config.CombatConfig) (Config, error) {
	policy, err := ParsePolicy(c.RecoveryPolicy)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	cfg.Policy = policy
	if c.MaxFlightDuration > 0 {
		cfg.MaxFlightDuration = c.MaxFlightDuration
	}
	if c.RecoveryInterval > 0 {
		cfg.RecoveryInterval = c.RecoveryInterval
	}
	if c.DefaultDamage > 0 {
		cfg.DefaultDamage = c.DefaultDamage
	}
	return cfg, nil
}

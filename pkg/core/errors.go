package core

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine wraps exactly one of these.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnavailable     = errors.New("unavailable")
)

// Validation errors are rejected before any state change.
var (
	ErrInvalidCoordinate     = fmt.Errorf("%w: invalid coordinate", ErrValidation)
	ErrSelfTargetForbidden   = fmt.Errorf("%w: a player cannot target themselves", ErrValidation)
	ErrInvalidTerminalStatus = fmt.Errorf("%w: status is not terminal", ErrValidation)
	ErrInvalidMissileType    = fmt.Errorf("%w: unknown missile type", ErrValidation)
	ErrMissingField          = fmt.Errorf("%w: missing field", ErrValidation)
	ErrInvalidPlayer         = fmt.Errorf("%w: player status does not match shield points", ErrValidation)
)

// Lookup failures.
var (
	ErrPlayerNotFound  = fmt.Errorf("%w: player not found", ErrNotFound)
	ErrMissileNotFound = fmt.Errorf("%w: missile not found", ErrNotFound)
	ErrTargetNotFound  = fmt.Errorf("%w: target not found", ErrNotFound)
	ErrImpactNotFound  = fmt.Errorf("%w: impact not found", ErrNotFound)
)

// Definitive failures against current state. Never retried by the engine.
var (
	ErrNotOwner              = fmt.Errorf("%w: requester does not own missile", ErrConflict)
	ErrInvalidState          = fmt.Errorf("%w: missile is not in the required state", ErrConflict)
	ErrTargetAlreadyDead     = fmt.Errorf("%w: target is already dead", ErrConflict)
	ErrTargetLocationUnknown = fmt.Errorf("%w: target has never reported a location", ErrConflict)
	ErrPlayerExists          = fmt.Errorf("%w: player already exists", ErrConflict)
	ErrTokenExists           = fmt.Errorf("%w: token already recorded", ErrConflict)
)

// Retryable reports whether err is an infrastructure failure. Only read
// operations may be retried on it; a launch must be re-queried first.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

package engine

import "errors"

// Sentinel errors for the engine's public operations. Callers classify
// failures with errors.Is; wrapped messages carry the detail.
var (
	// ErrInvalidInput rejects malformed parameters before any effect
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized rejects callers without the required role
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPositionConflict reports a missing or duplicate position
	ErrPositionConflict = errors.New("position conflict")

	// ErrHealthViolation reports a health factor below the configured minimum
	ErrHealthViolation = errors.New("health violation")

	// ErrExternalCallFailed wraps adapter failures; the ledger holds no
	// partial state when this is returned
	ErrExternalCallFailed = errors.New("external call failed")

	// ErrCompromised refuses operations while the sticky compromised flag is set
	ErrCompromised = errors.New("protocol compromised")

	// ErrEmergencyMode refuses normal operations during a pause
	ErrEmergencyMode = errors.New("emergency mode")

	// ErrReentrantCall reports a nested guard acquisition
	ErrReentrantCall = errors.New("reentrant call")

	// ErrOperationGap refuses mutations after too long a silence;
	// the owner must re-authorize first
	ErrOperationGap = errors.New("operational gap exceeded")
)

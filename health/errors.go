package health

import "errors"

var (
	// ErrCheckTimeout indicates a health check timed out.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates a checker was not found.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrInvalidThresholds indicates inconsistent classification limits.
	ErrInvalidThresholds = errors.New("health: invalid thresholds")
)

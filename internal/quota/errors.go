package quota

import "errors"

var (
	// ErrStatsNotFound indicates no ledger row exists for the user.
	ErrStatsNotFound = errors.New("storage stats not found")
	// ErrStatsExists is returned when creating stats for a user that already has them.
	ErrStatsExists = errors.New("storage stats already exist")
	// ErrQuotaExceeded is the base error for both the memory and the call-limit case.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

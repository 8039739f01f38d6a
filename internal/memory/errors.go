package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a memory id does not exist.
var ErrNotFound = errors.New("memory not found")

// ErrConflict is returned when an optimistic update loses the version race
// more times than the store is willing to retry.
var ErrConflict = errors.New("concurrent update conflict")

// ValidationError rejects malformed input before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TierError marks a transient failure of a non-authoritative tier
// (hot cache or vector index). Callers downgrade it to a degraded
// response instead of failing the request.
type TierError struct {
	Tier string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s tier: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// DurableWriteError marks a failed write against the authoritative
// structured store. It must always surface to the caller.
type DurableWriteError struct {
	Err error
}

func (e *DurableWriteError) Error() string {
	return fmt.Sprintf("durable write failed: %v", e.Err)
}

func (e *DurableWriteError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a degradable tier failure.
func IsTransient(err error) bool {
	var te *TierError
	return errors.As(err, &te)
}

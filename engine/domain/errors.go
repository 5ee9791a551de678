package domain

import "errors"

// Sentinel errors for the retrieval core. Callers classify failures with
// errors.Is; wrap with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrConfiguration means the engine was constructed with missing or
	// inconsistent configuration. Fatal at startup; never retried.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrBackendUnavailable means a vector-store or model backend could not
	// be reached. Transient; safe to retry with backoff.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDimensionMismatch means a vector's length does not match the
	// collection's embedding dimension. Data-integrity error; the offending
	// chunks are rejected, never coerced.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidQuery means the caller's query input is unusable.
	// Reported immediately; never retried.
	ErrInvalidQuery = errors.New("invalid query")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

package errors

import "errors"

var (
	// ErrInvalidConfig is returned when a component is constructed with
	// limits it cannot honour, such as a non-positive TTL or capacity.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidKey is returned for blank lookup keys.
	ErrInvalidKey = errors.New("invalid key")
	// ErrNotFound is returned when the upstream source has no data for a key.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks transport or decoding failures of the upstream source.
	ErrUpstream = errors.New("upstream failure")
	// ErrCircuitOpen is returned while the upstream circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

package domain

import "errors"

var (
	// ErrInvalidRate rejects a non-positive or non-finite rate before it can
	// reach the graph.
	ErrInvalidRate = errors.New("invalid rate")
	// ErrMalformedEvent rejects an observation missing a required field or
	// naming the same asset on both sides.
	ErrMalformedEvent = errors.New("malformed event")
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
)

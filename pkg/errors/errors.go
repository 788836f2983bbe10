package postmesh_errors

import (
	"errors"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTooLarge           = errors.New("file too large")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// Event pipeline errors
var (
	// ErrMalformedEvent marks a delivery that can never be processed. The
	// subscriber acknowledges such deliveries instead of leaving them pending.
	ErrMalformedEvent    = errors.New("malformed event")
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

package domain

import "errors"

// Domain errors
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrEntryNotFound   = errors.New("ranking entry not found")
	ErrInvalidRecord   = errors.New("invalid practice record")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInternalError   = errors.New("internal server error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrEntryNotFound)
}

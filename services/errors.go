package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnprocessable      = errors.New("unprocessable")
	ErrConflict           = errors.New("conflict")
	ErrSeatLimitReached   = errors.New("license seat limit reached")
	ErrFeatureNotLicensed = errors.New("feature not licensed")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrInvitationUsed     = errors.New("invitation already used")
	ErrAIUnavailable      = errors.New("ai provider unavailable")
)

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

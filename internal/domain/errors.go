package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrRoleMismatch        = errors.New("signer role does not match the signature slot")
	ErrRoleNotConfigured   = errors.New("signer has no role configured")
	ErrNoPersonalSignature = errors.New("no personal signature registered")
	ErrGuestForbidden      = errors.New("not allowed for shared viewers")
	ErrAlreadyMerged       = errors.New("source work order already merged into destination")
)

// ValidationError is returned before any write when input is rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

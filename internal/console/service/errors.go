package service

import (
	"errors"
	"fmt"
)

var (
	ErrFlowClosed       = errors.New("two-factor flow is closed")
	ErrNoChallenge      = errors.New("no two-factor challenge in progress")
	ErrVerifyInFlight   = errors.New("a verification is already in progress")
	ErrResendNotReady   = errors.New("resend is not available yet")
	ErrResendInFlight   = errors.New("a resend is already in progress")
	ErrMissingCode      = errors.New("action code is missing")
	ErrInvalidMode      = errors.New("action mode is not recognized")
	ErrAlreadySubmitted = errors.New("action has already been submitted")
)

// ValidationError is input rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

package identity

import (
	"context"
	"errors"
	"fmt"
)

// Code is a backend-neutral error code in the auth/* namespace.
type Code string

const (
	CodeNetworkRequestFailed    Code = "auth/network-request-failed"
	CodeInvalidCredential       Code = "auth/invalid-credential"
	CodeTooManyRequests         Code = "auth/too-many-requests"
	CodeWeakPassword            Code = "auth/weak-password"
	CodeUserNotFound            Code = "auth/user-not-found"
	CodeInvalidEmail            Code = "auth/invalid-email"
	CodeInternalError           Code = "auth/internal-error"
	CodeInvalidVerificationCode Code = "auth/invalid-verification-code"
	CodeMissingVerificationCode Code = "auth/missing-verification-code"
	CodeCodeExpired             Code = "auth/code-expired"
	CodeOperationNotSupported   Code = "auth/operation-not-supported-in-this-environment"

	CodeInvalidActionCode Code = "auth/invalid-action-code"
	CodeExpiredActionCode Code = "auth/expired-action-code"
	CodeAlreadyUsed       Code = "auth/code-already-used"

	CodeUserTokenExpired Code = "auth/user-token-expired"
	CodeNoCurrentUser    Code = "auth/no-current-user"
	CodePopupClosed      Code = "auth/popup-closed-by-user"
	CodeCancelled        Code = "auth/cancelled"
)

// Error is the typed error every adapter operation fails with.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, ErrNoCurrentUser)
// works for any error carrying that code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError attaches code to a lower-level cause.
func WrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

var (
	ErrNoCurrentUser = NewError(CodeNoCurrentUser, "no user is signed in")
	ErrSuperseded    = NewError(CodeCancelled, "result arrived after the session was signed out")
	ErrPopupClosed   = NewError(CodePopupClosed, "federated sign-in was abandoned")
)

// CodeOf returns the Code carried by err, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MFARequiredError is returned by password and federated sign-in when the
// account requires a second factor.
type MFARequiredError struct {
	Challenge *MFAChallenge
}

func (e *MFARequiredError) Error() string {
	return "second factor required: sms challenge " + e.Challenge.VerificationID + " issued"
}

// AsMFARequired extracts the challenge from err.
func AsMFARequired(err error) (*MFAChallenge, bool) {
	var mfa *MFARequiredError
	if errors.As(err, &mfa) && mfa.Challenge != nil {
		return mfa.Challenge, true
	}
	return nil, false
}

// TransportError classifies a failed round trip. Context cancellation keeps
// its own code so callers can tell an abandoned request from a dead network.
func TransportError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return WrapError(CodeCancelled, "request abandoned", ctxErr)
	}
	return WrapError(CodeNetworkRequestFailed, "identity backend unreachable", err)
}

package service

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
)

// User-facing texts that are not derived from an error.
const (
	MsgLoginAgain         = "Please log in again."
	MsgVerificationSent   = "Your email address is not verified. We have sent you a verification email; follow the link in it, then log in again."
	MsgInvalidRequest     = "Invalid request."
	MsgMissingCode        = "The link is missing its code. Request a new email."
	MsgPasswordReset      = "Your password has been reset. You can now log in with the new password."
	MsgEmailVerified      = "Your email address has been verified."
	MsgEmailRecovered     = "Your email address has been restored."
	MsgLinkAlreadyUsed    = "This link has already been used."
	MsgEnterCode          = "Enter the 6-digit code sent to your phone."
	MsgWrongCode          = "The code is incorrect. Check the SMS and try again."
	MsgPasswordResetSent  = "If an account exists for that address, a password reset email is on its way."
	MsgPasswordTooShort   = "Password must be at least 8 characters."
	MsgEmailRequired      = "Enter your email address."
	MsgEmailMalformed     = "Enter a valid email address."
	MsgPasswordRequired   = "Enter your password."
	MsgSomethingWentWrong = "Something went wrong. Please try again."
)

var codeMessages = map[identity.Code]string{
	identity.CodeNetworkRequestFailed:    "Could not reach the sign-in service. Check your connection and try again.",
	identity.CodeInvalidCredential:       "The email address or password is incorrect.",
	identity.CodeUserNotFound:            "The email address or password is incorrect.",
	identity.CodeTooManyRequests:         "Too many attempts. Wait a moment and try again.",
	identity.CodeWeakPassword:            "The password is too weak. Choose a longer password.",
	identity.CodeInvalidEmail:            MsgEmailMalformed,
	identity.CodeInternalError:           MsgSomethingWentWrong,
	identity.CodeInvalidVerificationCode: MsgWrongCode,
	identity.CodeMissingVerificationCode: MsgEnterCode,
	identity.CodeCodeExpired:             "The code has expired. Request a new one.",
	identity.CodeOperationNotSupported:   "This sign-in method is not available here.",
	identity.CodeInvalidActionCode:       "The link is invalid or has already been used.",
	identity.CodeExpiredActionCode:       "The link has expired. Request a new email.",
	identity.CodeAlreadyUsed:             MsgLinkAlreadyUsed,
	identity.CodeUserTokenExpired:        MsgLoginAgain,
	identity.CodeNoCurrentUser:           MsgLoginAgain,
	identity.CodePopupClosed:             "Sign-in was cancelled.",
	identity.CodeCancelled:               "Sign-in was cancelled.",
}

// MessageFor maps err to the text shown to the user.
func MessageFor(err error) string {
	if err == nil {
		return ""
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codeMessages[identity.CodeNetworkRequestFailed]
	}
	if msg, ok := codeMessages[identity.CodeOf(err)]; ok {
		return msg
	}
	return MsgSomethingWentWrong
}

// backendMessage returns the identity backend's own text for err, used
// where the message is shown verbatim.
func backendMessage(err error) string {
	var e *identity.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return MessageFor(err)
}

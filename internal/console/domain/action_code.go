package domain

import "time"

// ActionCodeMode is the mode query parameter of an emailed action link.
type ActionCodeMode string

const (
	ModeResetPassword ActionCodeMode = "resetPassword"
	ModeVerifyEmail   ActionCodeMode = "verifyEmail"
	ModeRecoverEmail  ActionCodeMode = "recoverEmail"
)

// Valid reports whether m is one of the supported modes.
func (m ActionCodeMode) Valid() bool {
	switch m {
	case ModeResetPassword, ModeVerifyEmail, ModeRecoverEmail:
		return true
	}
	return false
}

type ActionCodeOutcome string

const (
	OutcomeSucceeded ActionCodeOutcome = "succeeded"
	OutcomeFailed    ActionCodeOutcome = "failed"
)

// ActionCode records that a single-use code was submitted. Only the code's
// fingerprint is kept.
type ActionCode struct {
	Fingerprint string
	Mode        ActionCodeMode
	Outcome     ActionCodeOutcome
	ConsumedAt  time.Time
}

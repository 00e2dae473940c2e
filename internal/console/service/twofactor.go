package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
)

// CodeLength is the number of digits in an SMS code.
const CodeLength = 6

type TwoFactorState string

const (
	StatePasswordEntry   TwoFactorState = "password_entry"
	StateChallengeIssued TwoFactorState = "challenge_issued"
	StateVerifying       TwoFactorState = "verifying"
	StateVerified        TwoFactorState = "verified"
	StateClosed          TwoFactorState = "closed"
)

// TwoFactorSnapshot is what the UI renders for the two-factor step.
type TwoFactorSnapshot struct {
	State        TwoFactorState `json:"state"`
	PhoneHint    string         `json:"phone_hint,omitempty"`
	Code         string         `json:"code"`
	CanVerify    bool           `json:"can_verify"`
	Cooldown     CooldownState  `json:"cooldown"`
	FieldError   string         `json:"field_error,omitempty"`
	GeneralError string         `json:"general_error,omitempty"`
}

// TwoFactorFlow drives one SMS step-up after a password sign-in reported a
// second factor.
//
// The flow sits in StateChallengeIssued while waiting for a code, moves to
// StateVerifying for the duration of a verify call and ends in
// StateVerified. A rejected verification returns to StateChallengeIssued
// with the error recorded; the password step is never repeated. Close
// discards the challenge and its cooldown, and any result that arrives after
// Close (or after a resend replaced the challenge) is ignored.
type TwoFactorFlow struct {
	provider identity.Provider
	clock    Clock
	cooldown time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	state      TwoFactorState
	challenge  *identity.MFAChallenge
	timer      *Cooldown
	code       string
	fieldErr   string
	generalErr string
	resending  bool
	gen        uint64
}

// NewTwoFactorFlow enters StateChallengeIssued for challenge and starts the
// resend cooldown.
func NewTwoFactorFlow(p identity.Provider, challenge *identity.MFAChallenge, clock Clock, cooldown time.Duration, logger *slog.Logger) *TwoFactorFlow {
	if clock == nil {
		clock = SystemClock{}
	}
	if cooldown <= 0 {
		cooldown = DefaultResendCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TwoFactorFlow{
		provider:  p,
		clock:     clock,
		cooldown:  cooldown,
		logger:    logger,
		state:     StateChallengeIssued,
		challenge: challenge,
		timer:     StartCooldown(clock, cooldown),
	}
}

// SanitizeCode strips non-digits and clamps to CodeLength.
func SanitizeCode(raw string) string {
	out := make([]byte, 0, CodeLength)
	for i := 0; i < len(raw) && len(out) < CodeLength; i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			out = append(out, c)
		}
	}
	return string(out)
}

// SetCode replaces the entered code and returns it sanitised.
func (f *TwoFactorFlow) SetCode(raw string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateChallengeIssued {
		return f.code
	}
	f.code = SanitizeCode(raw)
	f.fieldErr = ""
	return f.code
}

// CanVerify reports whether the verify control is enabled.
func (f *TwoFactorFlow) CanVerify() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canVerifyLocked()
}

func (f *TwoFactorFlow) canVerifyLocked() bool {
	return f.state == StateChallengeIssued && !f.resending && len(f.code) == CodeLength
}

// Challenge returns the active challenge.
func (f *TwoFactorFlow) Challenge() (*identity.MFAChallenge, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenge, f.challenge != nil
}

// Cooldown returns the active resend countdown.
func (f *TwoFactorFlow) Cooldown() *Cooldown {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timer
}

func (f *TwoFactorFlow) State() TwoFactorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *TwoFactorFlow) Snapshot() TwoFactorSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := TwoFactorSnapshot{
		State:        f.state,
		Code:         f.code,
		CanVerify:    f.canVerifyLocked(),
		FieldError:   f.fieldErr,
		GeneralError: f.generalErr,
	}
	if f.challenge != nil {
		snap.PhoneHint = f.challenge.PhoneInfoOptions.PhoneHint
	}
	if f.timer != nil {
		snap.Cooldown = f.timer.State()
	}
	return snap
}

// Verify submits the entered code. An incomplete code is rejected without a
// backend call. On success the flow is finished and the credential returned.
func (f *TwoFactorFlow) Verify(ctx context.Context) (*identity.Credential, error) {
	f.mu.Lock()
	switch {
	case f.state == StateClosed:
		f.mu.Unlock()
		return nil, ErrFlowClosed
	case f.state == StateVerifying || f.resending:
		f.mu.Unlock()
		return nil, ErrVerifyInFlight
	case f.state != StateChallengeIssued:
		f.mu.Unlock()
		return nil, ErrNoChallenge
	case len(f.code) != CodeLength:
		f.fieldErr = MsgEnterCode
		f.mu.Unlock()
		return nil, &ValidationError{Field: "code", Message: MsgEnterCode}
	}
	f.state = StateVerifying
	f.fieldErr, f.generalErr = "", ""
	gen := f.gen
	challenge := f.challenge
	code := f.code
	f.mu.Unlock()

	cred, err := f.provider.VerifySecondFactor(ctx, challenge, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		f.logger.Debug("ignoring verification result for a discarded challenge")
		return nil, ErrFlowClosed
	}
	if err != nil {
		f.logger.Warn("second factor verification failed", "error", err, "code", identity.CodeOf(err))
		if identity.IsCode(err, identity.CodeInvalidVerificationCode) {
			f.fieldErr = MessageFor(err)
			f.code = ""
		} else {
			f.generalErr = MessageFor(err)
		}
		f.state = StateChallengeIssued
		return nil, err
	}

	f.state = StateVerified
	f.challenge = nil
	f.code = ""
	f.stopTimerLocked()
	return cred, nil
}

// Resend issues a replacement challenge for the same phone once the
// cooldown has run out, then restarts the cooldown. The previous
// verification id is dropped.
func (f *TwoFactorFlow) Resend(ctx context.Context) error {
	f.mu.Lock()
	switch {
	case f.state == StateClosed:
		f.mu.Unlock()
		return ErrFlowClosed
	case f.resending:
		f.mu.Unlock()
		return ErrResendInFlight
	case f.state == StateVerifying:
		f.mu.Unlock()
		return ErrVerifyInFlight
	case f.state != StateChallengeIssued:
		f.mu.Unlock()
		return ErrNoChallenge
	case !f.timer.State().CanResend:
		f.mu.Unlock()
		return ErrResendNotReady
	}
	f.resending = true
	gen := f.gen
	old := f.challenge
	f.mu.Unlock()

	next, err := f.provider.ResendSecondFactor(ctx, old)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return ErrFlowClosed
	}
	f.resending = false
	if err != nil {
		f.logger.Warn("failed to resend second factor code", "error", err)
		f.generalErr = MessageFor(err)
		return err
	}

	f.gen++
	f.challenge = next
	f.code = ""
	f.fieldErr, f.generalErr = "", ""
	f.stopTimerLocked()
	f.timer = StartCooldown(f.clock, f.cooldown)
	f.logger.Info("second factor code resent")
	return nil
}

// Close discards the challenge and stops the cooldown. Safe to call more
// than once.
func (f *TwoFactorFlow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateClosed {
		return
	}
	f.gen++
	f.state = StateClosed
	f.challenge = nil
	f.code = ""
	f.resending = false
	f.stopTimerLocked()
}

// stopTimerLocked must be called with mu held. Cooldown.Stop never takes
// the flow's lock.
func (f *TwoFactorFlow) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
	}
}

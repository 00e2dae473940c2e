// Package identity defines the capability surface the console needs from an
// identity backend, plus the shared machinery adapters build on: the
// auth-state notifier, credential keeping and federated redirect tracking.
//
// Exactly one Provider is constructed per process (see app.NewProvider) and
// nothing outside the adapters branches on which backend is active.
package identity

import (
	"context"
	"time"
)

// Provider is implemented by each identity backend adapter.
//
// Sign-in calls supply a credential but never flip session readiness
// themselves; readiness is announced only through OnAuthStateChanged.
type Provider interface {
	// Name identifies the backend ("firebase", "supabase").
	Name() string

	// SignInWithEmailAndPassword returns *MFARequiredError when the account
	// has a second factor; no session is established in that case.
	SignInWithEmailAndPassword(ctx context.Context, email, password string, cc ChallengeContext) (*Credential, error)

	// SignInWithFederatedPopup opens the provider's sign-in page and blocks
	// until the loopback callback completes it or ctx ends.
	SignInWithFederatedPopup(ctx context.Context) (*Credential, error)

	// SignInWithFederatedRedirect returns the URL to send the user to. The
	// sign-in completes later in CompleteFederatedSignIn and is observable
	// only through OnAuthStateChanged.
	SignInWithFederatedRedirect(ctx context.Context, provider, redirectTarget string) (string, error)

	// CompleteFederatedSignIn finishes a popup or redirect sign-in from the
	// full callback URL the browser landed on.
	CompleteFederatedSignIn(ctx context.Context, callbackURL string) (*Credential, error)

	// SignOut ends the local session. Calling it without a session is a
	// no-op.
	SignOut(ctx context.Context) error

	SendPasswordResetEmail(ctx context.Context, email string, settings ActionCodeSettings) error
	// VerifyPasswordResetCode checks code and returns the account email.
	VerifyPasswordResetCode(ctx context.Context, code string) (string, error)
	// ConfirmPasswordReset fails with CodeAlreadyUsed when code was already
	// consumed.
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
	ApplyActionCode(ctx context.Context, code string) error
	// SendEmailVerification mails the signed-in user a verification link.
	SendEmailVerification(ctx context.Context, settings ActionCodeSettings) error

	// VerifySecondFactor completes a sign-in with the SMS code.
	VerifySecondFactor(ctx context.Context, challenge *MFAChallenge, code string) (*Credential, error)
	// ResendSecondFactor re-sends the SMS for the same phone factor and
	// returns a replacement challenge with a new verification id.
	ResendSecondFactor(ctx context.Context, challenge *MFAChallenge) (*MFAChallenge, error)

	// CurrentToken returns the current session's bearer token, refreshing it
	// when close to expiry.
	CurrentToken(ctx context.Context) (string, error)

	// OnAuthStateChanged registers one listener pair and returns its
	// disposer. Events arrive once per transition.
	OnAuthStateChanged(cb StateCallbacks) (unsubscribe func())

	// Restore reloads the adapter's own persisted credential at start-up and
	// announces the session if it is still valid.
	Restore(ctx context.Context) error
}

// StateCallbacks is the listener pair registered with OnAuthStateChanged.
type StateCallbacks struct {
	SignedIn  func(Credential)
	SignedOut func()

	// TokenRefreshed is optional and fires when a live session's token is
	// replaced without a sign-in transition.
	TokenRefreshed func(Credential)
}

type User struct {
	UID           string
	Email         string
	EmailVerified bool
	ProviderID    string
}

// Credential is a live identity session.
type Credential struct {
	User         User
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// ChallengeContext carries the anti-abuse token some backends require
// before sending an SMS or accepting a password.
type ChallengeContext struct {
	RecaptchaToken string
}

// ActionCodeSettings controls where action-code emails send the user.
type ActionCodeSettings struct {
	URL             string
	HandleCodeInApp bool
}

// PhoneInfoOptions identify the enrolled phone factor a challenge targets.
type PhoneInfoOptions struct {
	FactorID  string
	PhoneHint string
}

// MFAChallenge is an issued SMS challenge. It is replaced, never mutated, by
// ResendSecondFactor.
type MFAChallenge struct {
	VerificationID   string
	PhoneInfoOptions PhoneInfoOptions
	IssuedAt         time.Time

	// Backend is the adapter that issued the challenge.
	Backend string

	resolver string
	context  ChallengeContext
}

// NewMFAChallenge is used by adapters. resolver is the backend's pending
// credential and never leaves the process.
func NewMFAChallenge(backend, verificationID, resolver string, opts PhoneInfoOptions, cc ChallengeContext, now time.Time) *MFAChallenge {
	return &MFAChallenge{
		VerificationID:   verificationID,
		PhoneInfoOptions: opts,
		IssuedAt:         now,
		Backend:          backend,
		resolver:         resolver,
		context:          cc,
	}
}

// Resolver returns the backend's pending credential.
func (c *MFAChallenge) Resolver() string { return c.resolver }

// Context returns the challenge context the sign-in was started with.
func (c *MFAChallenge) Context() ChallengeContext { return c.context }

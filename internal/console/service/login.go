package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/session"
)

// DefaultReadyTimeout bounds the wait for the auth-state listener after a
// sign-in call succeeded.
const DefaultReadyTimeout = 10 * time.Second

// LoginResult is either a navigation decision or the two-factor step.
type LoginResult struct {
	Decision  *Decision          `json:"decision,omitempty"`
	TwoFactor *TwoFactorSnapshot `json:"two_factor,omitempty"`
}

// LoginService orchestrates sign-in: input validation, the identity
// backend call, the optional two-factor step and the backend bootstrap.
// It owns at most one TwoFactorFlow at a time.
type LoginService struct {
	Provider       identity.Provider
	Session        *session.Session
	Bootstrap      *BootstrapService
	Clock          Clock
	ResendCooldown time.Duration
	ReadyTimeout   time.Duration
	Logger         *slog.Logger

	// ChallengeContext is attached to password sign-ins.
	ChallengeContext identity.ChallengeContext

	mu   sync.Mutex
	flow *TwoFactorFlow
}

func (s *LoginService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// ValidateCredentials checks the login form before any network call.
func ValidateCredentials(email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: MsgEmailRequired}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: MsgEmailMalformed}
	}
	if password == "" {
		return &ValidationError{Field: "password", Message: MsgPasswordRequired}
	}
	return nil
}

// Login signs in with email and password. A stale two-factor step from an
// earlier attempt is discarded first, so a second factor always starts with
// a fresh challenge.
func (s *LoginService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if err := ValidateCredentials(email, password); err != nil {
		return LoginResult{}, err
	}
	s.CancelTwoFactor()

	_, err := s.Provider.SignInWithEmailAndPassword(ctx, strings.TrimSpace(email), password, s.ChallengeContext)
	return s.afterSignIn(ctx, err)
}

// FederatedPopup signs in through the configured federated provider and
// blocks until the loopback callback completes it.
func (s *LoginService) FederatedPopup(ctx context.Context) (LoginResult, error) {
	s.CancelTwoFactor()
	_, err := s.Provider.SignInWithFederatedPopup(ctx)
	return s.afterSignIn(ctx, err)
}

// FederatedRedirect starts a redirect sign-in and returns the URL to visit.
// The sign-in finishes in CompleteFederated.
func (s *LoginService) FederatedRedirect(ctx context.Context, provider, redirectTarget string) (string, error) {
	s.CancelTwoFactor()
	authURL, err := s.Provider.SignInWithFederatedRedirect(ctx, provider, redirectTarget)
	if err != nil {
		s.logger().Warn("failed to start federated sign-in", "error", err)
		return "", err
	}
	return authURL, nil
}

// CompleteFederated finishes a federated sign-in from the callback URL.
func (s *LoginService) CompleteFederated(ctx context.Context, callbackURL string) (LoginResult, error) {
	_, err := s.Provider.CompleteFederatedSignIn(ctx, callbackURL)
	return s.afterSignIn(ctx, err)
}

func (s *LoginService) afterSignIn(ctx context.Context, err error) (LoginResult, error) {
	if challenge, ok := identity.AsMFARequired(err); ok {
		flow := NewTwoFactorFlow(s.Provider, challenge, s.Clock, s.ResendCooldown, s.logger())
		s.mu.Lock()
		prev := s.flow
		s.flow = flow
		s.mu.Unlock()
		if prev != nil {
			prev.Close()
		}
		s.logger().Info("second factor required", "phone", challenge.PhoneInfoOptions.PhoneHint)
		snap := flow.Snapshot()
		return LoginResult{TwoFactor: &snap}, nil
	}
	if err != nil {
		s.logger().Warn("sign-in failed", "error", err, "code", identity.CodeOf(err))
		return LoginResult{}, err
	}
	d := s.bootstrap(ctx)
	return LoginResult{Decision: &d}, nil
}

// bootstrap waits for the listener to confirm the session, then reconciles
// with the application backend.
func (s *LoginService) bootstrap(ctx context.Context) Decision {
	timeout := s.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tok, err := s.Session.WaitReady(wctx)
	if err != nil {
		s.logger().Warn("identity session was not confirmed", "error", err)
		return s.Bootstrap.login()
	}
	return s.Bootstrap.Run(ctx, tok)
}

// TwoFactor returns the active two-factor step, if any.
func (s *LoginService) TwoFactor() (*TwoFactorFlow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow, s.flow != nil
}

// TwoFactorSnapshot returns the active step's view, or StatePasswordEntry
// when there is none.
func (s *LoginService) TwoFactorSnapshot() TwoFactorSnapshot {
	flow, ok := s.TwoFactor()
	if !ok {
		return TwoFactorSnapshot{State: StatePasswordEntry}
	}
	return flow.Snapshot()
}

// VerifyTwoFactor submits code for the active step.
func (s *LoginService) VerifyTwoFactor(ctx context.Context, code string) (LoginResult, error) {
	flow, ok := s.TwoFactor()
	if !ok {
		return LoginResult{}, ErrNoChallenge
	}
	flow.SetCode(code)
	if _, err := flow.Verify(ctx); err != nil {
		snap := flow.Snapshot()
		return LoginResult{TwoFactor: &snap}, err
	}

	s.mu.Lock()
	if s.flow == flow {
		s.flow = nil
	}
	s.mu.Unlock()

	d := s.bootstrap(ctx)
	return LoginResult{Decision: &d}, nil
}

// ResendTwoFactor asks for a new SMS once the cooldown allows it.
func (s *LoginService) ResendTwoFactor(ctx context.Context) (TwoFactorSnapshot, error) {
	flow, ok := s.TwoFactor()
	if !ok {
		return TwoFactorSnapshot{State: StatePasswordEntry}, ErrNoChallenge
	}
	err := flow.Resend(ctx)
	return flow.Snapshot(), err
}

// CancelTwoFactor discards the active step and its cooldown.
func (s *LoginService) CancelTwoFactor() {
	s.mu.Lock()
	flow := s.flow
	s.flow = nil
	s.mu.Unlock()
	if flow != nil {
		flow.Close()
	}
}

// Logout discards any two-factor step and signs out. Safe without a
// session.
func (s *LoginService) Logout(ctx context.Context) error {
	s.CancelTwoFactor()
	if err := s.Session.SignOut(ctx, s.Provider); err != nil {
		s.logger().Warn("sign-out reported an error", "error", err)
		return err
	}
	return nil
}

// SendPasswordReset mails a reset link to email. Unknown addresses are
// reported as success so the form does not reveal which accounts exist.
func (s *LoginService) SendPasswordReset(ctx context.Context, email string, settings identity.ActionCodeSettings) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: MsgEmailRequired}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Message: MsgEmailMalformed}
	}
	err := s.Provider.SendPasswordResetEmail(ctx, email, settings)
	if identity.IsCode(err, identity.CodeUserNotFound) {
		s.logger().Info("password reset requested for unknown address")
		return nil
	}
	if err != nil {
		s.logger().Warn("failed to send password reset email", "error", err)
	}
	return err
}

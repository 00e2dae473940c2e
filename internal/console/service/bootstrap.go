package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/session"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
)

// Default UI paths the bootstrap navigates to.
const (
	DefaultLoginPath        = "/login"
	DefaultAccountSetupPath = "/account"
)

// Backend is the part of the application backend the bootstrap needs.
type Backend interface {
	GetMe(ctx context.Context, token string) (*apisdk.User, error)
	CreateUser(ctx context.Context, token string, req apisdk.CreateUserRequest) (*apisdk.User, error)
}

var _ Backend = (*apisdk.SDKClient)(nil)

var _ apisdk.TokenSource = (*BootstrapService)(nil)

type DecisionKind string

const (
	// DecisionNavigate sends the user to Destination.
	DecisionNavigate DecisionKind = "navigate"
	// DecisionAccountSetup sends a new user to the account-setup page,
	// carrying the original destination in From.
	DecisionAccountSetup DecisionKind = "account_setup"
	// DecisionLogin sends the user to the login page with Message.
	DecisionLogin DecisionKind = "login"
	// DecisionStay keeps the user on the login page and shows Message.
	DecisionStay DecisionKind = "stay"
)

// Decision is the navigation outcome of a sign-in. Informational marks
// Message as a notice rather than an error.
type Decision struct {
	Kind          DecisionKind `json:"kind"`
	Destination   Destination  `json:"destination"`
	From          *Destination `json:"from,omitempty"`
	Message       string       `json:"message,omitempty"`
	Informational bool         `json:"informational,omitempty"`
}

// BootstrapService reconciles an identity session with the application
// backend, which is the source of truth for authorization.
type BootstrapService struct {
	Backend  Backend
	Provider identity.Provider
	Session  *session.Session
	ReturnTo *ReturnTo
	Logger   *slog.Logger

	LoginPath        string
	AccountSetupPath string
	// ReadyTimeout bounds Token's wait for a confirmed session. Defaults
	// to DefaultReadyTimeout.
	ReadyTimeout time.Duration
	// VerifySettings is passed to SendEmailVerification.
	VerifySettings identity.ActionCodeSettings
}

func (s *BootstrapService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *BootstrapService) loginPath() string {
	if s.LoginPath == "" {
		return DefaultLoginPath
	}
	return s.LoginPath
}

func (s *BootstrapService) accountSetupPath() string {
	if s.AccountSetupPath == "" {
		return DefaultAccountSetupPath
	}
	return s.AccountSetupPath
}

// Run reconciles a confirmed identity session whose bearer token is token.
func (s *BootstrapService) Run(ctx context.Context, token string) Decision {
	return s.reconcile(ctx, token, false)
}

// Resume handles start-up. A token recovered from the cookie is tried
// against the backend before the identity backend has confirmed it; with no
// token at all the user is sent to log in.
func (s *BootstrapService) Resume(ctx context.Context) Decision {
	if st := s.Session.State(); st.IdentitySessionReady {
		return s.Run(ctx, st.BearerToken)
	}
	tok, ok := s.Session.Provisional()
	if !ok {
		s.logger().Info("no session at start-up, redirecting to login")
		return s.login()
	}
	return s.reconcile(ctx, tok, true)
}

func (s *BootstrapService) reconcile(ctx context.Context, token string, provisional bool) Decision {
	log := s.logger().With("provisional", provisional)

	_, err := s.Backend.GetMe(ctx, token)
	switch {
	case err == nil:
		dest := s.ReturnTo.Consume()
		log.Info("backend session established", "destination", dest.String())
		return Decision{Kind: DecisionNavigate, Destination: dest}

	case apisdk.IsEmailNotVerified(err):
		log.Info("backend refused unverified email, sending verification")
		if verr := s.Provider.SendEmailVerification(ctx, s.VerifySettings); verr != nil {
			log.Warn("failed to send verification email", "error", verr)
			return Decision{Kind: DecisionStay, Message: MessageFor(verr)}
		}
		return Decision{Kind: DecisionStay, Message: MsgVerificationSent, Informational: true}

	case apisdk.IsNoSuchUser(err):
		if _, cerr := s.Backend.CreateUser(ctx, token, apisdk.CreateUserRequest{}); cerr != nil {
			log.Error("failed to create backend account", "error", cerr)
			return s.rejected(ctx, provisional)
		}
		from := s.ReturnTo.Consume()
		log.Info("backend account created", "from", from.String())
		return Decision{
			Kind:        DecisionAccountSetup,
			Destination: Destination{Path: s.accountSetupPath()},
			From:        &from,
		}

	default:
		log.Warn("backend rejected session", "error", err)
		return s.rejected(ctx, provisional)
	}
}

// rejected sends the user to log in. A provisional token the backend would
// not accept is dropped so the next start does not retry it.
func (s *BootstrapService) rejected(ctx context.Context, provisional bool) Decision {
	if provisional {
		if err := s.Session.SignOut(ctx, s.Provider); err != nil {
			s.logger().Warn("failed to drop provisional session", "error", err)
		}
	}
	return s.login()
}

func (s *BootstrapService) login() Decision {
	d := Decision{
		Kind:          DecisionLogin,
		Destination:   Destination{Path: s.loginPath()},
		Message:       MsgLoginAgain,
		Informational: true,
	}
	if from, ok := s.ReturnTo.Peek(); ok {
		d.From = &from
	}
	return d
}

// Token returns the bearer token for backend calls once Resume or Run has
// navigated. A provisional token the backend accepted is used as is, since
// the identity backend may never confirm it. Otherwise the wait for a
// confirmed session is bounded by ReadyTimeout.
func (s *BootstrapService) Token(ctx context.Context) (string, error) {
	if tok, ok := s.Session.Provisional(); ok {
		return tok, nil
	}

	timeout := s.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tok, err := s.Session.Token(wctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", identity.WrapError(identity.CodeNoCurrentUser, "identity session was not confirmed", err)
	}
	return tok, err
}

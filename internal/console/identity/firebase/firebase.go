// Package firebase adapts the Firebase Identity Toolkit REST API to
// identity.Provider.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	backendName = "firebase"

	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com"

	issuerPrefix = "https://securetoken.google.com/"

	pendingRedirectTTL = 10 * time.Minute
)

// TokenVerifier checks an ID token's signature and claims.
// *oidc.IDTokenVerifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

type Config struct {
	APIKey    string
	ProjectID string

	// EmulatorHost is host:port of a local Auth Emulator. When set, all
	// requests go to the emulator and token verification is skipped.
	EmulatorHost string

	// SAMLProviderID is the federated provider used when a redirect sign-in
	// does not name one (for example "saml.corp").
	SAMLProviderID string

	// CallbackURL is where federated sign-ins return to.
	CallbackURL string

	// VerifyIDTokens checks every issued ID token against the project's
	// published keys. Verifier overrides OIDC discovery.
	VerifyIDTokens bool
	Verifier       TokenVerifier

	HTTPClient  *http.Client
	Persistence identity.Persistence
	Logger      *slog.Logger
	Now         func() time.Time

	// OpenURL shows the sign-in page for popup sign-in.
	OpenURL func(string) error

	// IdentityToolkitURL and SecureTokenURL override the API base URLs.
	IdentityToolkitURL string
	SecureTokenURL     string
}

// Provider implements identity.Provider.
type Provider struct {
	cfg      Config
	http     *http.Client
	verifier TokenVerifier
	keeper   *identity.Keeper
	pending  *identity.PendingRedirects
	logger   *slog.Logger
	now      func() time.Time

	toolkitURL string
	tokenURL   string
}

var _ identity.Provider = (*Provider)(nil)

// New builds the adapter. With VerifyIDTokens and no Verifier, it runs OIDC
// discovery for the project's issuer, which needs network access.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase: api key is required")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase: project id is required")
	}

	p := &Provider{
		cfg:        cfg,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.Now,
		toolkitURL: strings.TrimSuffix(cfg.IdentityToolkitURL, "/"),
		tokenURL:   strings.TrimSuffix(cfg.SecureTokenURL, "/"),
	}
	if p.http == nil {
		p.http = &http.Client{Timeout: 30 * time.Second}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}

	if cfg.EmulatorHost != "" {
		if p.toolkitURL == "" {
			p.toolkitURL = "http://" + cfg.EmulatorHost + "/identitytoolkit.googleapis.com"
		}
		if p.tokenURL == "" {
			p.tokenURL = "http://" + cfg.EmulatorHost + "/securetoken.googleapis.com"
		}
	}
	if p.toolkitURL == "" {
		p.toolkitURL = defaultIdentityToolkitURL
	}
	if p.tokenURL == "" {
		p.tokenURL = defaultSecureTokenURL
	}

	switch {
	case cfg.Verifier != nil:
		p.verifier = cfg.Verifier
	case cfg.VerifyIDTokens && cfg.EmulatorHost != "":
		p.logger.Warn("firebase emulator tokens are unsigned; id token verification disabled")
	case cfg.VerifyIDTokens:
		oidcProvider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.http), issuerPrefix+cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to init firebase oidc provider: %w", err)
		}
		p.verifier = oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ProjectID})
	}

	p.keeper = identity.NewKeeper(backendName, cfg.Persistence, p.refresh, p.logger, p.now)
	p.pending = identity.NewPendingRedirects(pendingRedirectTTL, p.now)
	return p, nil
}

func (p *Provider) Name() string { return backendName }

func (p *Provider) SignInWithEmailAndPassword(ctx context.Context, email, password string, cc identity.ChallengeContext) (*identity.Credential, error) {
	epoch := p.keeper.Notifier.Epoch()

	var resp signInResponse
	err := p.postToolkit(ctx, "/v1/accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
		"captchaResponse":   cc.RecaptchaToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.MFAPendingCredential != "" {
		challenge, err := p.startMFA(ctx, resp.MFAPendingCredential, resp.MFAInfo, cc)
		if err != nil {
			return nil, err
		}
		return nil, &identity.MFARequiredError{Challenge: challenge}
	}

	cred, err := p.credential(ctx, resp.IDToken, resp.RefreshToken, resp.ExpiresIn, resp.LocalID, resp.Email)
	if err != nil {
		return nil, err
	}
	return p.keeper.Establish(ctx, epoch, cred)
}

func (p *Provider) startMFA(ctx context.Context, pendingCredential string, factors []mfaInfo, cc identity.ChallengeContext) (*identity.MFAChallenge, error) {
	var phone *mfaInfo
	for i := range factors {
		if factors[i].PhoneInfo != "" {
			phone = &factors[i]
			break
		}
	}
	if phone == nil {
		return nil, identity.NewError(identity.CodeOperationNotSupported, "account requires a second factor other than sms")
	}

	var resp mfaStartResponse
	err := p.postToolkit(ctx, "/v2/accounts/mfaSignIn:start", map[string]any{
		"mfaPendingCredential": pendingCredential,
		"mfaEnrollmentId":      phone.MFAEnrollmentID,
		"phoneSignInInfo": map[string]any{
			"recaptchaToken": cc.RecaptchaToken,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	opts := identity.PhoneInfoOptions{FactorID: phone.MFAEnrollmentID, PhoneHint: phone.PhoneInfo}
	p.logger.Debug("sms challenge issued", "factor", phone.MFAEnrollmentID)
	return identity.NewMFAChallenge(backendName, resp.PhoneResponseInfo.SessionInfo, pendingCredential, opts, cc, p.now()), nil
}

func (p *Provider) VerifySecondFactor(ctx context.Context, challenge *identity.MFAChallenge, code string) (*identity.Credential, error) {
	if challenge == nil || challenge.Backend != backendName {
		return nil, identity.NewError(identity.CodeInternalError, "challenge was not issued by this backend")
	}
	if code == "" {
		return nil, identity.NewError(identity.CodeMissingVerificationCode, "verification code is empty")
	}
	epoch := p.keeper.Notifier.Epoch()

	var resp mfaFinalizeResponse
	err := p.postToolkit(ctx, "/v2/accounts/mfaSignIn:finalize", map[string]any{
		"mfaPendingCredential": challenge.Resolver(),
		"phoneVerificationInfo": map[string]any{
			"sessionInfo": challenge.VerificationID,
			"code":        code,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	cred, err := p.credential(ctx, resp.IDToken, resp.RefreshToken, "", "", "")
	if err != nil {
		return nil, err
	}
	return p.keeper.Establish(ctx, epoch, cred)
}

func (p *Provider) ResendSecondFactor(ctx context.Context, challenge *identity.MFAChallenge) (*identity.MFAChallenge, error) {
	if challenge == nil || challenge.Backend != backendName {
		return nil, identity.NewError(identity.CodeInternalError, "challenge was not issued by this backend")
	}
	factor := []mfaInfo{{
		MFAEnrollmentID: challenge.PhoneInfoOptions.FactorID,
		PhoneInfo:       challenge.PhoneInfoOptions.PhoneHint,
	}}
	return p.startMFA(ctx, challenge.Resolver(), factor, challenge.Context())
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.keeper.SignOut(ctx)
	return nil
}

func (p *Provider) CurrentToken(ctx context.Context) (string, error) {
	return p.keeper.Token(ctx)
}

func (p *Provider) OnAuthStateChanged(cb identity.StateCallbacks) func() {
	return p.keeper.Notifier.Subscribe(cb)
}

func (p *Provider) Restore(ctx context.Context) error {
	return p.keeper.Restore(ctx)
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*identity.Credential, error) {
	var resp refreshResponse
	if err := p.postToken(ctx, refreshToken, &resp); err != nil {
		return nil, err
	}
	return p.credential(ctx, resp.IDToken, resp.RefreshToken, resp.ExpiresIn, resp.UserID, "")
}

// Package supabase adapts the Supabase Auth (GoTrue) REST API to
// identity.Provider.
//
// Supabase signs a password user in at assurance level aal1 and expects the
// client to step up to aal2 itself. The adapter does that step up: when a
// password grant yields an aal1 session for a user with a verified phone
// factor, the session is held back, an SMS challenge is issued and the
// caller gets *identity.MFARequiredError.
package supabase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
	"golang.org/x/oauth2"
)

const (
	backendName = "supabase"

	defaultFederatedProvider = "keycloak"
	pendingRedirectTTL       = 10 * time.Minute
	recoverySessionTTL       = time.Hour
)

type Config struct {
	// URL is the project URL, e.g. https://abc.supabase.co.
	URL     string
	AnonKey string

	// FederatedProvider is the OAuth provider used for popup sign-in and for
	// redirects that do not name one.
	FederatedProvider string
	// SAMLProviderID routes a redirect through /sso instead of /authorize.
	SAMLProviderID string

	CallbackURL string

	HTTPClient  *http.Client
	Persistence identity.Persistence
	Logger      *slog.Logger
	Now         func() time.Time
	OpenURL     func(string) error
}

// Provider implements identity.Provider.
type Provider struct {
	cfg     Config
	base    string
	http    *http.Client
	oauth   *oauth2.Config
	keeper  *identity.Keeper
	pending *identity.PendingRedirects
	logger  *slog.Logger
	now     func() time.Time

	recoveryMu sync.Mutex
	recovery   map[string]recoverySession
}

type recoverySession struct {
	accessToken string
	email       string
	createdAt   time.Time
}

var _ identity.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase: project url is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("supabase: anon key is required")
	}
	if cfg.FederatedProvider == "" {
		cfg.FederatedProvider = defaultFederatedProvider
	}

	p := &Provider{
		cfg:      cfg,
		base:     strings.TrimSuffix(cfg.URL, "/") + "/auth/v1",
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
		now:      cfg.Now,
		recovery: make(map[string]recoverySession),
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
	p.oauth = &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.base + "/authorize",
			TokenURL: p.base + "/token?grant_type=pkce",
		},
	}

	p.keeper = identity.NewKeeper(backendName, cfg.Persistence, p.refresh, p.logger, p.now)
	p.pending = identity.NewPendingRedirects(pendingRedirectTTL, p.now)
	return p, nil
}

func (p *Provider) Name() string { return backendName }

func (p *Provider) SignInWithEmailAndPassword(ctx context.Context, email, password string, cc identity.ChallengeContext) (*identity.Credential, error) {
	epoch := p.keeper.Notifier.Epoch()

	body := map[string]any{"email": email, "password": password}
	if cc.RecaptchaToken != "" {
		body["gotrue_meta_security"] = map[string]any{"captcha_token": cc.RecaptchaToken}
	}
	var sess sessionResponse
	if err := p.call(ctx, http.MethodPost, "/token?grant_type=password", "", body, &sess); err != nil {
		return nil, err
	}
	return p.finishSignIn(ctx, epoch, &sess, cc)
}

// finishSignIn establishes sess unless it needs stepping up to aal2.
func (p *Provider) finishSignIn(ctx context.Context, epoch uint64, sess *sessionResponse, cc identity.ChallengeContext) (*identity.Credential, error) {
	claims, err := jwtx.ParseUnverified(sess.AccessToken)
	if err != nil {
		return nil, identity.WrapError(identity.CodeInternalError, "unreadable access token", err)
	}

	if factor := sess.User.phoneFactor(); factor != nil && claims.AAL != jwtx.AAL2 {
		challenge, err := p.challenge(ctx, sess.AccessToken, factor.ID, factor.Phone, cc)
		if err != nil {
			return nil, err
		}
		return nil, &identity.MFARequiredError{Challenge: challenge}
	}

	cred, err := p.credential(sess)
	if err != nil {
		return nil, err
	}
	return p.keeper.Establish(ctx, epoch, cred)
}

// challenge sends an SMS for factorID. The aal1 access token is kept as the
// resolver.
func (p *Provider) challenge(ctx context.Context, aal1Token, factorID, phone string, cc identity.ChallengeContext) (*identity.MFAChallenge, error) {
	var resp challengeResponse
	err := p.call(ctx, http.MethodPost, "/factors/"+factorID+"/challenge", aal1Token, map[string]any{"channel": "sms"}, &resp)
	if err != nil {
		return nil, err
	}
	opts := identity.PhoneInfoOptions{FactorID: factorID, PhoneHint: maskPhone(phone)}
	p.logger.Debug("sms challenge issued", "factor", factorID)
	return identity.NewMFAChallenge(backendName, resp.ID, aal1Token, opts, cc, p.now()), nil
}

func (p *Provider) VerifySecondFactor(ctx context.Context, challenge *identity.MFAChallenge, code string) (*identity.Credential, error) {
	if challenge == nil || challenge.Backend != backendName {
		return nil, identity.NewError(identity.CodeInternalError, "challenge was not issued by this backend")
	}
	if code == "" {
		return nil, identity.NewError(identity.CodeMissingVerificationCode, "verification code is empty")
	}
	epoch := p.keeper.Notifier.Epoch()

	var sess sessionResponse
	err := p.call(ctx, http.MethodPost, "/factors/"+challenge.PhoneInfoOptions.FactorID+"/verify", challenge.Resolver(), map[string]any{
		"challenge_id": challenge.VerificationID,
		"code":         code,
	}, &sess)
	if err != nil {
		return nil, err
	}

	cred, err := p.credential(&sess)
	if err != nil {
		return nil, err
	}
	return p.keeper.Establish(ctx, epoch, cred)
}

func (p *Provider) ResendSecondFactor(ctx context.Context, challenge *identity.MFAChallenge) (*identity.MFAChallenge, error) {
	if challenge == nil || challenge.Backend != backendName {
		return nil, identity.NewError(identity.CodeInternalError, "challenge was not issued by this backend")
	}
	next, err := p.challenge(ctx, challenge.Resolver(), challenge.PhoneInfoOptions.FactorID, "", challenge.Context())
	if err != nil {
		return nil, err
	}
	next.PhoneInfoOptions.PhoneHint = challenge.PhoneInfoOptions.PhoneHint
	return next, nil
}

// SignOut revokes the backend session best effort and always ends the local
// one.
func (p *Provider) SignOut(ctx context.Context) error {
	if cur, ok := p.keeper.Notifier.Current(); ok {
		if err := p.call(ctx, http.MethodPost, "/logout?scope=local", cur.IDToken, nil, nil); err != nil {
			p.logger.Warn("failed to revoke supabase session", "error", err)
		}
	}
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
	var sess sessionResponse
	if err := p.call(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]any{"refresh_token": refreshToken}, &sess); err != nil {
		return nil, err
	}
	return p.credential(&sess)
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

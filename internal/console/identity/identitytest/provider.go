package identitytest

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
)

// Provider is an in-memory identity.Provider. It runs the real Keeper and
// Notifier so auth-state events behave like the HTTP adapters, without any
// network round trip.
type Provider struct {
	keeper  *identity.Keeper
	pending *identity.PendingRedirects
	sms     smsSender

	// TokenTTL is the lifetime of minted ID tokens.
	TokenTTL time.Duration

	// BeforeResolve, when set, runs after a sign-in has been accepted and
	// before its result is announced. Tests use it to interleave a sign-out.
	BeforeResolve func()

	mu         sync.Mutex
	now        func() time.Time
	accounts   map[string]*Account
	federated  *Account
	challenges map[string]fakeChallenge
	codes      map[string]Email
	refresh    map[string]string
	emails     []Email
	calls      map[string]int
	failures   map[string]error
}

type fakeChallenge struct {
	email  string
	code   string
	active bool
}

var _ identity.Provider = (*Provider)(nil)

func NewProvider() *Provider {
	p := &Provider{
		TokenTTL:   time.Hour,
		now:        time.Now,
		accounts:   make(map[string]*Account),
		challenges: make(map[string]fakeChallenge),
		codes:      make(map[string]Email),
		refresh:    make(map[string]string),
		calls:      make(map[string]int),
		failures:   make(map[string]error),
	}
	p.keeper = identity.NewKeeper("fake", identity.NewMemoryPersistence(), p.refreshToken, slogx.Discard(), p.clock)
	p.pending = identity.NewPendingRedirects(10*time.Minute, p.clock)
	return p
}

func (p *Provider) clock() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now()
}

// SetNow replaces the clock used for token lifetimes.
func (p *Provider) SetNow(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

func (p *Provider) AddAccount(a Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := a
	p.accounts[strings.ToLower(a.Email)] = &acct
}

// SetFederatedAccount is the account federated sign-ins resolve to.
func (p *Provider) SetFederatedAccount(a Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := a
	p.federated = &acct
	p.accounts[strings.ToLower(a.Email)] = &acct
}

func (p *Provider) Account(email string) (Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// FailNext makes the next call of op fail with err.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	p.failures[op] = err
	p.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Provider) Emails() []Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Email(nil), p.emails...)
}

func (p *Provider) LastSMSCode() string { return p.sms.lastCode() }

func (p *Provider) SMSCount() int { return p.sms.count() }

// IssueActionCode mints an action code as if an email had been sent.
func (p *Provider) IssueActionCode(email, kind string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked(email, kind, "")
}

// Keeper exposes the session bookkeeping, e.g. to expire tokens.
func (p *Provider) Keeper() *identity.Keeper { return p.keeper }

func (p *Provider) enter(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	if err, ok := p.failures[op]; ok {
		delete(p.failures, op)
		return err
	}
	return nil
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) SignInWithEmailAndPassword(ctx context.Context, email, password string, cc identity.ChallengeContext) (*identity.Credential, error) {
	if err := p.enter("signInWithPassword"); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, identity.NewError(identity.CodeInvalidCredential, "email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, identity.NewError(identity.CodeInvalidEmail, "badly formatted email")
	}
	epoch := p.keeper.Notifier.Epoch()

	p.mu.Lock()
	acct, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		p.mu.Unlock()
		return nil, identity.NewError(identity.CodeUserNotFound, "no account for "+email)
	}
	if acct.Password != password {
		p.mu.Unlock()
		return nil, identity.NewError(identity.CodeInvalidCredential, "wrong password")
	}
	if acct.Disabled {
		p.mu.Unlock()
		return nil, identity.NewError(identity.CodeInvalidCredential, "account disabled")
	}
	if acct.Phone != "" {
		resolver := acct.Email
		opts := identity.PhoneInfoOptions{FactorID: "phone-" + acct.UID, PhoneHint: maskPhone(acct.Phone)}
		p.mu.Unlock()
		challenge, err := p.issueChallenge(resolver, opts, cc)
		if err != nil {
			return nil, err
		}
		return nil, &identity.MFARequiredError{Challenge: challenge}
	}
	cred, err := p.mintLocked(acct, "password")
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.establish(ctx, epoch, cred)
}

func (p *Provider) issueChallenge(email string, opts identity.PhoneInfoOptions, cc identity.ChallengeContext) (*identity.MFAChallenge, error) {
	vid, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}
	code := p.sms.send()

	p.mu.Lock()
	defer p.mu.Unlock()
	// A new challenge supersedes every earlier one for the account.
	for id, c := range p.challenges {
		if c.email == email {
			c.active = false
			p.challenges[id] = c
		}
	}
	p.challenges[vid] = fakeChallenge{email: email, code: code, active: true}
	return identity.NewMFAChallenge("fake", vid, email, opts, cc, p.now()), nil
}

func (p *Provider) establish(ctx context.Context, epoch uint64, cred *identity.Credential) (*identity.Credential, error) {
	if p.BeforeResolve != nil {
		p.BeforeResolve()
	}
	return p.keeper.Establish(ctx, epoch, cred)
}

// mintLocked must be called with mu held.
func (p *Provider) mintLocked(acct *Account, providerID string) (*identity.Credential, error) {
	now := p.now()
	exp := now.Add(p.TokenTTL)
	claims := jwtx.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:         acct.Email,
		EmailVerified: acct.EmailVerified,
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("identitytest"))
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}
	rt, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	p.refresh[rt] = strings.ToLower(acct.Email)

	return &identity.Credential{
		User: identity.User{
			UID:           acct.UID,
			Email:         acct.Email,
			EmailVerified: acct.EmailVerified,
			ProviderID:    providerID,
		},
		IDToken:      idToken,
		RefreshToken: rt,
		ExpiresAt:    exp,
	}, nil
}

func (p *Provider) refreshToken(_ context.Context, rt string) (*identity.Credential, error) {
	if err := p.enter("refresh"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	email, ok := p.refresh[rt]
	if !ok {
		return nil, identity.NewError(identity.CodeUserTokenExpired, "refresh token revoked")
	}
	delete(p.refresh, rt)
	return p.mintLocked(p.accounts[email], "password")
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (p *Provider) RevokeRefreshTokens() {
	p.mu.Lock()
	clear(p.refresh)
	p.mu.Unlock()
}

func (p *Provider) VerifySecondFactor(ctx context.Context, challenge *identity.MFAChallenge, code string) (*identity.Credential, error) {
	if err := p.enter("verifySecondFactor"); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, identity.NewError(identity.CodeMissingVerificationCode, "code is required")
	}
	epoch := p.keeper.Notifier.Epoch()

	p.mu.Lock()
	c, ok := p.challenges[challenge.VerificationID]
	if !ok || !c.active {
		p.mu.Unlock()
		return nil, identity.NewError(identity.CodeCodeExpired, "verification id is no longer valid")
	}
	if c.code != code {
		p.mu.Unlock()
		return nil, identity.NewError(identity.CodeInvalidVerificationCode, "wrong code")
	}
	delete(p.challenges, challenge.VerificationID)
	cred, err := p.mintLocked(p.accounts[c.email], "password")
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.establish(ctx, epoch, cred)
}

func (p *Provider) ResendSecondFactor(_ context.Context, challenge *identity.MFAChallenge) (*identity.MFAChallenge, error) {
	if err := p.enter("resendSecondFactor"); err != nil {
		return nil, err
	}
	return p.issueChallenge(challenge.Resolver(), challenge.PhoneInfoOptions, challenge.Context())
}

func (p *Provider) SignInWithFederatedPopup(ctx context.Context) (*identity.Credential, error) {
	if err := p.enter("federatedPopup"); err != nil {
		return nil, err
	}
	epoch := p.keeper.Notifier.Epoch()
	cred, err := p.federatedCredential()
	if err != nil {
		return nil, err
	}
	return p.establish(ctx, epoch, cred)
}

func (p *Provider) SignInWithFederatedRedirect(_ context.Context, provider, redirectTarget string) (string, error) {
	if err := p.enter("federatedRedirect"); err != nil {
		return "", err
	}
	if provider == "" {
		provider = "saml.fake"
	}
	state, _, err := p.pending.Begin("", provider, false)
	if err != nil {
		return "", err
	}
	// The fake IdP redirects straight back.
	return identity.WithState(redirectTarget, state)
}

func (p *Provider) CompleteFederatedSignIn(ctx context.Context, callbackURL string) (*identity.Credential, error) {
	if err := p.enter("completeFederated"); err != nil {
		return nil, err
	}
	state, _, err := identity.StateFrom(callbackURL)
	if err != nil {
		return nil, identity.WrapError(identity.CodeInternalError, "malformed callback", err)
	}
	if _, ok := p.pending.Finish(state); !ok {
		return nil, identity.NewError(identity.CodeCodeExpired, "unknown or expired sign-in state")
	}
	epoch := p.keeper.Notifier.Epoch()
	cred, err := p.federatedCredential()
	if err != nil {
		return nil, err
	}
	return p.establish(ctx, epoch, cred)
}

func (p *Provider) federatedCredential() (*identity.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.federated == nil {
		return nil, identity.NewError(identity.CodeOperationNotSupported, "no federated provider configured")
	}
	return p.mintLocked(p.federated, "saml.fake")
}

func (p *Provider) SignOut(ctx context.Context) error {
	_ = p.enter("signOut")
	p.keeper.SignOut(ctx)
	return nil
}

func (p *Provider) SendPasswordResetEmail(_ context.Context, email string, settings identity.ActionCodeSettings) error {
	if err := p.enter("sendPasswordResetEmail"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[strings.ToLower(email)]; !ok {
		return identity.NewError(identity.CodeUserNotFound, "no account for "+email)
	}
	p.issueLocked(email, "PASSWORD_RESET", settings.URL)
	return nil
}

// issueLocked must be called with mu held.
func (p *Provider) issueLocked(email, kind, continueURL string) string {
	code, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		panic(err)
	}
	e := Email{To: email, Kind: kind, Code: code, URL: continueURL}
	p.codes[code] = e
	p.emails = append(p.emails, e)
	return code
}

func (p *Provider) lookupCode(code, kind string) (Email, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.codes[code]
	if !ok || e.Kind != kind {
		return Email{}, identity.NewError(identity.CodeInvalidActionCode, "The action code is invalid. This can happen if the code is malformed, expired, or has already been used.")
	}
	return e, nil
}

func (p *Provider) VerifyPasswordResetCode(_ context.Context, code string) (string, error) {
	if err := p.enter("verifyPasswordResetCode"); err != nil {
		return "", err
	}
	e, err := p.lookupCode(code, "PASSWORD_RESET")
	if err != nil {
		return "", err
	}
	return e.To, nil
}

func (p *Provider) ConfirmPasswordReset(_ context.Context, code, newPassword string) error {
	if err := p.enter("confirmPasswordReset"); err != nil {
		return err
	}
	if !p.keeper.ReserveCode(code) {
		return identity.NewError(identity.CodeAlreadyUsed, "this code has already been used")
	}
	e, err := p.lookupCode(code, "PASSWORD_RESET")
	if err != nil {
		return err
	}
	if len(newPassword) < 6 {
		p.keeper.ReleaseCode(code)
		return identity.NewError(identity.CodeWeakPassword, "Password should be at least 6 characters")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.codes, code)
	p.accounts[strings.ToLower(e.To)].Password = newPassword
	return nil
}

func (p *Provider) ApplyActionCode(_ context.Context, code string) error {
	if err := p.enter("applyActionCode"); err != nil {
		return err
	}
	e, err := p.lookupCode(code, "VERIFY_EMAIL")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.codes, code)
	if acct, ok := p.accounts[strings.ToLower(e.To)]; ok {
		acct.EmailVerified = true
	}
	return nil
}

func (p *Provider) SendEmailVerification(ctx context.Context, settings identity.ActionCodeSettings) error {
	if err := p.enter("sendEmailVerification"); err != nil {
		return err
	}
	cur, ok := p.keeper.Notifier.Current()
	if !ok {
		return identity.ErrNoCurrentUser
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issueLocked(cur.User.Email, "VERIFY_EMAIL", settings.URL)
	return nil
}

func (p *Provider) CurrentToken(ctx context.Context) (string, error) {
	return p.keeper.Token(ctx)
}

func (p *Provider) OnAuthStateChanged(cb identity.StateCallbacks) func() {
	return p.keeper.Notifier.Subscribe(cb)
}

func (p *Provider) Restore(ctx context.Context) error {
	if err := p.enter("restore"); err != nil {
		return err
	}
	return p.keeper.Restore(ctx)
}

package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"golang.org/x/oauth2"
)

func (p *Provider) SignInWithFederatedPopup(ctx context.Context) (*identity.Credential, error) {
	if p.cfg.OpenURL == nil {
		return nil, identity.NewError(identity.CodeOperationNotSupported, "no way to open a sign-in window")
	}

	authURL, state, wait, err := p.beginFederated(ctx, p.cfg.FederatedProvider, p.cfg.CallbackURL, true)
	if err != nil {
		return nil, err
	}
	if err := p.cfg.OpenURL(authURL); err != nil {
		p.pending.Cancel(state)
		return nil, identity.WrapError(identity.CodeOperationNotSupported, "failed to open sign-in window", err)
	}

	select {
	case res := <-wait:
		return res.Credential, res.Err
	case <-ctx.Done():
		p.pending.Cancel(state)
		return nil, identity.WrapError(identity.CodePopupClosed, "federated sign-in was abandoned", ctx.Err())
	}
}

func (p *Provider) SignInWithFederatedRedirect(ctx context.Context, provider, redirectTarget string) (string, error) {
	if provider == "" {
		provider = p.cfg.FederatedProvider
	}
	if redirectTarget == "" {
		redirectTarget = p.cfg.CallbackURL
	}
	authURL, _, _, err := p.beginFederated(ctx, provider, redirectTarget, false)
	return authURL, err
}

// beginFederated registers a PKCE verifier under a fresh state and builds
// the URL that starts the provider's sign-in.
func (p *Provider) beginFederated(ctx context.Context, provider, target string, popup bool) (string, string, <-chan identity.FederatedResult, error) {
	if target == "" {
		return "", "", nil, identity.NewError(identity.CodeOperationNotSupported, "no callback url configured")
	}

	verifier := oauth2.GenerateVerifier()
	state, wait, err := p.pending.Begin(verifier, provider, popup)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to start federated sign-in: %w", err)
	}
	redirectTo, err := identity.WithState(target, state)
	if err != nil {
		p.pending.Cancel(state)
		return "", "", nil, identity.WrapError(identity.CodeInternalError, "invalid redirect target", err)
	}

	var authURL string
	if provider == p.cfg.SAMLProviderID && provider != "" {
		authURL, err = p.ssoURL(ctx, provider, redirectTo, verifier)
		if err != nil {
			p.pending.Cancel(state)
			return "", "", nil, err
		}
	} else {
		authURL = p.oauth.AuthCodeURL(state,
			oauth2.SetAuthURLParam("provider", provider),
			oauth2.SetAuthURLParam("redirect_to", redirectTo),
			oauth2.S256ChallengeOption(verifier),
		)
	}

	p.logger.Info("federated sign-in started", "provider", provider, "popup", popup)
	return authURL, state, wait, nil
}

func (p *Provider) ssoURL(ctx context.Context, providerID, redirectTo, verifier string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	err := p.call(ctx, http.MethodPost, "/sso", "", map[string]any{
		"provider_id":           providerID,
		"redirect_to":           redirectTo,
		"code_challenge":        oauth2.S256ChallengeFromVerifier(verifier),
		"code_challenge_method": "s256",
		"skip_http_redirect":    true,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", identity.NewError(identity.CodeInternalError, "supabase returned no sso url")
	}
	return resp.URL, nil
}

func (p *Provider) CompleteFederatedSignIn(ctx context.Context, callbackURL string) (*identity.Credential, error) {
	state, q, err := identity.StateFrom(callbackURL)
	if err != nil {
		return nil, identity.WrapError(identity.CodeInvalidCredential, "malformed callback url", err)
	}
	entry, ok := p.pending.Finish(state)
	if !ok {
		return nil, identity.NewError(identity.CodeInvalidCredential, "unknown or expired federated sign-in")
	}

	cred, err := p.exchange(ctx, q.Get("code"), q.Get("error"), q.Get("error_description"), entry.Secret)
	entry.Deliver(identity.FederatedResult{Credential: cred, Err: err})
	return cred, err
}

func (p *Provider) exchange(ctx context.Context, code, errCode, errDesc, verifier string) (*identity.Credential, error) {
	if errCode != "" {
		return nil, identity.NewError(identity.CodeInvalidCredential, errCode+": "+errDesc)
	}
	if code == "" {
		return nil, identity.NewError(identity.CodeInvalidCredential, "callback carried no authorization code")
	}

	epoch := p.keeper.Notifier.Epoch()
	var sess sessionResponse
	err := p.call(ctx, http.MethodPost, "/token?grant_type=pkce", "", map[string]any{
		"auth_code":     code,
		"code_verifier": verifier,
	}, &sess)
	if err != nil {
		return nil, err
	}
	return p.finishSignIn(ctx, epoch, &sess, identity.ChallengeContext{})
}

package firebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/google/uuid"
)

func (p *Provider) SignInWithFederatedPopup(ctx context.Context) (*identity.Credential, error) {
	if p.cfg.OpenURL == nil {
		return nil, identity.NewError(identity.CodeOperationNotSupported, "no way to open a sign-in window")
	}

	authURI, state, wait, err := p.beginFederated(ctx, p.cfg.SAMLProviderID, p.cfg.CallbackURL, true)
	if err != nil {
		return nil, err
	}
	if err := p.cfg.OpenURL(authURI); err != nil {
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
		provider = p.cfg.SAMLProviderID
	}
	if redirectTarget == "" {
		redirectTarget = p.cfg.CallbackURL
	}
	authURI, _, _, err := p.beginFederated(ctx, provider, redirectTarget, false)
	return authURI, err
}

func (p *Provider) beginFederated(ctx context.Context, providerID, target string, popup bool) (string, string, <-chan identity.FederatedResult, error) {
	if providerID == "" {
		return "", "", nil, identity.NewError(identity.CodeOperationNotSupported, "no federated provider configured")
	}
	if target == "" {
		return "", "", nil, identity.NewError(identity.CodeOperationNotSupported, "no callback url configured")
	}

	sessionID := uuid.NewString()
	state, wait, err := p.pending.Begin(sessionID, providerID, popup)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to start federated sign-in: %w", err)
	}
	continueURI, err := identity.WithState(target, state)
	if err != nil {
		p.pending.Cancel(state)
		return "", "", nil, identity.WrapError(identity.CodeInternalError, "invalid redirect target", err)
	}

	var resp createAuthURIResponse
	err = p.postToolkit(ctx, "/v1/accounts:createAuthUri", map[string]any{
		"providerId":  providerID,
		"continueUri": continueURI,
		"sessionId":   sessionID,
	}, &resp)
	if err != nil {
		p.pending.Cancel(state)
		return "", "", nil, err
	}
	if resp.AuthURI == "" {
		p.pending.Cancel(state)
		return "", "", nil, identity.NewError(identity.CodeInternalError, "identity toolkit returned no auth uri")
	}

	p.logger.Info("federated sign-in started", "provider", providerID, "popup", popup)
	return resp.AuthURI, state, wait, nil
}

func (p *Provider) CompleteFederatedSignIn(ctx context.Context, callbackURL string) (*identity.Credential, error) {
	state, _, err := identity.StateFrom(callbackURL)
	if err != nil {
		return nil, identity.WrapError(identity.CodeInvalidCredential, "malformed callback url", err)
	}
	entry, ok := p.pending.Finish(state)
	if !ok {
		return nil, identity.NewError(identity.CodeInvalidCredential, "unknown or expired federated sign-in")
	}

	cred, err := p.signInWithIdp(ctx, callbackURL, entry.Secret)
	entry.Deliver(identity.FederatedResult{Credential: cred, Err: err})
	return cred, err
}

func (p *Provider) signInWithIdp(ctx context.Context, requestURI, sessionID string) (*identity.Credential, error) {
	epoch := p.keeper.Notifier.Epoch()

	var resp signInResponse
	err := p.postToolkit(ctx, "/v1/accounts:signInWithIdp", map[string]any{
		"requestUri":          requestURI,
		"sessionId":           sessionID,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.MFAPendingCredential != "" {
		challenge, err := p.startMFA(ctx, resp.MFAPendingCredential, resp.MFAInfo, identity.ChallengeContext{})
		if err != nil {
			return nil, err
		}
		return nil, &identity.MFARequiredError{Challenge: challenge}
	}

	cred, err := p.credential(ctx, resp.IDToken, resp.RefreshToken, resp.ExpiresIn, resp.LocalID, resp.Email)
	if err != nil {
		return nil, err
	}
	cred, err = p.keeper.Establish(ctx, epoch, cred)
	if errors.Is(err, identity.ErrSuperseded) {
		p.logger.Info("federated sign-in completed after sign-out; discarded")
	}
	return cred, err
}

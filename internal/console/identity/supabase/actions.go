package supabase

import (
	"context"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
)

func (p *Provider) SendPasswordResetEmail(ctx context.Context, email string, settings identity.ActionCodeSettings) error {
	path := "/recover"
	if settings.URL != "" {
		path += "?redirect_to=" + url.QueryEscape(settings.URL)
	}
	return p.call(ctx, http.MethodPost, path, "", map[string]any{"email": email}, nil)
}

// VerifyPasswordResetCode exchanges the recovery token for a short-lived
// recovery session, kept aside until ConfirmPasswordReset. The recovery
// session is never announced as a sign-in.
func (p *Provider) VerifyPasswordResetCode(ctx context.Context, code string) (string, error) {
	rs, err := p.recoverySession(ctx, code)
	if err != nil {
		return "", err
	}
	return rs.email, nil
}

func (p *Provider) recoverySession(ctx context.Context, code string) (recoverySession, error) {
	fp := cryptox.FingerprintToken(code)

	p.recoveryMu.Lock()
	for k, rs := range p.recovery {
		if p.now().Sub(rs.createdAt) > recoverySessionTTL {
			delete(p.recovery, k)
		}
	}
	rs, ok := p.recovery[fp]
	p.recoveryMu.Unlock()
	if ok {
		return rs, nil
	}

	var sess sessionResponse
	err := p.call(ctx, http.MethodPost, "/verify", "", map[string]any{
		"type":       "recovery",
		"token_hash": code,
	}, &sess)
	if err != nil {
		return recoverySession{}, err
	}

	rs = recoverySession{accessToken: sess.AccessToken, email: sess.User.Email, createdAt: p.now()}
	p.recoveryMu.Lock()
	p.recovery[fp] = rs
	p.recoveryMu.Unlock()
	return rs, nil
}

func (p *Provider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if !p.keeper.ReserveCode(code) {
		return identity.NewError(identity.CodeAlreadyUsed, "action code was already used")
	}

	rs, err := p.recoverySession(ctx, code)
	if err == nil {
		err = p.call(ctx, http.MethodPut, "/user", rs.accessToken, map[string]any{"password": newPassword}, nil)
	}
	if err != nil {
		p.keeper.ReleaseCode(code)
		return err
	}

	p.recoveryMu.Lock()
	delete(p.recovery, cryptox.FingerprintToken(code))
	p.recoveryMu.Unlock()
	return nil
}

func (p *Provider) ApplyActionCode(ctx context.Context, code string) error {
	if !p.keeper.ReserveCode(code) {
		return identity.NewError(identity.CodeAlreadyUsed, "action code was already used")
	}
	err := p.call(ctx, http.MethodPost, "/verify", "", map[string]any{
		"type":       "email",
		"token_hash": code,
	}, nil)
	if err != nil {
		p.keeper.ReleaseCode(code)
	}
	return err
}

func (p *Provider) SendEmailVerification(ctx context.Context, settings identity.ActionCodeSettings) error {
	cur, ok := p.keeper.Notifier.Current()
	if !ok {
		return identity.ErrNoCurrentUser
	}
	body := map[string]any{"type": "signup", "email": cur.User.Email}
	if settings.URL != "" {
		body["options"] = map[string]any{"email_redirect_to": settings.URL}
	}
	return p.call(ctx, http.MethodPost, "/resend", "", body, nil)
}

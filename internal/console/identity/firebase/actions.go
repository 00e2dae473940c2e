package firebase

import (
	"context"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
)

func (p *Provider) SendPasswordResetEmail(ctx context.Context, email string, settings identity.ActionCodeSettings) error {
	body := map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}
	addContinue(body, settings)
	return p.postToolkit(ctx, "/v1/accounts:sendOobCode", body, nil)
}

func (p *Provider) VerifyPasswordResetCode(ctx context.Context, code string) (string, error) {
	var resp oobResponse
	if err := p.postToolkit(ctx, "/v1/accounts:resetPassword", map[string]any{"oobCode": code}, &resp); err != nil {
		return "", err
	}
	return resp.Email, nil
}

func (p *Provider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	return p.consume(code, func() error {
		return p.postToolkit(ctx, "/v1/accounts:resetPassword", map[string]any{
			"oobCode":     code,
			"newPassword": newPassword,
		}, nil)
	})
}

func (p *Provider) ApplyActionCode(ctx context.Context, code string) error {
	return p.consume(code, func() error {
		return p.postToolkit(ctx, "/v1/accounts:update", map[string]any{"oobCode": code}, nil)
	})
}

func (p *Provider) SendEmailVerification(ctx context.Context, settings identity.ActionCodeSettings) error {
	token, err := p.keeper.Token(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     token,
	}
	addContinue(body, settings)
	return p.postToolkit(ctx, "/v1/accounts:sendOobCode", body, nil)
}

// consume runs call at most once per successful code. A failed call frees
// the code so the user can retry.
func (p *Provider) consume(code string, call func() error) error {
	if !p.keeper.ReserveCode(code) {
		return identity.NewError(identity.CodeAlreadyUsed, "action code was already used")
	}
	if err := call(); err != nil {
		p.keeper.ReleaseCode(code)
		return err
	}
	return nil
}

func addContinue(body map[string]any, settings identity.ActionCodeSettings) {
	if settings.URL == "" {
		return
	}
	body["continueUrl"] = settings.URL
	body["canHandleCodeInApp"] = settings.HandleCodeInApp
}

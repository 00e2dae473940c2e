package service_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/identity/identitytest"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func actionQuery(mode domain.ActionCodeMode, code string) string {
	q := url.Values{}
	q.Set("mode", string(mode))
	q.Set("oobCode", code)
	q.Set("apiKey", "fake-api-key")
	return q.Encode()
}

func newActionService(t *testing.T) (*service.ActionCodeService, *identitytest.Provider) {
	t.Helper()
	p := newProvider(t)
	db := newSQLiteStore(t)
	return &service.ActionCodeService{
		Provider: p,
		Codes:    db.ActionCodes(),
		Logger:   slogx.Discard(),
	}, p
}

func TestParseActionCodeRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  service.ActionCodeRequest
		err   error
	}{
		{name: "reset", query: "mode=resetPassword&oobCode=abc", want: service.ActionCodeRequest{Mode: domain.ModeResetPassword, OobCode: "abc"}},
		{name: "leading question mark", query: "?mode=verifyEmail&oobCode=abc", want: service.ActionCodeRequest{Mode: domain.ModeVerifyEmail, OobCode: "abc"}},
		{name: "recover", query: "mode=recoverEmail&oobCode=x", want: service.ActionCodeRequest{Mode: domain.ModeRecoverEmail, OobCode: "x"}},
		{name: "empty", query: "", err: service.ErrInvalidMode},
		{name: "unknown mode", query: "mode=signIn&oobCode=abc", err: service.ErrInvalidMode},
		{name: "missing code", query: "mode=resetPassword", err: service.ErrMissingCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.ParseActionCodeRequest(tt.query)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestActionCodeInvalidLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, p := newActionService(t)

	v := svc.Prepare(ctx, "mode=bogus&oobCode=abc")
	require.Equal(t, service.ActionView{Message: service.MsgInvalidRequest, Disabled: true}, v)

	v, err := svc.Submit(ctx, "mode=resetPassword", "long enough password")
	require.NoError(t, err)
	require.Equal(t, service.MsgMissingCode, v.Message)
	require.True(t, v.Disabled)

	require.Equal(t, 0, p.Calls("verifyPasswordResetCode"))
	require.Equal(t, 0, p.Calls("confirmPasswordReset"))
	require.Equal(t, 0, p.Calls("applyActionCode"))
}

func TestActionCodePasswordReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, p := newActionService(t)
	code := p.IssueActionCode(plainEmail, "PASSWORD_RESET")
	query := actionQuery(domain.ModeResetPassword, code)

	v := svc.Prepare(ctx, query)
	require.Equal(t, service.ActionView{Mode: domain.ModeResetPassword, Email: plainEmail}, v)

	// Too short: rejected locally, link not spent. Length is counted in
	// characters, not bytes.
	for _, pw := range []string{"", "short", "ééééé", "密码密码密码"} {
		_, err := svc.Submit(ctx, query, pw)
		require.True(t, service.IsValidation(err), "password %q", pw)
	}
	require.Equal(t, 0, p.Calls("confirmPasswordReset"))

	v, err := svc.Submit(ctx, query, "a much better password")
	require.NoError(t, err)
	require.True(t, v.Succeeded)
	require.True(t, v.Disabled)
	require.Equal(t, service.MsgPasswordReset, v.Message)

	acct, ok := p.Account(plainEmail)
	require.True(t, ok)
	require.Equal(t, "a much better password", acct.Password)

	v, err = svc.Submit(ctx, query, "a much better password")
	require.ErrorIs(t, err, service.ErrAlreadySubmitted)
	require.True(t, v.Disabled)
	require.Equal(t, 1, p.Calls("confirmPasswordReset"))

	v = svc.Prepare(ctx, query)
	require.Equal(t, service.MsgLinkAlreadyUsed, v.Message)
	require.True(t, v.Succeeded)
}

func TestActionCodeRecordedByFingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := newProvider(t)
	db := newSQLiteStore(t)
	now := time.Unix(1700000000, 0)
	svc := &service.ActionCodeService{Provider: p, Codes: db.ActionCodes(), Logger: slogx.Discard(), Now: func() time.Time { return now }}

	code := p.IssueActionCode(plainEmail, "VERIFY_EMAIL")
	_, err := svc.Submit(ctx, actionQuery(domain.ModeVerifyEmail, code), "")
	require.NoError(t, err)

	rec, err := db.ActionCodes().GetActionCode(ctx, cryptox.FingerprintToken(code))
	require.NoError(t, err)
	require.Equal(t, domain.ModeVerifyEmail, rec.Mode)
	require.Equal(t, domain.OutcomeSucceeded, rec.Outcome)
	require.True(t, rec.ConsumedAt.Equal(now))

	// A second service over the same store still sees the link as spent.
	other := &service.ActionCodeService{Provider: p, Codes: db.ActionCodes(), Logger: slogx.Discard()}
	_, err = other.Submit(ctx, actionQuery(domain.ModeVerifyEmail, code), "")
	require.ErrorIs(t, err, service.ErrAlreadySubmitted)
	require.Equal(t, 1, p.Calls("applyActionCode"))
}

func TestActionCodeVerifyEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, p := newActionService(t)
	p.AddAccount(identitytest.Account{UID: "uid-3", Email: "new@example.com", Password: password})
	code := p.IssueActionCode("new@example.com", "VERIFY_EMAIL")
	query := actionQuery(domain.ModeVerifyEmail, code)

	v := svc.Prepare(ctx, query)
	require.Equal(t, service.ActionView{Mode: domain.ModeVerifyEmail}, v)

	v, err := svc.Submit(ctx, query, "")
	require.NoError(t, err)
	require.Equal(t, service.ActionView{Mode: domain.ModeVerifyEmail, Message: service.MsgEmailVerified, Disabled: true, Succeeded: true}, v)

	acct, _ := p.Account("new@example.com")
	require.True(t, acct.EmailVerified)
}

func TestActionCodeBackendMessageShownVerbatim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, p := newActionService(t)
	query := actionQuery(domain.ModeResetPassword, "not-a-real-code")

	v := svc.Prepare(ctx, query)
	require.True(t, v.Disabled)
	require.Equal(t, "The action code is invalid. This can happen if the code is malformed, expired, or has already been used.", v.Message)

	v, err := svc.Submit(ctx, query, "long enough password")
	require.NoError(t, err)
	require.False(t, v.Succeeded)
	require.True(t, v.Disabled)
	require.Equal(t, 0, p.Calls("confirmPasswordReset"))

	// A failed submission is final as well.
	_, err = svc.Submit(ctx, query, "long enough password")
	require.ErrorIs(t, err, service.ErrAlreadySubmitted)
}

func TestActionCodeBackendFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, p := newActionService(t)
	code := p.IssueActionCode(plainEmail, "VERIFY_EMAIL")
	p.FailNext("applyActionCode", identity.NewError(identity.CodeExpiredActionCode, "The action code has expired."))

	v, err := svc.Submit(ctx, actionQuery(domain.ModeVerifyEmail, code), "")
	require.NoError(t, err)
	require.Equal(t, "The action code has expired.", v.Message)
	require.False(t, v.Succeeded)
}

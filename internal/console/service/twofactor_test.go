package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/identity/identitytest"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func startChallenge(t *testing.T, p identity.Provider) *identity.MFAChallenge {
	t.Helper()
	_, err := p.SignInWithEmailAndPassword(context.Background(), mfaEmail, password, identity.ChallengeContext{})
	challenge, ok := identity.AsMFARequired(err)
	require.True(t, ok, "expected a second factor challenge, got %v", err)
	return challenge
}

func newFlow(t *testing.T) (*service.TwoFactorFlow, *identitytest.Provider, *manualClock) {
	t.Helper()
	p := newProvider(t)
	clock := newManualClock()
	flow := service.NewTwoFactorFlow(p, startChallenge(t, p), clock, 30*time.Second, slogx.Discard())
	t.Cleanup(flow.Close)
	return flow, p, clock
}

func wrongCode(right string) string {
	if right == "000000" {
		return "111111"
	}
	return "000000"
}

func TestSanitizeCode(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{in: "123456", want: "123456"},
		{in: "12 34-56", want: "123456"},
		{in: "1234567890", want: "123456"},
		{in: "abc", want: ""},
		{in: "\uff1912345a6", want: "123456"},
		{in: "", want: ""},
		{in: "  1 2 3   ", want: "123"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, service.SanitizeCode(tt.in), "input %q", tt.in)
	}
}

func TestTwoFactorIncompleteCodeNeverReachesBackend(t *testing.T) {
	t.Parallel()

	flow, p, _ := newFlow(t)
	require.Equal(t, service.StateChallengeIssued, flow.State())

	require.Equal(t, "123", flow.SetCode("1-2-3"))
	require.False(t, flow.CanVerify())

	_, err := flow.Verify(context.Background())
	require.True(t, service.IsValidation(err))
	require.Equal(t, 0, p.Calls("verifySecondFactor"))
	require.Equal(t, service.MsgEnterCode, flow.Snapshot().FieldError)
}

func TestTwoFactorInvalidCode(t *testing.T) {
	t.Parallel()

	flow, p, _ := newFlow(t)
	challenge, _ := flow.Challenge()

	flow.SetCode(wrongCode(p.LastSMSCode()))
	require.True(t, flow.CanVerify())

	_, err := flow.Verify(context.Background())
	require.True(t, identity.IsCode(err, identity.CodeInvalidVerificationCode))

	snap := flow.Snapshot()
	require.Equal(t, service.StateChallengeIssued, snap.State)
	require.Equal(t, service.MsgWrongCode, snap.FieldError)
	require.Empty(t, snap.GeneralError)
	require.Empty(t, snap.Code)
	require.Equal(t, 30, snap.Cooldown.RemainingSeconds)

	// No new challenge was issued.
	same, _ := flow.Challenge()
	require.Equal(t, challenge.VerificationID, same.VerificationID)
	require.Equal(t, 1, p.SMSCount())
	require.Equal(t, 0, p.Calls("resendSecondFactor"))
}

func TestTwoFactorOtherErrorIsGeneral(t *testing.T) {
	t.Parallel()

	flow, p, _ := newFlow(t)
	p.FailNext("verifySecondFactor", identity.NewError(identity.CodeNetworkRequestFailed, "offline"))

	code := p.LastSMSCode()
	flow.SetCode(code)
	_, err := flow.Verify(context.Background())
	require.True(t, identity.IsCode(err, identity.CodeNetworkRequestFailed))

	snap := flow.Snapshot()
	require.Equal(t, service.StateChallengeIssued, snap.State)
	require.Empty(t, snap.FieldError)
	require.NotEmpty(t, snap.GeneralError)
	require.Equal(t, code, snap.Code)

	// The same code still works once the network is back.
	cred, err := flow.Verify(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cred.IDToken)
	require.Equal(t, service.StateVerified, flow.State())
}

func TestTwoFactorResend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	flow, p, clock := newFlow(t)
	original, _ := flow.Challenge()
	originalCode := p.LastSMSCode()

	require.ErrorIs(t, flow.Resend(ctx), service.ErrResendNotReady)

	clock.TickN(30)
	require.Eventually(t, func() bool { return flow.Snapshot().Cooldown.CanResend }, time.Second, time.Millisecond)

	require.NoError(t, flow.Resend(ctx))
	replaced, _ := flow.Challenge()
	require.NotEqual(t, original.VerificationID, replaced.VerificationID)
	require.Equal(t, original.PhoneInfoOptions, replaced.PhoneInfoOptions)
	require.Equal(t, service.CooldownState{RemainingSeconds: 30}, flow.Snapshot().Cooldown)
	require.Equal(t, 2, p.SMSCount())

	// The backend no longer honours the old verification id.
	_, err := p.VerifySecondFactor(ctx, original, originalCode)
	require.True(t, identity.IsCode(err, identity.CodeCodeExpired))

	flow.SetCode(p.LastSMSCode())
	_, err = flow.Verify(ctx)
	require.NoError(t, err)
}

type blockingProvider struct {
	identity.Provider
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProvider) VerifySecondFactor(ctx context.Context, c *identity.MFAChallenge, code string) (*identity.Credential, error) {
	close(b.entered)
	<-b.release
	return b.Provider.VerifySecondFactor(ctx, c, code)
}

func TestTwoFactorInFlightAndClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := newProvider(t)
	bp := &blockingProvider{Provider: p, entered: make(chan struct{}), release: make(chan struct{})}
	clock := newManualClock()
	flow := service.NewTwoFactorFlow(bp, startChallenge(t, p), clock, 30*time.Second, slogx.Discard())
	flow.SetCode(p.LastSMSCode())

	done := make(chan error, 1)
	go func() {
		_, err := flow.Verify(ctx)
		done <- err
	}()
	<-bp.entered

	require.Equal(t, service.StateVerifying, flow.State())
	require.False(t, flow.CanVerify())
	_, err := flow.Verify(ctx)
	require.ErrorIs(t, err, service.ErrVerifyInFlight)
	require.ErrorIs(t, flow.Resend(ctx), service.ErrVerifyInFlight)

	flow.Close()
	flow.Close()
	require.Equal(t, 0, clock.liveTickers())

	close(bp.release)
	require.ErrorIs(t, <-done, service.ErrFlowClosed)
	require.Equal(t, service.StateClosed, flow.State())

	_, ok := flow.Challenge()
	require.False(t, ok)
	require.ErrorIs(t, flow.Resend(ctx), service.ErrFlowClosed)
}

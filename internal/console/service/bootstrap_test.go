package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/stretchr/testify/require"
)

// signIn logs in through the provider directly and returns the confirmed
// bearer token.
func (h *harness) signIn(t *testing.T, email string) string {
	t.Helper()
	_, err := h.provider.SignInWithEmailAndPassword(context.Background(), email, password, h.login.ChallengeContext)
	require.NoError(t, err)
	tok, err := h.session.WaitReady(context.Background())
	require.NoError(t, err)
	return tok
}

func TestBootstrapRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("accepted session navigates to root", func(t *testing.T) {
		h := newHarness(t)
		d := h.bootstrap.Run(ctx, h.signIn(t, plainEmail))
		require.Equal(t, service.Decision{Kind: service.DecisionNavigate, Destination: service.Root}, d)
		require.Equal(t, "", d.Destination.Search)
	})

	t.Run("accepted session returns to captured destination", func(t *testing.T) {
		h := newHarness(t)
		h.returnTo.Capture(service.ParseDestination("/assets/42?tab=findings"))
		d := h.bootstrap.Run(ctx, h.signIn(t, plainEmail))
		require.Equal(t, service.Destination{Path: "/assets/42", Search: "?tab=findings"}, d.Destination)

		_, pending := h.returnTo.Peek()
		require.False(t, pending)
	})

	t.Run("unverified email sends one verification", func(t *testing.T) {
		h := newHarness(t)
		h.backend.set(plainEmail, verdictUnverified)

		d := h.bootstrap.Run(ctx, h.signIn(t, plainEmail))
		require.Equal(t, service.DecisionStay, d.Kind)
		require.Equal(t, service.MsgVerificationSent, d.Message)
		require.True(t, d.Informational)
		require.Equal(t, 1, h.provider.Calls("sendEmailVerification"))

		emails := h.provider.Emails()
		require.Len(t, emails, 1)
		require.Equal(t, "VERIFY_EMAIL", emails[0].Kind)

		// The identity session is left alone.
		require.True(t, h.session.State().IdentitySessionReady)
	})

	t.Run("new user is created and sent to account setup", func(t *testing.T) {
		h := newHarness(t)
		h.backend.set(plainEmail, verdictNoSuchUser)
		h.returnTo.Capture(service.ParseDestination("/tickets?page=2"))

		d := h.bootstrap.Run(ctx, h.signIn(t, plainEmail))
		require.Equal(t, service.DecisionAccountSetup, d.Kind)
		require.Equal(t, service.Destination{Path: service.DefaultAccountSetupPath}, d.Destination)
		require.Equal(t, &service.Destination{Path: "/tickets", Search: "?page=2"}, d.From)

		_, creates := h.backend.counts()
		require.Equal(t, 1, creates)
	})

	t.Run("rejected session goes to login keeping the destination", func(t *testing.T) {
		h := newHarness(t)
		h.backend.set(plainEmail, verdictReject)
		h.returnTo.Capture(service.ParseDestination("/reports"))

		d := h.bootstrap.Run(ctx, h.signIn(t, plainEmail))
		require.Equal(t, service.DecisionLogin, d.Kind)
		require.Equal(t, service.Destination{Path: service.DefaultLoginPath}, d.Destination)
		require.Equal(t, service.MsgLoginAgain, d.Message)
		require.Equal(t, &service.Destination{Path: "/reports"}, d.From)

		_, pending := h.returnTo.Peek()
		require.True(t, pending)
	})
}

func TestBootstrapResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		h := newHarness(t)
		d := h.bootstrap.Resume(ctx)
		require.Equal(t, service.DecisionLogin, d.Kind)
		require.Nil(t, d.From)

		gets, _ := h.backend.counts()
		require.Equal(t, 0, gets)
	})

	t.Run("accepted provisional token", func(t *testing.T) {
		previous := newHarness(t)
		saved := previous.signIn(t, plainEmail)

		// A fresh process finds the cookie before the identity backend
		// has confirmed anything.
		h := newHarness(t)
		h.jar.token = saved
		require.NoError(t, h.session.Restore(ctx))
		tok, ok := h.session.Provisional()
		require.True(t, ok)
		require.NotEmpty(t, tok)

		d := h.bootstrap.Resume(ctx)
		require.Equal(t, service.DecisionNavigate, d.Kind)
	})

	t.Run("rejected provisional token is dropped", func(t *testing.T) {
		h := newHarness(t)
		h.jar.token = "stale-token"
		require.NoError(t, h.session.Restore(ctx))

		d := h.bootstrap.Resume(ctx)
		require.Equal(t, service.DecisionLogin, d.Kind)
		require.Equal(t, "", h.session.State().BearerToken)
		require.Empty(t, h.jar.token)
	})

	t.Run("confirmed session", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, plainEmail)
		d := h.bootstrap.Resume(ctx)
		require.Equal(t, service.DecisionNavigate, d.Kind)
	})
}

func TestBootstrapToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("accepted provisional token is used without confirmation", func(t *testing.T) {
		previous := newHarness(t)
		saved := previous.signIn(t, plainEmail)

		// The cookie survived but the identity backend never confirms it.
		h := newHarness(t)
		h.jar.token = saved
		require.NoError(t, h.session.Restore(ctx))
		require.Equal(t, service.DecisionNavigate, h.bootstrap.Resume(ctx).Kind)

		tok, err := h.bootstrap.Token(ctx)
		require.NoError(t, err)
		require.Equal(t, saved, tok)

		me, err := apisdk.NewSDKClient(h.backend.URL).NewSession(h.bootstrap).GetMe(ctx)
		require.NoError(t, err)
		require.Equal(t, plainEmail, me.Email)
	})

	t.Run("confirmed session", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, plainEmail)
		tok, err := h.bootstrap.Token(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, tok)
	})

	t.Run("no session gives up after the ready timeout", func(t *testing.T) {
		h := newHarness(t)
		h.bootstrap.ReadyTimeout = 50 * time.Millisecond

		start := time.Now()
		_, err := h.bootstrap.Token(ctx)
		require.True(t, identity.IsCode(err, identity.CodeNoCurrentUser), "got %v", err)
		require.Less(t, time.Since(start), 5*time.Second)
	})
}

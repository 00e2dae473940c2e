package identity_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/stretchr/testify/require"
)

func TestErrorMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("failed to sign in: %w", identity.NewError(identity.CodeInvalidCredential, "bad password"))
	require.Equal(t, identity.CodeInvalidCredential, identity.CodeOf(err))
	require.True(t, identity.IsCode(err, identity.CodeInvalidCredential))
	require.False(t, identity.IsCode(nil, identity.CodeInvalidCredential))
	require.Equal(t, identity.Code(""), identity.CodeOf(errors.New("plain")))

	// Is compares codes, so any no-current-user error matches the sentinel.
	require.ErrorIs(t, identity.NewError(identity.CodeNoCurrentUser, "other text"), identity.ErrNoCurrentUser)
	require.NotErrorIs(t, err, identity.ErrNoCurrentUser)

	cause := errors.New("dial tcp: refused")
	wrapped := identity.WrapError(identity.CodeNetworkRequestFailed, "unreachable", cause)
	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, "auth/network-request-failed: unreachable", wrapped.Error())
}

func TestMFARequired(t *testing.T) {
	t.Parallel()

	ch := identity.NewMFAChallenge("firebase", "vid-1", "pending", identity.PhoneInfoOptions{FactorID: "f1"}, identity.ChallengeContext{}, time.Time{})
	err := fmt.Errorf("sign in: %w", &identity.MFARequiredError{Challenge: ch})

	got, ok := identity.AsMFARequired(err)
	require.True(t, ok)
	require.Equal(t, "vid-1", got.VerificationID)
	require.Equal(t, "pending", got.Resolver())

	_, ok = identity.AsMFARequired(errors.New("nope"))
	require.False(t, ok)
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	require.Equal(t, identity.CodeNetworkRequestFailed, identity.TransportError(context.Background(), cause).Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := identity.TransportError(ctx, cause)
	require.Equal(t, identity.CodeCancelled, err.Code)
	require.ErrorIs(t, err, context.Canceled)
}

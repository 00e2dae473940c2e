package firebase

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestParseError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status  int
		message string
		want    identity.Code
	}{
		{400, "EMAIL_NOT_FOUND", identity.CodeUserNotFound},
		{400, "INVALID_LOGIN_CREDENTIALS", identity.CodeInvalidCredential},
		{400, "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled", identity.CodeTooManyRequests},
		{400, "WEAK_PASSWORD : Password should be at least 6 characters", identity.CodeWeakPassword},
		{400, "INVALID_CODE", identity.CodeInvalidVerificationCode},
		{400, "EXPIRED_OOB_CODE", identity.CodeExpiredActionCode},
		{400, "OPERATION_NOT_ALLOWED", identity.CodeOperationNotSupported},
		{400, "INVALID_MFA_PENDING_CREDENTIAL : stale", identity.CodeCodeExpired},
		{429, "", identity.CodeTooManyRequests},
		{500, "", identity.CodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			body := `{"error":{"code":400,"message":"` + tc.message + `"}}`
			err := parseError(&http.Response{StatusCode: tc.status, Body: io.NopCloser(strings.NewReader(body))})
			require.Equal(t, tc.want, identity.CodeOf(err))
		})
	}

	err := parseError(&http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader(`{"error":{"message":"WEAK_PASSWORD : too short"}}`))})
	require.Equal(t, "auth/weak-password: too short", err.Error())
}

func TestEmulatorURLs(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), Config{
		APIKey:         "k",
		ProjectID:      "demo-project",
		EmulatorHost:   "127.0.0.1:9099",
		VerifyIDTokens: true,
		Logger:         slogx.Discard(),
	})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9099/identitytoolkit.googleapis.com", p.toolkitURL)
	require.Equal(t, "http://127.0.0.1:9099/securetoken.googleapis.com", p.tokenURL)
	require.Nil(t, p.verifier)

	_, err = New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}

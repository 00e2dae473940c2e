package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
)

type factor struct {
	ID         string `json:"id"`
	FactorType string `json:"factor_type"`
	Status     string `json:"status"`
	Phone      string `json:"phone,omitempty"`
}

type user struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	AppMetadata      struct {
		Provider string `json:"provider"`
	} `json:"app_metadata"`
	Factors []factor `json:"factors"`
}

func (u *user) phoneFactor() *factor {
	for i := range u.Factors {
		f := &u.Factors[i]
		if f.FactorType == "phone" && f.Status == "verified" {
			return f
		}
	}
	return nil
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         user   `json:"user"`
}

type challengeResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ExpiresAt int64  `json:"expires_at"`
}

// errorBody covers both GoTrue error shapes.
type errorBody struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// call sends a JSON request to path under /auth/v1. bearer defaults to the
// anon key.
func (p *Provider) call(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer == "" {
		bearer = p.cfg.AnonKey
	}
	req.Header.Set("apikey", p.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return identity.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return identity.WrapError(identity.CodeInternalError, "malformed supabase response", err)
	}
	return nil
}

func parseError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	msg := body.Msg
	if msg == "" {
		msg = body.ErrorDescription
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	key := body.ErrorCode
	if key == "" {
		key = body.Error
	}
	if code, ok := errorCodes[key]; ok {
		return identity.NewError(code, msg)
	}

	switch {
	case strings.HasPrefix(key, "over_") && strings.HasSuffix(key, "_rate_limit"),
		resp.StatusCode == http.StatusTooManyRequests:
		return identity.NewError(identity.CodeTooManyRequests, msg)
	case strings.HasPrefix(key, "refresh_token_"):
		return identity.NewError(identity.CodeUserTokenExpired, msg)
	case key == "invalid_grant":
		// Older GoTrue releases report bad passwords this way.
		return identity.NewError(identity.CodeInvalidCredential, msg)
	}
	return identity.NewError(identity.CodeInternalError, msg)
}

var errorCodes = map[string]identity.Code{
	"invalid_credentials":          identity.CodeInvalidCredential,
	"email_not_confirmed":          identity.CodeInvalidCredential,
	"user_banned":                  identity.CodeInvalidCredential,
	"bad_code_verifier":            identity.CodeInvalidCredential,
	"flow_state_not_found":         identity.CodeInvalidCredential,
	"flow_state_expired":           identity.CodeInvalidCredential,
	"user_not_found":               identity.CodeUserNotFound,
	"weak_password":                identity.CodeWeakPassword,
	"email_address_invalid":        identity.CodeInvalidEmail,
	"validation_failed":            identity.CodeInvalidEmail,
	"mfa_verification_failed":      identity.CodeInvalidVerificationCode,
	"mfa_challenge_expired":        identity.CodeCodeExpired,
	"otp_expired":                  identity.CodeExpiredActionCode,
	"session_not_found":            identity.CodeUserTokenExpired,
	"session_expired":              identity.CodeUserTokenExpired,
	"provider_disabled":            identity.CodeOperationNotSupported,
	"sso_provider_not_found":       identity.CodeOperationNotSupported,
	"mfa_phone_verify_not_enabled": identity.CodeOperationNotSupported,
}

func (p *Provider) credential(sess *sessionResponse) (*identity.Credential, error) {
	if sess.AccessToken == "" {
		return nil, identity.NewError(identity.CodeInternalError, "supabase returned no access token")
	}
	claims, err := jwtx.ParseUnverified(sess.AccessToken)
	if err != nil {
		return nil, identity.WrapError(identity.CodeInternalError, "unreadable access token", err)
	}

	cred := &identity.Credential{
		User: identity.User{
			UID:           sess.User.ID,
			Email:         sess.User.Email,
			EmailVerified: sess.User.EmailConfirmedAt != nil,
			ProviderID:    sess.User.AppMetadata.Provider,
		},
		IDToken:      sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    claims.Expiry(),
	}
	if cred.User.UID == "" {
		cred.User.UID = claims.UserID()
	}
	if cred.User.Email == "" {
		cred.User.Email = claims.Email
	}
	if cred.ExpiresAt.IsZero() {
		switch {
		case sess.ExpiresAt > 0:
			cred.ExpiresAt = time.Unix(sess.ExpiresAt, 0)
		case sess.ExpiresIn > 0:
			cred.ExpiresAt = p.now().Add(time.Duration(sess.ExpiresIn) * time.Second)
		}
	}
	return cred, nil
}

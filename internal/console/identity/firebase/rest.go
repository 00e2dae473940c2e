package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
)

type mfaInfo struct {
	MFAEnrollmentID string `json:"mfaEnrollmentId"`
	DisplayName     string `json:"displayName,omitempty"`
	PhoneInfo       string `json:"phoneInfo,omitempty"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`

	MFAPendingCredential string    `json:"mfaPendingCredential"`
	MFAInfo              []mfaInfo `json:"mfaInfo"`
}

type mfaStartResponse struct {
	PhoneResponseInfo struct {
		SessionInfo string `json:"sessionInfo"`
	} `json:"phoneResponseInfo"`
}

type mfaFinalizeResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type oobResponse struct {
	Email       string `json:"email"`
	RequestType string `json:"requestType"`
}

type createAuthURIResponse struct {
	AuthURI   string `json:"authUri"`
	SessionID string `json:"sessionId"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// postToolkit calls an Identity Toolkit method with the API key.
func (p *Provider) postToolkit(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := p.toolkitURL + path + "?key=" + url.QueryEscape(p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(ctx, req, out)
}

// postToken exchanges a refresh token at the secure token service.
func (p *Provider) postToken(ctx context.Context, refreshToken string, out any) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	endpoint := p.tokenURL + "/v1/token?key=" + url.QueryEscape(p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(ctx, req, out)
}

func (p *Provider) do(ctx context.Context, req *http.Request, out any) error {
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
		return identity.WrapError(identity.CodeInternalError, "malformed identity toolkit response", err)
	}
	return nil
}

// parseError maps an Identity Toolkit error body. Messages look like
// "WEAK_PASSWORD : Password should be at least 6 characters".
func parseError(resp *http.Response) error {
	var env errorEnvelope
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env)

	key, detail, _ := strings.Cut(env.Error.Message, " : ")
	key = strings.TrimSpace(key)
	if detail == "" {
		detail = key
	}

	code, ok := errorCodes[key]
	if !ok {
		switch {
		case strings.HasPrefix(key, "TOO_MANY_ATTEMPTS"), resp.StatusCode == http.StatusTooManyRequests:
			code = identity.CodeTooManyRequests
		case strings.HasPrefix(key, "INVALID_MFA_PENDING_CREDENTIAL"), strings.HasPrefix(key, "MISSING_MFA_PENDING_CREDENTIAL"):
			code = identity.CodeCodeExpired
		default:
			code = identity.CodeInternalError
			if detail == "" {
				detail = http.StatusText(resp.StatusCode)
			}
		}
	}
	return identity.NewError(code, detail)
}

var errorCodes = map[string]identity.Code{
	"EMAIL_NOT_FOUND":             identity.CodeUserNotFound,
	"INVALID_PASSWORD":            identity.CodeInvalidCredential,
	"INVALID_LOGIN_CREDENTIALS":   identity.CodeInvalidCredential,
	"INVALID_IDP_RESPONSE":        identity.CodeInvalidCredential,
	"USER_DISABLED":               identity.CodeInvalidCredential,
	"TOO_MANY_ATTEMPTS_TRY_LATER": identity.CodeTooManyRequests,
	"WEAK_PASSWORD":               identity.CodeWeakPassword,
	"INVALID_EMAIL":               identity.CodeInvalidEmail,
	"MISSING_EMAIL":               identity.CodeInvalidEmail,
	"INVALID_CODE":                identity.CodeInvalidVerificationCode,
	"MISSING_CODE":                identity.CodeMissingVerificationCode,
	"SESSION_EXPIRED":             identity.CodeCodeExpired,
	"INVALID_OOB_CODE":            identity.CodeInvalidActionCode,
	"EXPIRED_OOB_CODE":            identity.CodeExpiredActionCode,
	"OPERATION_NOT_ALLOWED":       identity.CodeOperationNotSupported,
	"TOKEN_EXPIRED":               identity.CodeUserTokenExpired,
	"USER_NOT_FOUND":              identity.CodeUserTokenExpired,
	"INVALID_REFRESH_TOKEN":       identity.CodeUserTokenExpired,
	"INVALID_ID_TOKEN":            identity.CodeUserTokenExpired,
}

// credential builds an identity.Credential from token endpoint output. The
// token's own claims fill anything the response omits.
func (p *Provider) credential(ctx context.Context, idToken, refreshToken, expiresIn, uid, email string) (*identity.Credential, error) {
	if idToken == "" {
		return nil, identity.NewError(identity.CodeInternalError, "identity toolkit returned no id token")
	}
	if p.verifier != nil {
		if _, err := p.verifier.Verify(ctx, idToken); err != nil {
			return nil, identity.WrapError(identity.CodeInvalidCredential, "id token failed verification", err)
		}
	}
	claims, err := jwtx.ParseUnverified(idToken)
	if err != nil {
		return nil, identity.WrapError(identity.CodeInternalError, "unreadable id token", err)
	}

	cred := &identity.Credential{
		User: identity.User{
			UID:           uid,
			Email:         email,
			EmailVerified: claims.EmailVerified,
			ProviderID:    "password",
		},
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.Expiry(),
	}
	if cred.User.UID == "" {
		cred.User.UID = claims.UserID()
	}
	if cred.User.Email == "" {
		cred.User.Email = claims.Email
	}
	if claims.Firebase != nil && claims.Firebase.SignInProvider != "" {
		cred.User.ProviderID = claims.Firebase.SignInProvider
	}
	if cred.ExpiresAt.IsZero() && expiresIn != "" {
		if secs, err := strconv.Atoi(expiresIn); err == nil {
			cred.ExpiresAt = p.now().Add(time.Duration(secs) * time.Second)
		}
	}
	return cred, nil
}

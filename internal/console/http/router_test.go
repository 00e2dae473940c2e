package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	consolehttp "github.com/aussiebroadwan/vulntab/internal/console/http"
	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/identity/identitytest"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/internal/console/session"
	"github.com/aussiebroadwan/vulntab/internal/console/store/drivers/sqlite"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const (
	publicURL  = "http://127.0.0.1:5173"
	plainEmail = "user1@example.com"
	mfaEmail   = "mfa@example.com"
	password   = "secret keyword"
)

type memJar struct {
	mu    sync.Mutex
	token string
}

func (j *memJar) Load(context.Context) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.token == "" {
		return "", session.ErrNoCookie
	}
	return j.token, nil
}

func (j *memJar) Save(_ context.Context, token string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.token = token
	return nil
}

func (j *memJar) Clear(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.token = ""
	return nil
}

// newBackend answers GET /users/me for any bearer token carrying an email.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := jwtx.ParseUnverified(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil || r.URL.Path != "/users/me" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(apisdk.User{UserID: "u-1", UID: claims.Subject, Email: claims.Email})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	router   *consolehttp.Router
	provider *identitytest.Provider
	session  *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := identitytest.NewProvider()
	p.AddAccount(identitytest.Account{UID: "uid-1", Email: plainEmail, Password: password, EmailVerified: true})
	p.AddAccount(identitytest.Account{UID: "uid-2", Email: mfaEmail, Password: password, EmailVerified: true, Phone: "+61400000999"})

	db, err := sqlite.NewStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	sess := session.New(&memJar{}, slogx.Discard())
	t.Cleanup(sess.Bind(p))

	api := apisdk.NewSDKClient(newBackend(t).URL)
	returnTo := &service.ReturnTo{}
	bootstrap := &service.BootstrapService{
		Backend:  api,
		Provider: p,
		Session:  sess,
		ReturnTo: returnTo,
		Logger:   slogx.Discard(),
	}
	login := &service.LoginService{
		Provider:       p,
		Session:        sess,
		Bootstrap:      bootstrap,
		Clock:          service.SystemClock{},
		ResendCooldown: service.DefaultResendCooldown,
		ReadyTimeout:   2 * time.Second,
		Logger:         slogx.Discard(),
	}
	t.Cleanup(login.CancelTwoFactor)

	r := consolehttp.NewRouter("fake", "test", db, slogx.Discard())
	r.Session = sess
	r.API = api
	r.ReturnTo = returnTo
	r.LoginService = login
	r.ActionCodeService = &service.ActionCodeService{Provider: p, Codes: db.ActionCodes(), Logger: slogx.Discard()}
	r.PublicURL = publicURL
	r.ResetSettings = identity.ActionCodeSettings{URL: publicURL + "/login"}
	r.ApplyRoutes()

	return &fixture{router: r, provider: p, session: sess}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Host = "127.0.0.1:5173"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestLivez(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[consolehttp.HealthResponse](t, rec)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "fake", body.Identity)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[consolehttp.HealthResponse](t, rec).Checks.Store)
}

func TestRejectsNonLoopbackHost(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	req.Host = "attacker.example:5173"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPasswordLoginFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/auth/session", nil)
	require.Equal(t, consolehttp.SessionResponse{Identity: "fake"}, decode[consolehttp.SessionResponse](t, rec))

	rec = f.do(t, http.MethodGet, "/v1/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/auth/login", consolehttp.LoginRequest{Email: plainEmail, Password: password, ReturnTo: "/tickets?page=2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.LoginResult](t, rec)
	require.Equal(t, service.DecisionNavigate, res.Decision.Kind)
	require.Equal(t, service.Destination{Path: "/tickets", Search: "?page=2"}, res.Decision.Destination)

	rec = f.do(t, http.MethodGet, "/v1/auth/session", nil)
	require.Equal(t, consolehttp.SessionResponse{Ready: true, Authenticated: true, Identity: "fake"}, decode[consolehttp.SessionResponse](t, rec))

	rec = f.do(t, http.MethodGet, "/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, plainEmail, decode[apisdk.User](t, rec).Email)

	rec = f.do(t, http.MethodPost, "/v1/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, f.session.State().IdentitySessionReady)
}

func TestLoginErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", consolehttp.LoginRequest{Email: "not-an-email", Password: password})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[consolehttp.ErrorResponse](t, rec)
	require.Equal(t, "invalid_request", body.Error)
	require.Equal(t, "email", body.Field)

	rec = f.do(t, http.MethodPost, "/v1/auth/login", consolehttp.LoginRequest{Email: plainEmail, Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body = decode[consolehttp.ErrorResponse](t, rec)
	require.Equal(t, string(identity.CodeInvalidCredential), body.Code)
	require.Equal(t, "The email address or password is incorrect.", body.ErrorDescription)

	rec = f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{"email": plainEmail, "admin": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwoFactorFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/auth/two-factor", nil)
	require.Equal(t, service.StatePasswordEntry, decode[service.TwoFactorSnapshot](t, rec).State)

	rec = f.do(t, http.MethodPost, "/v1/auth/login", consolehttp.LoginRequest{Email: mfaEmail, Password: password})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.LoginResult](t, rec)
	require.Nil(t, res.Decision)
	require.Equal(t, service.StateChallengeIssued, res.TwoFactor.State)
	require.False(t, decode[consolehttp.SessionResponse](t, f.do(t, http.MethodGet, "/v1/auth/session", nil)).Authenticated)

	rec = f.do(t, http.MethodPost, "/v1/auth/two-factor/resend", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/auth/two-factor/verify", consolehttp.VerifyCodeRequest{Code: "12"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[consolehttp.ErrorResponse](t, rec)
	require.Equal(t, "code", body.Field)
	require.NotNil(t, body.TwoFactor)
	require.Equal(t, 0, f.provider.Calls("verifySecondFactor"))

	rec = f.do(t, http.MethodPost, "/v1/auth/two-factor/verify", consolehttp.VerifyCodeRequest{Code: f.provider.LastSMSCode()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, service.DecisionNavigate, decode[service.LoginResult](t, rec).Decision.Kind)

	rec = f.do(t, http.MethodPost, "/v1/auth/two-factor/verify", consolehttp.VerifyCodeRequest{Code: "123456"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTwoFactorCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/auth/login", consolehttp.LoginRequest{Email: mfaEmail, Password: password})

	rec := f.do(t, http.MethodDelete, "/v1/auth/two-factor", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/auth/two-factor", nil)
	require.Equal(t, service.StatePasswordEntry, decode[service.TwoFactorSnapshot](t, rec).State)
}

func TestFederatedRedirectAndCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.SetFederatedAccount(identitytest.Account{UID: "uid-sso", Email: "sso@example.com", EmailVerified: true})

	rec := f.do(t, http.MethodPost, "/v1/auth/federated", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	authURL := decode[consolehttp.FederatedResponse](t, rec).AuthURL
	require.True(t, strings.HasPrefix(authURL, publicURL+"/auth/callback?"), authURL)

	rec = f.do(t, http.MethodGet, strings.TrimPrefix(authURL, publicURL), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, service.DecisionNavigate, decode[service.LoginResult](t, rec).Decision.Kind)
	require.True(t, f.session.State().IdentitySessionReady)
}

func TestPasswordResetAndActionLink(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/password-reset", consolehttp.PasswordResetRequest{Email: "nobody@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/auth/password-reset", consolehttp.PasswordResetRequest{Email: plainEmail})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, service.MsgPasswordResetSent, decode[consolehttp.MessageResponse](t, rec).Message)

	emails := f.provider.Emails()
	require.Len(t, emails, 1)
	link := "/auth/action?mode=resetPassword&oobCode=" + emails[0].Code

	rec = f.do(t, http.MethodGet, link, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[service.ActionView](t, rec)
	require.Equal(t, plainEmail, view.Email)
	require.False(t, view.Disabled)

	rec = f.do(t, http.MethodPost, link, consolehttp.ActionSubmitRequest{NewPassword: "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "password", decode[consolehttp.ErrorResponse](t, rec).Field)

	rec = f.do(t, http.MethodPost, link, consolehttp.ActionSubmitRequest{NewPassword: "correct horse battery"})
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[service.ActionView](t, rec)
	require.True(t, view.Succeeded)
	require.True(t, view.Disabled)

	rec = f.do(t, http.MethodPost, link, consolehttp.ActionSubmitRequest{NewPassword: "correct horse battery"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/action?mode=bogus", nil)
	require.Equal(t, service.MsgInvalidRequest, decode[service.ActionView](t, rec).Message)
}

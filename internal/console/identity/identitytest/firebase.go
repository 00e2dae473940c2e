package identitytest

import (
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Firebase fakes the Identity Toolkit and Secure Token REST APIs. Point
// both base URLs of the firebase adapter at URL.
type Firebase struct {
	*httptest.Server

	ProjectID string
	TokenTTL  time.Duration

	key *rsa.PrivateKey
	sms smsSender

	mu           sync.Mutex
	now          func() time.Time
	accounts     map[string]*Account
	federated    *Account
	pending      map[string]string
	sessions     map[string]fbSMSSession
	oob          map[string]fbOOB
	refresh      map[string]string
	authSessions map[string]string
	emails       []Email
	calls        map[string]int
}

type fbSMSSession struct {
	pending string
	code    string
}

type fbOOB struct {
	email string
	kind  string
}

func NewFirebase(t testing.TB) *Firebase {
	t.Helper()
	f := &Firebase{
		ProjectID:    "vulntab-test",
		TokenTTL:     time.Hour,
		key:          mustKey(),
		now:          time.Now,
		accounts:     make(map[string]*Account),
		pending:      make(map[string]string),
		sessions:     make(map[string]fbSMSSession),
		oob:          make(map[string]fbOOB),
		refresh:      make(map[string]string),
		authSessions: make(map[string]string),
		calls:        make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Issuer is the iss claim of minted tokens.
func (f *Firebase) Issuer() string { return "https://securetoken.google.com/" + f.ProjectID }

// Verifier checks tokens minted by this fake.
func (f *Firebase) Verifier() *oidc.IDTokenVerifier {
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
	return oidc.NewVerifier(f.Issuer(), keys, &oidc.Config{ClientID: f.ProjectID})
}

func (f *Firebase) SetNow(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *Firebase) AddAccount(a Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := a
	f.accounts[a.Email] = &acct
}

// SetFederatedAccount is the user the fake IdP signs in.
func (f *Firebase) SetFederatedAccount(a Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := a
	f.federated = &acct
	f.accounts[a.Email] = &acct
}

func (f *Firebase) Account(email string) (Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[email]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// LastSMSCode returns the most recently sent SMS code.
func (f *Firebase) LastSMSCode() string { return f.sms.lastCode() }

func (f *Firebase) SMSCount() int { return f.sms.count() }

func (f *Firebase) Emails() []Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Email(nil), f.emails...)
}

// IssueActionCode creates an out-of-band code as if it had been emailed.
// kind is PASSWORD_RESET, VERIFY_EMAIL or RECOVER_EMAIL.
func (f *Firebase) IssueActionCode(email, kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueOOB(email, kind, "")
}

// Calls reports how many times path was requested.
func (f *Firebase) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *Firebase) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++

	if r.URL.Path == "/idp/authorize" {
		f.idpAuthorize(w, r)
		return
	}
	if r.URL.Path == "/v1/token" {
		f.token(w, r)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fbError(w, "INVALID_JSON")
		return
	}
	str := func(k string) string { s, _ := body[k].(string); return s }

	switch r.URL.Path {
	case "/v1/accounts:signInWithPassword":
		acct, ok := f.accounts[str("email")]
		switch {
		case !ok:
			fbError(w, "EMAIL_NOT_FOUND")
		case acct.Password != str("password"):
			fbError(w, "INVALID_PASSWORD")
		case acct.Disabled:
			fbError(w, "USER_DISABLED")
		default:
			f.signedIn(w, acct, "password")
		}

	case "/v2/accounts/mfaSignIn:start":
		pending := str("mfaPendingCredential")
		if _, ok := f.pending[pending]; !ok {
			fbError(w, "INVALID_MFA_PENDING_CREDENTIAL")
			return
		}
		for id, s := range f.sessions {
			if s.pending == pending {
				delete(f.sessions, id)
			}
		}
		sessionInfo := randomToken()
		f.sessions[sessionInfo] = fbSMSSession{pending: pending, code: f.sms.send()}
		writeJSON(w, http.StatusOK, map[string]any{
			"phoneResponseInfo": map[string]any{"sessionInfo": sessionInfo},
		})

	case "/v2/accounts/mfaSignIn:finalize":
		pending := str("mfaPendingCredential")
		email, ok := f.pending[pending]
		if !ok {
			fbError(w, "INVALID_MFA_PENDING_CREDENTIAL")
			return
		}
		info, _ := body["phoneVerificationInfo"].(map[string]any)
		sessionInfo, _ := info["sessionInfo"].(string)
		code, _ := info["code"].(string)
		sess, ok := f.sessions[sessionInfo]
		switch {
		case !ok || sess.pending != pending:
			fbError(w, "SESSION_EXPIRED")
		case code == "":
			fbError(w, "MISSING_CODE")
		case code != sess.code:
			fbError(w, "INVALID_CODE")
		default:
			delete(f.sessions, sessionInfo)
			delete(f.pending, pending)
			tokens := f.mint(f.accounts[email], "password", "phone")
			writeJSON(w, http.StatusOK, map[string]any{
				"idToken":      tokens["idToken"],
				"refreshToken": tokens["refreshToken"],
			})
		}

	case "/v1/accounts:sendOobCode":
		var email string
		switch str("requestType") {
		case "PASSWORD_RESET":
			email = str("email")
			if _, ok := f.accounts[email]; !ok {
				fbError(w, "EMAIL_NOT_FOUND")
				return
			}
		case "VERIFY_EMAIL":
			claims, err := jwtx.ParseUnverified(str("idToken"))
			if err != nil {
				fbError(w, "INVALID_ID_TOKEN")
				return
			}
			email = claims.Email
		default:
			fbError(w, "INVALID_REQ_TYPE")
			return
		}
		f.issueOOB(email, str("requestType"), str("continueUrl"))
		writeJSON(w, http.StatusOK, map[string]any{"email": email})

	case "/v1/accounts:resetPassword":
		code := str("oobCode")
		oob, ok := f.oob[code]
		if !ok || oob.kind != "PASSWORD_RESET" {
			fbError(w, "INVALID_OOB_CODE")
			return
		}
		pw := str("newPassword")
		if pw == "" {
			writeJSON(w, http.StatusOK, map[string]any{"email": oob.email, "requestType": oob.kind})
			return
		}
		if len(pw) < 6 {
			fbError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
			return
		}
		f.accounts[oob.email].Password = pw
		delete(f.oob, code)
		writeJSON(w, http.StatusOK, map[string]any{"email": oob.email, "requestType": oob.kind})

	case "/v1/accounts:update":
		code := str("oobCode")
		oob, ok := f.oob[code]
		if !ok || oob.kind == "PASSWORD_RESET" {
			fbError(w, "INVALID_OOB_CODE")
			return
		}
		if acct, ok := f.accounts[oob.email]; ok {
			acct.EmailVerified = true
		}
		delete(f.oob, code)
		writeJSON(w, http.StatusOK, map[string]any{"email": oob.email})

	case "/v1/accounts:createAuthUri":
		sessionID := str("sessionId")
		f.authSessions[sessionID] = str("continueUri")
		writeJSON(w, http.StatusOK, map[string]any{
			"authUri":   f.URL + "/idp/authorize?session=" + url.QueryEscape(sessionID),
			"sessionId": sessionID,
		})

	case "/v1/accounts:signInWithIdp":
		continueURI, ok := f.authSessions[str("sessionId")]
		delete(f.authSessions, str("sessionId"))
		requestURI := str("requestUri")
		base, _, _ := strings.Cut(continueURI, "?")
		if !ok || f.federated == nil || !strings.HasPrefix(requestURI, base) || !strings.Contains(requestURI, "idp_response=ok") {
			fbError(w, "INVALID_IDP_RESPONSE")
			return
		}
		f.signedIn(w, f.accounts[f.federated.Email], "saml.corp")

	default:
		http.NotFound(w, r)
	}
}

func (f *Firebase) signedIn(w http.ResponseWriter, acct *Account, provider string) {
	if acct.Phone != "" {
		pending := randomToken()
		f.pending[pending] = acct.Email
		writeJSON(w, http.StatusOK, map[string]any{
			"mfaPendingCredential": pending,
			"mfaInfo": []map[string]any{{
				"mfaEnrollmentId": "phone-" + acct.UID,
				"phoneInfo":       maskPhone(acct.Phone),
			}},
		})
		return
	}
	writeJSON(w, http.StatusOK, f.mint(acct, provider, ""))
}

// idpAuthorize plays the external identity provider: it redirects straight
// back to the continue URI.
func (f *Firebase) idpAuthorize(w http.ResponseWriter, r *http.Request) {
	continueURI, ok := f.authSessions[r.URL.Query().Get("session")]
	if !ok {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(continueURI)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("idp_response", "ok")
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (f *Firebase) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		fbError(w, "INVALID_GRANT_TYPE")
		return
	}
	old := r.PostForm.Get("refresh_token")
	email, ok := f.refresh[old]
	if !ok {
		fbError(w, "INVALID_REFRESH_TOKEN")
		return
	}
	acct, ok := f.accounts[email]
	if !ok {
		fbError(w, "USER_NOT_FOUND")
		return
	}
	delete(f.refresh, old)
	tokens := f.mint(acct, "password", "")
	writeJSON(w, http.StatusOK, map[string]any{
		"id_token":      tokens["idToken"],
		"refresh_token": tokens["refreshToken"],
		"expires_in":    tokens["expiresIn"],
		"user_id":       acct.UID,
	})
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (f *Firebase) RevokeRefreshTokens() {
	f.mu.Lock()
	clear(f.refresh)
	f.mu.Unlock()
}

// mint must be called with mu held.
func (f *Firebase) mint(acct *Account, provider, secondFactor string) map[string]any {
	now := f.now()
	claims := jwtx.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    f.Issuer(),
			Audience:  jwt.ClaimStrings{f.ProjectID},
			Subject:   acct.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.TokenTTL)),
		},
		Email:         acct.Email,
		EmailVerified: acct.EmailVerified,
		Firebase: &jwtx.FirebaseInfo{
			SignInProvider:     provider,
			SignInSecondFactor: secondFactor,
		},
	}
	idToken, err := jwtx.SignRS256("fake-firebase", f.key, claims)
	if err != nil {
		panic(err)
	}
	refresh := randomToken()
	f.refresh[refresh] = acct.Email
	return map[string]any{
		"localId":      acct.UID,
		"email":        acct.Email,
		"idToken":      idToken,
		"refreshToken": refresh,
		"expiresIn":    strconv.Itoa(int(f.TokenTTL / time.Second)),
	}
}

// issueOOB must be called with mu held.
func (f *Firebase) issueOOB(email, kind, continueURL string) string {
	code := randomToken()
	f.oob[code] = fbOOB{email: email, kind: kind}
	f.emails = append(f.emails, Email{To: email, Kind: kind, Code: code, URL: continueURL})
	return code
}

func fbError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"code": http.StatusBadRequest, "message": message},
	})
}

func randomToken() string {
	tok, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		panic(err)
	}
	return tok
}

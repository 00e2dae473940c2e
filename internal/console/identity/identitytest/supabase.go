package identitytest

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Supabase fakes the Supabase Auth (GoTrue) REST API under /auth/v1.
type Supabase struct {
	*httptest.Server

	AnonKey  string
	TokenTTL time.Duration

	key *rsa.PrivateKey
	sms smsSender

	mu         sync.Mutex
	now        func() time.Time
	accounts   map[string]*Account
	federated  *Account
	refresh    map[string]sbRefresh
	challenges map[string]sbChallenge
	flows      map[string]sbFlow
	tokens     map[string]fbOOB
	emails     []Email
	logouts    int
	calls      map[string]int
}

type sbRefresh struct {
	email string
	aal   string
}

type sbChallenge struct {
	factorID string
	code     string
}

type sbFlow struct {
	email      string
	challenge  string
	redirectTo string
}

func NewSupabase(t testing.TB) *Supabase {
	t.Helper()
	s := &Supabase{
		AnonKey:    "anon-test-key",
		TokenTTL:   time.Hour,
		key:        mustKey(),
		now:        time.Now,
		accounts:   make(map[string]*Account),
		refresh:    make(map[string]sbRefresh),
		challenges: make(map[string]sbChallenge),
		flows:      make(map[string]sbFlow),
		tokens:     make(map[string]fbOOB),
		calls:      make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Supabase) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := a
	s.accounts[a.Email] = &acct
}

// SetFederatedAccount is the user the fake OAuth and SSO providers sign in.
func (s *Supabase) SetFederatedAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := a
	s.federated = &acct
	s.accounts[a.Email] = &acct
}

func (s *Supabase) Account(email string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

func (s *Supabase) LastSMSCode() string { return s.sms.lastCode() }

func (s *Supabase) SMSCount() int { return s.sms.count() }

func (s *Supabase) Emails() []Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Email(nil), s.emails...)
}

// IssueActionCode creates a token hash as if it had been emailed. kind is
// recovery, signup or email.
func (s *Supabase) IssueActionCode(email, kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueToken(email, kind, "")
}

func (s *Supabase) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func (s *Supabase) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Supabase) RevokeRefreshTokens() {
	s.mu.Lock()
	clear(s.refresh)
	s.mu.Unlock()
}

func (s *Supabase) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/auth/v1")
	s.calls[path]++

	// Browser-facing redirects carry no api key.
	switch path {
	case "/authorize":
		s.authorize(w, r)
		return
	case "/sso/redirect":
		s.ssoRedirect(w, r)
		return
	}

	if r.Header.Get("apikey") != s.AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}

	var body map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			sbError(w, http.StatusBadRequest, "bad_json", "could not parse request body")
			return
		}
	}
	str := func(k string) string { v, _ := body[k].(string); return v }

	switch {
	case path == "/token":
		s.token(w, r.URL.Query().Get("grant_type"), str)

	case strings.HasPrefix(path, "/factors/") && strings.HasSuffix(path, "/challenge"):
		factorID := strings.TrimSuffix(strings.TrimPrefix(path, "/factors/"), "/challenge")
		acct, _, ok := s.bearer(r)
		if !ok || "factor-"+acct.UID != factorID {
			sbError(w, http.StatusNotFound, "mfa_factor_not_found", "factor not found")
			return
		}
		for id, c := range s.challenges {
			if c.factorID == factorID {
				delete(s.challenges, id)
			}
		}
		id := randomToken()
		s.challenges[id] = sbChallenge{factorID: factorID, code: s.sms.send()}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         id,
			"type":       "phone",
			"expires_at": s.now().Add(5 * time.Minute).Unix(),
		})

	case strings.HasPrefix(path, "/factors/") && strings.HasSuffix(path, "/verify"):
		factorID := strings.TrimSuffix(strings.TrimPrefix(path, "/factors/"), "/verify")
		acct, _, ok := s.bearer(r)
		if !ok {
			sbError(w, http.StatusUnauthorized, "bad_jwt", "invalid token")
			return
		}
		c, ok := s.challenges[str("challenge_id")]
		switch {
		case !ok || c.factorID != factorID:
			sbError(w, http.StatusBadRequest, "mfa_challenge_expired", "challenge expired")
		case c.code != str("code"):
			sbError(w, http.StatusUnprocessableEntity, "mfa_verification_failed", "invalid code")
		default:
			delete(s.challenges, str("challenge_id"))
			writeJSON(w, http.StatusOK, s.session(acct, jwtx.AAL2))
		}

	case path == "/logout":
		if _, _, ok := s.bearer(r); !ok {
			sbError(w, http.StatusUnauthorized, "session_not_found", "session not found")
			return
		}
		s.logouts++
		w.WriteHeader(http.StatusNoContent)

	case path == "/recover":
		if _, ok := s.accounts[str("email")]; ok {
			s.issueToken(str("email"), "recovery", r.URL.Query().Get("redirect_to"))
		}
		writeJSON(w, http.StatusOK, map[string]any{})

	case path == "/verify":
		hash := str("token_hash")
		tok, ok := s.tokens[hash]
		kind := str("type")
		if !ok || (tok.kind != kind && !(kind == "email" && tok.kind == "signup")) {
			sbError(w, http.StatusForbidden, "otp_expired", "Email link is invalid or has expired")
			return
		}
		delete(s.tokens, hash)
		acct := s.accounts[tok.email]
		if kind != "recovery" {
			acct.EmailVerified = true
		}
		writeJSON(w, http.StatusOK, s.session(acct, jwtx.AAL1))

	case path == "/user" && r.Method == http.MethodPut:
		acct, _, ok := s.bearer(r)
		if !ok {
			sbError(w, http.StatusUnauthorized, "bad_jwt", "invalid token")
			return
		}
		if pw := str("password"); len(pw) < 6 {
			sbError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
			return
		}
		acct.Password = str("password")
		writeJSON(w, http.StatusOK, s.userJSON(acct))

	case path == "/resend":
		s.issueToken(str("email"), str("type"), "")
		writeJSON(w, http.StatusOK, map[string]any{})

	case path == "/sso":
		if s.federated == nil || str("provider_id") == "" {
			sbError(w, http.StatusNotFound, "sso_provider_not_found", "no such provider")
			return
		}
		code := randomToken()
		s.flows[code] = sbFlow{email: s.federated.Email, challenge: str("code_challenge"), redirectTo: str("redirect_to")}
		writeJSON(w, http.StatusOK, map[string]any{"url": s.URL + "/auth/v1/sso/redirect?code=" + code})

	default:
		http.NotFound(w, r)
	}
}

func (s *Supabase) token(w http.ResponseWriter, grant string, str func(string) string) {
	switch grant {
	case "password":
		acct, ok := s.accounts[str("email")]
		switch {
		case !ok || acct.Password != str("password"):
			sbError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
		case acct.Disabled:
			sbError(w, http.StatusBadRequest, "user_banned", "User is banned")
		default:
			writeJSON(w, http.StatusOK, s.session(acct, jwtx.AAL1))
		}

	case "refresh_token":
		rt, ok := s.refresh[str("refresh_token")]
		if !ok {
			sbError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token")
			return
		}
		delete(s.refresh, str("refresh_token"))
		writeJSON(w, http.StatusOK, s.session(s.accounts[rt.email], rt.aal))

	case "pkce":
		flow, ok := s.flows[str("auth_code")]
		if !ok {
			sbError(w, http.StatusNotFound, "flow_state_not_found", "invalid flow state")
			return
		}
		delete(s.flows, str("auth_code"))
		if oauth2.S256ChallengeFromVerifier(str("code_verifier")) != flow.challenge {
			sbError(w, http.StatusBadRequest, "bad_code_verifier", "code challenge does not match")
			return
		}
		writeJSON(w, http.StatusOK, s.session(s.accounts[flow.email], jwtx.AAL1))

	default:
		sbError(w, http.StatusBadRequest, "unsupported_grant_type", grant)
	}
}

// authorize plays the OAuth provider and bounces straight back.
func (s *Supabase) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("provider") != "keycloak" || s.federated == nil {
		sbError(w, http.StatusBadRequest, "provider_disabled", "Unsupported provider")
		return
	}
	if q.Get("code_challenge_method") == "" || q.Get("code_challenge") == "" {
		sbError(w, http.StatusBadRequest, "validation_failed", "PKCE required")
		return
	}
	code := randomToken()
	s.flows[code] = sbFlow{email: s.federated.Email, challenge: q.Get("code_challenge"), redirectTo: q.Get("redirect_to")}
	s.redirectWithCode(w, r, code)
}

func (s *Supabase) ssoRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if _, ok := s.flows[code]; !ok {
		http.Error(w, "unknown flow", http.StatusBadRequest)
		return
	}
	s.redirectWithCode(w, r, code)
}

func (s *Supabase) redirectWithCode(w http.ResponseWriter, r *http.Request, code string) {
	u, err := url.Parse(s.flows[code].redirectTo)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// bearer must be called with mu held.
func (s *Supabase) bearer(r *http.Request) (*Account, *jwtx.IdentityClaims, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, nil, false
	}
	claims := &jwtx.IdentityClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, nil, false
	}
	acct, ok := s.accounts[claims.Email]
	return acct, claims, ok
}

// session must be called with mu held.
func (s *Supabase) session(acct *Account, aal string) map[string]any {
	now := s.now()
	exp := now.Add(s.TokenTTL)
	claims := jwtx.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.URL + "/auth/v1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			Subject:   acct.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:     acct.Email,
		AAL:       aal,
		SessionID: randomToken(),
	}
	access, err := jwtx.SignRS256("fake-supabase", s.key, claims)
	if err != nil {
		panic(err)
	}
	rt := randomToken()
	s.refresh[rt] = sbRefresh{email: acct.Email, aal: aal}
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int(s.TokenTTL / time.Second),
		"expires_at":    exp.Unix(),
		"refresh_token": rt,
		"user":          s.userJSON(acct),
	}
}

func (s *Supabase) userJSON(acct *Account) map[string]any {
	u := map[string]any{
		"id":           acct.UID,
		"email":        acct.Email,
		"app_metadata": map[string]any{"provider": "email"},
	}
	if acct == s.federated {
		u["app_metadata"] = map[string]any{"provider": "keycloak"}
	}
	if acct.EmailVerified {
		u["email_confirmed_at"] = s.now().UTC().Format(time.RFC3339)
	}
	if acct.Phone != "" {
		u["factors"] = []map[string]any{{
			"id":          "factor-" + acct.UID,
			"factor_type": "phone",
			"status":      "verified",
			"phone":       acct.Phone,
		}}
	}
	return u
}

// issueToken must be called with mu held.
func (s *Supabase) issueToken(email, kind, redirectTo string) string {
	hash := randomToken()
	s.tokens[hash] = fbOOB{email: email, kind: kind}
	s.emails = append(s.emails, Email{To: email, Kind: kind, Code: hash, URL: redirectTo})
	return hash
}

func sbError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}

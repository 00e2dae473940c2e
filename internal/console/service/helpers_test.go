package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

// manualClock hands out tickers that only fire on Tick.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(time.Duration) service.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick advances one second and delivers a tick to every live ticker.
func (c *manualClock) Tick() {
	c.mu.Lock()
	c.now = c.now.Add(time.Second)
	now := c.now
	live := make([]*manualTicker, 0, len(c.tickers))
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			live = append(live, t)
		}
	}
	c.mu.Unlock()

	for _, t := range live {
		select {
		case t.c <- now:
		case <-time.After(time.Second):
		}
	}
}

func (c *manualClock) TickN(n int) {
	for range n {
		c.Tick()
	}
}

// liveTickers counts tickers that have not been stopped.
func (c *manualClock) liveTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

const (
	plainEmail = "user1@example.com"
	mfaEmail   = "mfa@example.com"
	password   = "secret keyword"
)

func newProvider(t *testing.T) *identitytest.Provider {
	t.Helper()
	p := identitytest.NewProvider()
	p.AddAccount(identitytest.Account{UID: "uid-1", Email: plainEmail, Password: password, EmailVerified: true})
	p.AddAccount(identitytest.Account{UID: "uid-2", Email: mfaEmail, Password: password, EmailVerified: true, Phone: "+61400000999"})
	return p
}

// fakeBackend answers the application backend's user endpoints. Verdicts
// are keyed by the email claim of the bearer token.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	verdicts map[string]string
	gets     int
	creates  int
}

const (
	verdictOK         = "ok"
	verdictUnverified = "unverified"
	verdictNoSuchUser = "no-such-user"
	verdictReject     = "reject"
)

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{verdicts: make(map[string]string)}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) set(email, verdict string) {
	b.mu.Lock()
	b.verdicts[email] = verdict
	b.mu.Unlock()
}

func (b *fakeBackend) counts() (gets, creates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets, b.creates
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	email := ""
	if claims, err := jwtx.ParseUnverified(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")); err == nil {
		email = claims.Email
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	verdict, ok := b.verdicts[email]
	if !ok {
		verdict = verdictOK
	}

	detail := func(code int, msg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/users/me":
		b.gets++
		switch verdict {
		case verdictOK:
			_ = json.NewEncoder(w).Encode(apisdk.User{UserID: "u-" + email, Email: email})
		case verdictUnverified:
			detail(http.StatusBadRequest, "Email is not verified. Try logging in on UI and verify email.")
		case verdictNoSuchUser:
			detail(http.StatusBadRequest, "No such user")
		default:
			detail(http.StatusUnauthorized, "Could not validate credentials")
		}
	case r.Method == http.MethodPost && r.URL.Path == "/users":
		b.creates++
		b.verdicts[email] = verdictOK
		_ = json.NewEncoder(w).Encode(apisdk.User{UserID: "u-" + email, Email: email})
	default:
		detail(http.StatusNotFound, "Not Found")
	}
}

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

// harness wires a fake identity provider, a bound session, a fake backend
// and the services the way the app does.
type harness struct {
	provider  *identitytest.Provider
	backend   *fakeBackend
	session   *session.Session
	jar       *memJar
	returnTo  *service.ReturnTo
	bootstrap *service.BootstrapService
	login     *service.LoginService
	clock     *manualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: newProvider(t),
		backend:  newFakeBackend(t),
		jar:      &memJar{},
		returnTo: &service.ReturnTo{},
		clock:    newManualClock(),
	}
	h.session = session.New(h.jar, slogx.Discard())
	t.Cleanup(h.session.Bind(h.provider))

	h.bootstrap = &service.BootstrapService{
		Backend:        apisdk.NewSDKClient(h.backend.URL),
		Provider:       h.provider,
		Session:        h.session,
		ReturnTo:       h.returnTo,
		Logger:         slogx.Discard(),
		VerifySettings: identity.ActionCodeSettings{URL: "http://127.0.0.1:5173/auth/action"},
	}
	h.login = &service.LoginService{
		Provider:       h.provider,
		Session:        h.session,
		Bootstrap:      h.bootstrap,
		Clock:          h.clock,
		ResendCooldown: 30 * time.Second,
		ReadyTimeout:   2 * time.Second,
		Logger:         slogx.Discard(),
	}
	t.Cleanup(h.login.CancelTwoFactor)
	return h
}

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	db, err := sqlite.NewStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())
	return db
}

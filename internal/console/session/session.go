// Package session holds the console's single auth session: the bearer token
// and whether the identity backend has confirmed it.
//
// Session is written from exactly two places. The auth-state listener
// installed by Bind records sign-ins, refreshes and sign-outs announced by
// the identity provider, and SignOut handles the explicit sign-out path.
// Everything else reads State or waits on WaitReady.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
)

// jarTimeout bounds cookie writes made from listener callbacks, which have
// no caller context.
const jarTimeout = 5 * time.Second

// State is a read-only view of the session.
type State struct {
	BearerToken          string
	IdentitySessionReady bool
}

// Session is the process-wide auth session.
type Session struct {
	jar    TokenJar
	logger *slog.Logger

	mu       sync.Mutex
	token    string
	ready    bool
	readyCh  chan struct{}
	epoch    uint64
	provider identity.Provider
	unbind   func()
}

func New(jar TokenJar, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		jar:     jar,
		logger:  logger,
		readyCh: make(chan struct{}),
	}
}

// State returns the current token and readiness.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{BearerToken: s.token, IdentitySessionReady: s.ready}
}

// Provisional returns a token recovered from the cookie that the identity
// backend has not confirmed yet.
func (s *Session) Provisional() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready || s.token == "" {
		return "", false
	}
	return s.token, true
}

// Restore reads the persisted cookie once and installs its token as a
// provisional session. Readiness stays false.
func (s *Session) Restore(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	tok, err := s.jar.Load(ctx)
	if errors.Is(err, ErrNoCookie) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A sign-out or a confirmed session got there first.
	if epoch != s.epoch || s.ready {
		return nil
	}
	s.token = tok
	s.logger.Debug("provisional session recovered from cookie")
	return nil
}

// Bind registers the session's listener pair with p. Binding again replaces
// the previous registration. The returned function unregisters it.
func (s *Session) Bind(p identity.Provider) (unbind func()) {
	s.mu.Lock()
	prev := s.unbind
	s.unbind = nil
	s.mu.Unlock()
	if prev != nil {
		prev()
	}

	s.mu.Lock()
	s.provider = p
	s.mu.Unlock()

	// Subscribe may fire SignedIn synchronously, so no lock is held here.
	release := sync.OnceFunc(p.OnAuthStateChanged(identity.StateCallbacks{
		SignedIn:       s.signedIn,
		SignedOut:      s.signedOut,
		TokenRefreshed: s.refreshed,
	}))

	s.mu.Lock()
	s.unbind = release
	s.mu.Unlock()
	return release
}

// Close unregisters the listener.
func (s *Session) Close() {
	s.mu.Lock()
	release := s.unbind
	s.unbind = nil
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

func (s *Session) signedIn(c identity.Credential) {
	s.mu.Lock()
	s.token = c.IDToken
	if !s.ready {
		s.ready = true
		close(s.readyCh)
	}
	s.mu.Unlock()

	s.logger.Info("identity session ready", "uid", c.User.UID)
	s.persist(c.IDToken)
}

func (s *Session) refreshed(c identity.Credential) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return
	}
	s.token = c.IDToken
	s.mu.Unlock()

	s.persist(c.IDToken)
}

func (s *Session) signedOut() {
	s.clear()
	s.logger.Info("identity session ended")
}

func (s *Session) clear() {
	s.mu.Lock()
	s.epoch++
	s.token = ""
	if s.ready {
		s.ready = false
		s.readyCh = make(chan struct{})
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), jarTimeout)
	defer cancel()
	if err := s.jar.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear bearer cookie", "error", err)
	}
}

func (s *Session) persist(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), jarTimeout)
	defer cancel()
	if err := s.jar.Save(ctx, token); err != nil {
		s.logger.Warn("failed to persist bearer cookie", "error", err)
	}
}

// SignOut ends the session with p and clears local state. Safe to call
// without a session.
func (s *Session) SignOut(ctx context.Context, p identity.Provider) error {
	var err error
	if p != nil {
		err = p.SignOut(ctx)
	}
	// The listener has already cleared a confirmed session; this covers a
	// provisional token nobody announced.
	s.clear()
	return err
}

// WaitReady blocks until the identity backend has confirmed a session and
// returns its token.
func (s *Session) WaitReady(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.ready {
			tok := s.token
			s.mu.Unlock()
			return tok, nil
		}
		ch := s.readyCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Token waits for readiness, then asks the bound provider for a current
// token so near-expiry tokens are refreshed. It satisfies
// apisdk.TokenSource.
func (s *Session) Token(ctx context.Context) (string, error) {
	tok, err := s.WaitReady(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	p := s.provider
	s.mu.Unlock()
	if p == nil {
		return tok, nil
	}
	return p.CurrentToken(ctx)
}

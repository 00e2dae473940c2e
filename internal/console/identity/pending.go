package identity

import (
	"net/url"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
)

// StateParam is the query parameter carrying the federated sign-in state
// through the identity provider and back to the loopback callback.
const StateParam = "vt_state"

// FederatedResult is what a popup waiter receives.
type FederatedResult struct {
	Credential *Credential
	Err        error
}

// PendingRedirect is an in-flight federated sign-in.
type PendingRedirect struct {
	State string
	// Secret is the backend's correlation value (session id or PKCE
	// verifier).
	Secret     string
	ProviderID string
	CreatedAt  time.Time

	done chan FederatedResult
}

// Deliver hands res to a popup waiter. Redirect-mode entries have no waiter
// and the call is a no-op.
func (p PendingRedirect) Deliver(res FederatedResult) {
	if p.done == nil {
		return
	}
	select {
	case p.done <- res:
	default:
	}
}

// PendingRedirects correlates federated sign-in callbacks with the request
// that started them. Entries are single use and expire after ttl.
type PendingRedirects struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]PendingRedirect
}

func NewPendingRedirects(ttl time.Duration, now func() time.Time) *PendingRedirects {
	if now == nil {
		now = time.Now
	}
	return &PendingRedirects{ttl: ttl, now: now, entries: make(map[string]PendingRedirect)}
}

// Begin records a new sign-in and returns its state. When popup is true the
// returned channel receives the outcome.
func (p *PendingRedirects) Begin(secret, providerID string, popup bool) (string, <-chan FederatedResult, error) {
	state, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", nil, err
	}

	entry := PendingRedirect{
		State:      state,
		Secret:     secret,
		ProviderID: providerID,
		CreatedAt:  p.now(),
	}
	if popup {
		entry.done = make(chan FederatedResult, 1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune()
	p.entries[state] = entry
	return state, entry.done, nil
}

// Finish removes and returns the entry for state.
func (p *PendingRedirects) Finish(state string) (PendingRedirect, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[state]
	if !ok {
		return PendingRedirect{}, false
	}
	delete(p.entries, state)
	if p.now().Sub(entry.CreatedAt) > p.ttl {
		return PendingRedirect{}, false
	}
	return entry, true
}

// Cancel drops state without delivering anything.
func (p *PendingRedirects) Cancel(state string) {
	p.mu.Lock()
	delete(p.entries, state)
	p.mu.Unlock()
}

// prune must be called with mu held.
func (p *PendingRedirects) prune() {
	now := p.now()
	for k, e := range p.entries {
		if now.Sub(e.CreatedAt) > p.ttl {
			delete(p.entries, k)
		}
	}
}

// WithState appends the state parameter to target.
func WithState(target, state string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(StateParam, state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StateFrom extracts the state parameter from a callback URL.
func StateFrom(callbackURL string) (string, url.Values, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", nil, err
	}
	q := u.Query()
	return q.Get(StateParam), q, nil
}

package identity

import (
	"sync"
	"sync/atomic"

	"github.com/aussiebroadwan/vulntab/pkg/idx"
)

type listener struct {
	cb     StateCallbacks
	active atomic.Bool
}

// Notifier tracks whether a session is live and fans auth-state transitions
// out to listeners.
//
// Events are delivered one at a time in the order their state changes were
// applied. A listener that has been unsubscribed receives no further
// deliveries. Callbacks must not call back into the Notifier.
//
// Each SignOut advances an epoch. Sign-in and refresh results carry the
// epoch captured when their request started, and results from an older
// epoch are dropped so a slow sign-in cannot resurrect a signed-out session.
type Notifier struct {
	dispatchMu sync.Mutex

	mu        sync.Mutex
	listeners map[idx.ID]*listener
	current   *Credential
	epoch     uint64
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[idx.ID]*listener)}
}

// Subscribe registers cb. If a session is already live, cb.SignedIn fires
// once before Subscribe returns.
func (n *Notifier) Subscribe(cb StateCallbacks) (unsubscribe func()) {
	l := &listener{cb: cb}
	l.active.Store(true)
	id := idx.New()

	n.dispatchMu.Lock()
	n.mu.Lock()
	n.listeners[id] = l
	var current *Credential
	if n.current != nil {
		c := *n.current
		current = &c
	}
	n.mu.Unlock()

	if current != nil && cb.SignedIn != nil {
		cb.SignedIn(*current)
	}
	n.dispatchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// Epoch returns the current sign-out epoch.
func (n *Notifier) Epoch() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.epoch
}

// Current returns the live credential, if any.
func (n *Notifier) Current() (Credential, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Credential{}, false
	}
	return *n.current, true
}

// SignIn records cred as the live session if epoch is still current. It
// announces SignedIn on a signed-out to signed-in transition, and
// TokenRefreshed when a session was already live. It reports false when the
// result was stale and dropped.
func (n *Notifier) SignIn(epoch uint64, cred Credential) bool {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	if epoch != n.epoch {
		n.mu.Unlock()
		return false
	}
	wasLive := n.current != nil
	n.current = &cred
	targets := n.snapshot()
	n.mu.Unlock()

	for _, l := range targets {
		if !l.active.Load() {
			continue
		}
		switch {
		case !wasLive && l.cb.SignedIn != nil:
			l.cb.SignedIn(cred)
		case wasLive && l.cb.TokenRefreshed != nil:
			l.cb.TokenRefreshed(cred)
		}
	}
	return true
}

// SignOut clears the live session and advances the epoch. SignedOut is
// announced only if a session was live.
func (n *Notifier) SignOut() {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	n.epoch++
	wasLive := n.current != nil
	n.current = nil
	targets := n.snapshot()
	n.mu.Unlock()

	if !wasLive {
		return
	}
	for _, l := range targets {
		if l.active.Load() && l.cb.SignedOut != nil {
			l.cb.SignedOut()
		}
	}
}

// snapshot must be called with mu held.
func (n *Notifier) snapshot() []*listener {
	out := make([]*listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		out = append(out, l)
	}
	return out
}

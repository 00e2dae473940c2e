package identity_test

import (
	"sync"
	"testing"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) callbacks() identity.StateCallbacks {
	return identity.StateCallbacks{
		SignedIn: func(c identity.Credential) {
			r.mu.Lock()
			r.events = append(r.events, "in:"+c.IDToken)
			r.mu.Unlock()
		},
		SignedOut: func() {
			r.mu.Lock()
			r.events = append(r.events, "out")
			r.mu.Unlock()
		},
		TokenRefreshed: func(c identity.Credential) {
			r.mu.Lock()
			r.events = append(r.events, "refresh:"+c.IDToken)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestNotifierTransitionsOnce(t *testing.T) {
	t.Parallel()

	n := identity.NewNotifier()
	rec := &recorder{}
	unsubscribe := n.Subscribe(rec.callbacks())
	defer unsubscribe()

	n.SignOut() // nothing live, no event
	require.True(t, n.SignIn(n.Epoch(), identity.Credential{IDToken: "t1"}))
	require.True(t, n.SignIn(n.Epoch(), identity.Credential{IDToken: "t2"}))
	n.SignOut()
	n.SignOut()

	require.Equal(t, []string{"in:t1", "refresh:t2", "out"}, rec.got())
}

func TestNotifierSubscribeWhileLive(t *testing.T) {
	t.Parallel()

	n := identity.NewNotifier()
	require.True(t, n.SignIn(n.Epoch(), identity.Credential{IDToken: "live"}))

	rec := &recorder{}
	unsubscribe := n.Subscribe(rec.callbacks())
	defer unsubscribe()

	require.Equal(t, []string{"in:live"}, rec.got())
}

func TestNotifierUnsubscribe(t *testing.T) {
	t.Parallel()

	n := identity.NewNotifier()
	rec := &recorder{}
	unsubscribe := n.Subscribe(rec.callbacks())

	unsubscribe()
	unsubscribe() // idempotent

	n.SignIn(n.Epoch(), identity.Credential{IDToken: "t1"})
	n.SignOut()
	require.Empty(t, rec.got())
}

func TestNotifierDropsStaleSignIn(t *testing.T) {
	t.Parallel()

	n := identity.NewNotifier()
	rec := &recorder{}
	defer n.Subscribe(rec.callbacks())()

	// A sign-in starts, the user signs out, then the sign-in resolves.
	epoch := n.Epoch()
	n.SignIn(epoch, identity.Credential{IDToken: "first"})
	n.SignOut()

	require.False(t, n.SignIn(epoch, identity.Credential{IDToken: "slow"}))

	_, live := n.Current()
	require.False(t, live)
	require.Equal(t, []string{"in:first", "out"}, rec.got())
}

func TestNotifierConcurrentSubscribers(t *testing.T) {
	t.Parallel()

	n := identity.NewNotifier()

	var wg sync.WaitGroup
	recs := make([]*recorder, 16)
	for i := range recs {
		recs[i] = &recorder{}
		wg.Add(1)
		go func(r *recorder) {
			defer wg.Done()
			n.Subscribe(r.callbacks())
		}(recs[i])
	}
	wg.Wait()

	n.SignIn(n.Epoch(), identity.Credential{IDToken: "t"})
	for _, r := range recs {
		require.Equal(t, []string{"in:t"}, r.got())
	}
}

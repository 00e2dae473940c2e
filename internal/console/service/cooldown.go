package service

import (
	"sync"
	"time"
)

// DefaultResendCooldown is how long a fresh SMS challenge blocks resending.
const DefaultResendCooldown = 30 * time.Second

// CooldownState is a read-only view of a Cooldown.
type CooldownState struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	CanResend        bool `json:"can_resend"`
}

// Cooldown counts down once per second until resending is allowed. It owns
// its ticker: Stop releases it, and it is released on its own when the
// countdown reaches zero.
type Cooldown struct {
	mu        sync.Mutex
	remaining int
	canResend bool

	ready    chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// StartCooldown begins a countdown of d, rounded up to whole seconds.
func StartCooldown(clock Clock, d time.Duration) *Cooldown {
	secs := int((d + time.Second - 1) / time.Second)
	c := &Cooldown{
		remaining: secs,
		ready:     make(chan struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if secs <= 0 {
		c.remaining = 0
		c.canResend = true
		close(c.ready)
		close(c.doneCh)
		return c
	}
	go c.run(clock.NewTicker(time.Second))
	return c
}

func (c *Cooldown) run(ticker Ticker) {
	defer close(c.doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.mu.Lock()
			c.remaining--
			if c.remaining == 0 {
				c.canResend = true
				close(c.ready)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cooldown) State() CooldownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CooldownState{RemainingSeconds: c.remaining, CanResend: c.canResend}
}

// Ready is closed when resending becomes allowed. It never closes for a
// cooldown stopped early.
func (c *Cooldown) Ready() <-chan struct{} { return c.ready }

// Stop cancels the countdown and waits for its ticker to be released. The
// state is frozen where it was. Safe to call more than once.
func (c *Cooldown) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

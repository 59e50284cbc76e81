package exam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
)

// Countdown maintains a locally decrementing remaining-time seeded from the
// server-authoritative value, re-synchronizing periodically to correct for
// drift (background throttling, system sleep). On reaching zero it fires
// onExpire exactly once. Untimed sessions never get a Countdown.
type Countdown struct {
	remaining    time.Duration
	tick         time.Duration
	syncInterval time.Duration
	syncFn       func(ctx context.Context) (time.Duration, error)
	onExpire     func()
	logger       core.Logger

	mu         sync.Mutex
	expireOnce sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewCountdown(
	remaining time.Duration,
	syncInterval time.Duration,
	syncFn func(ctx context.Context) (time.Duration, error),
	onExpire func(),
	logger core.Logger,
) *Countdown {
	return &Countdown{
		remaining:    remaining,
		tick:         time.Second,
		syncInterval: syncInterval,
		syncFn:       syncFn,
		onExpire:     onExpire,
		logger:       logger,
	}
}

// Start launches the countdown loop. It returns immediately; the loop runs
// until the deadline hits zero, Stop is called, or ctx is cancelled.
func (c *Countdown) Start(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return // already running
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Countdown) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var syncC <-chan time.Time
	if c.syncInterval > 0 && c.syncFn != nil {
		syncTicker := time.NewTicker(c.syncInterval)
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			c.mu.Lock()
			c.remaining -= c.tick
			expired := c.remaining <= 0
			c.mu.Unlock()
			if expired {
				c.expireOnce.Do(c.onExpire)
				return
			}

		case <-syncC:
			// missing a resync is tolerated; the local countdown keeps
			// running on its last known value
			rem, err := c.syncFn(ctx)
			if err != nil {
				c.logger.Debug(fmt.Sprintf("countdown resync failed: %v", err))
				continue
			}
			c.mu.Lock()
			c.remaining = rem
			expired := c.remaining <= 0
			c.mu.Unlock()
			if expired {
				c.expireOnce.Do(c.onExpire)
				return
			}
		}
	}
}

// Remaining returns the current local remaining time (never negative).
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining < 0 {
		return 0
	}
	return c.remaining
}

// Stop cancels the loop and waits for it to exit. Safe to call twice and
// safe to call on a countdown that was never started.
func (c *Countdown) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

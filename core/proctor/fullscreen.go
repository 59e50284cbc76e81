package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
)

// FullscreenEnforcer requests/exits fullscreen against the session's surface.
// Both operations are asynchronous on the remote end and report failure
// without propagating it as fatal: a session continues without fullscreen
// rather than blocking the candidate indefinitely.
type FullscreenEnforcer struct {
	surface    Surface
	logger     core.Logger
	enterDelay time.Duration // initial auto-request, lets the UI mount first
	retryDelay time.Duration // re-entry after an unexpected exit

	mu      sync.Mutex
	pending *time.Timer // at most one request in flight
	stopped bool
}

func NewFullscreenEnforcer(surface Surface, logger core.Logger, enterDelay, retryDelay time.Duration) *FullscreenEnforcer {
	if enterDelay <= 0 {
		enterDelay = time.Second
	}
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &FullscreenEnforcer{
		surface:    surface,
		logger:     logger,
		enterDelay: enterDelay,
		retryDelay: retryDelay,
	}
}

func (e *FullscreenEnforcer) Enter(ctx context.Context) {
	if err := e.surface.RequestFullscreen(ctx); err != nil {
		e.logger.Warn(fmt.Sprintf("fullscreen request failed: %v", err), err)
	}
}

func (e *FullscreenEnforcer) Exit(ctx context.Context) {
	if err := e.surface.ExitFullscreen(ctx); err != nil {
		e.logger.Warn(fmt.Sprintf("fullscreen exit failed: %v", err), err)
	}
}

// ScheduleEnter requests fullscreen once, after the enter delay.
func (e *FullscreenEnforcer) ScheduleEnter() {
	e.after(e.enterDelay)
}

// ScheduleReenter re-requests fullscreen shortly after an unexpected exit.
func (e *FullscreenEnforcer) ScheduleReenter() {
	e.after(e.retryDelay)
}

// after schedules a fullscreen request. A new schedule supersedes the pending
// one, so repeated exits never accumulate timers.
func (e *FullscreenEnforcer) after(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if e.pending != nil {
		e.pending.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		e.mu.Lock()
		if e.pending == t {
			e.pending = nil
		}
		stopped := e.stopped
		e.mu.Unlock()
		if !stopped {
			e.Enter(context.Background())
		}
	})
	e.pending = t
}

// Stop cancels any pending fullscreen request; further schedules are ignored.
func (e *FullscreenEnforcer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

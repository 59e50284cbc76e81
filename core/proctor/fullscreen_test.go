package proctor

import (
	"context"
	"testing"
	"time"
)

func TestFullscreenEnforcer_ScheduleEnter(t *testing.T) {
	surface := NewRemoteSurface()
	e := NewFullscreenEnforcer(surface, nopLogger{}, 5*time.Millisecond, time.Millisecond)
	defer e.Stop()

	e.ScheduleEnter()

	select {
	case cmd := <-surface.Commands():
		if cmd.Name != CmdEnterFullscreen {
			t.Errorf("pushed %q; want %q", cmd.Name, CmdEnterFullscreen)
		}
	case <-time.After(time.Second):
		t.Fatal("fullscreen entry never requested")
	}
}

func TestFullscreenEnforcer_RescheduleSupersedesPending(t *testing.T) {
	surface := NewRemoteSurface()
	e := NewFullscreenEnforcer(surface, nopLogger{}, 5*time.Millisecond, 5*time.Millisecond)
	defer e.Stop()

	// an exit storm keeps superseding the pending request
	for i := 0; i < 50; i++ {
		e.ScheduleReenter()
	}

	select {
	case cmd := <-surface.Commands():
		if cmd.Name != CmdEnterFullscreen {
			t.Fatalf("pushed %q; want %q", cmd.Name, CmdEnterFullscreen)
		}
	case <-time.After(time.Second):
		t.Fatal("fullscreen re-entry never requested")
	}

	// only the last schedule fires
	select {
	case cmd := <-surface.Commands():
		t.Errorf("pushed extra %q; want a single request", cmd.Name)
	case <-time.After(30 * time.Millisecond):
	}

	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()
	if pending != nil {
		t.Error("fired request still tracked as pending")
	}
}

func TestFullscreenEnforcer_StopCancelsPending(t *testing.T) {
	surface := NewRemoteSurface()
	e := NewFullscreenEnforcer(surface, nopLogger{}, 5*time.Millisecond, time.Millisecond)

	e.ScheduleEnter()
	e.Stop()

	select {
	case cmd := <-surface.Commands():
		t.Errorf("pushed %q after Stop()", cmd.Name)
	case <-time.After(30 * time.Millisecond):
	}

	// schedules after Stop are ignored
	e.ScheduleReenter()
	select {
	case cmd := <-surface.Commands():
		t.Errorf("pushed %q; schedules after Stop() must be ignored", cmd.Name)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestFullscreenEnforcer_Exit(t *testing.T) {
	surface := NewRemoteSurface()
	e := NewFullscreenEnforcer(surface, nopLogger{}, time.Second, time.Second)
	defer e.Stop()

	e.Exit(context.Background())

	select {
	case cmd := <-surface.Commands():
		if cmd.Name != CmdExitFullscreen {
			t.Errorf("pushed %q; want %q", cmd.Name, CmdExitFullscreen)
		}
	default:
		t.Fatal("fullscreen exit never requested")
	}
}

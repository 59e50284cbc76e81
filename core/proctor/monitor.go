package proctor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

var NowFunc = time.Now // mockable

// AntiCheatState is the in-memory view of the most recent integrity signals.
// It is never stale by more than the focus polling interval or the event
// latency of the underlying signal.
type AntiCheatState struct {
	TabVisible    bool
	WindowFocused bool
	Fullscreen    bool
}

// Monitor translates raw surface signals into typed violations while a
// session is active. Each signal source is an independent listener; together
// they fan in to a single onViolation callback. Listeners are registered
// only when the category policy enables monitoring and are fully detached on
// state exit: no dangling listeners, no leaked timers.
type Monitor struct {
	surface     Surface
	policy      exam.CategoryPolicy
	enforcer    *FullscreenEnforcer
	onViolation func(exam.Violation)
	onState     func(AntiCheatState) // optional
	logger      core.Logger

	pollInterval time.Duration

	mu       sync.Mutex
	state    AntiCheatState
	cancels  []CancelFunc
	pollStop context.CancelFunc
	pollDone chan struct{}
	attached bool
}

func NewMonitor(
	surface Surface,
	policy exam.CategoryPolicy,
	enforcer *FullscreenEnforcer,
	onViolation func(exam.Violation),
	onState func(AntiCheatState),
	logger core.Logger,
	pollInterval time.Duration,
) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Monitor{
		surface:      surface,
		policy:       policy,
		enforcer:     enforcer,
		onViolation:  onViolation,
		onState:      onState,
		logger:       logger,
		pollInterval: pollInterval,
		state:        AntiCheatState{TabVisible: true, WindowFocused: true},
	}
}

// Attach registers all signal listeners and starts the redundant focus poll.
// A no-op for categories whose policy disables monitoring (practice): no
// listener is ever attached and no violation is ever recorded.
func (m *Monitor) Attach(ctx context.Context) {
	if !m.policy.Monitor {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached {
		return
	}
	m.attached = true

	m.cancels = []CancelFunc{
		m.surface.OnVisibilityChange(m.handleVisibility),
		m.surface.OnFocusChange(m.handleFocus),
		m.surface.OnClipboardEvent(m.handleClipboard),
		m.surface.OnKeyDown(m.handleKeyDown),
		m.surface.OnContextMenu(m.handleContextMenu),
		m.surface.OnFullscreenChange(m.handleFullscreen),
		m.surface.OnPointerLeave(m.handlePointerLeave),
	}

	// redundant blur detection: some platforms do not reliably fire blur,
	// so poll the focus state directly alongside the event listener
	pollCtx, cancel := context.WithCancel(ctx)
	m.pollStop = cancel
	m.pollDone = make(chan struct{})
	go m.pollFocus(pollCtx)
}

// Detach unregisters every listener and stops the focus poll. Safe to call
// twice; safe to call on a monitor that never attached.
func (m *Monitor) Detach() {
	m.mu.Lock()
	if !m.attached {
		m.mu.Unlock()
		return
	}
	m.attached = false
	cancels := m.cancels
	m.cancels = nil
	pollStop, pollDone := m.pollStop, m.pollDone
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if pollStop != nil {
		pollStop()
		<-pollDone
	}
}

// State returns a copy of the current anti-cheat state.
func (m *Monitor) State() AntiCheatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(mutate func(*AntiCheatState)) {
	m.mu.Lock()
	mutate(&m.state)
	st := m.state
	onState := m.onState
	m.mu.Unlock()
	if onState != nil {
		onState(st)
	}
}

func (m *Monitor) emit(typ exam.ViolationType, meta map[string]string) {
	m.onViolation(exam.Violation{Type: typ, OccurredAt: NowFunc().UTC(), Meta: meta})
}

func (m *Monitor) handleVisibility(visible bool) {
	wasVisible := m.State().TabVisible
	m.setState(func(st *AntiCheatState) { st.TabVisible = visible })
	if wasVisible && !visible {
		m.emit(exam.ViolationTabSwitch, map[string]string{"visibility": "hidden"})
	}
}

func (m *Monitor) handleFocus(focused bool) {
	m.setState(func(st *AntiCheatState) { st.WindowFocused = focused })
	// focus regain is not a violation
	if !focused {
		m.emit(exam.ViolationWindowBlur, map[string]string{"source": "event"})
	}
}

// pollFocus re-checks focus directly every pollInterval, emitting window_blur
// when the event-based blur was missed.
func (m *Monitor) pollFocus(ctx context.Context) {
	defer close(m.pollDone)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.surface.IsFocused() && m.State().WindowFocused {
				m.setState(func(st *AntiCheatState) { st.WindowFocused = false })
				m.emit(exam.ViolationWindowBlur, map[string]string{"source": "poll"})
			}
		}
	}
}

func (m *Monitor) handleClipboard(op ClipboardOp, selection string) bool {
	meta := map[string]string{}
	if selection != "" {
		if len(selection) > 128 {
			selection = selection[:128]
		}
		meta["selection"] = selection
	}

	switch op {
	case ClipboardCopy:
		m.emit(exam.ViolationCopyAttempt, meta)
	case ClipboardCut:
		// cut is a sub-case of copy_attempt, tagged in metadata
		meta["type"] = "cut"
		m.emit(exam.ViolationCopyAttempt, meta)
	case ClipboardPaste:
		m.emit(exam.ViolationPasteAttempt, meta)
	default:
		return false
	}
	return true // default action suppressed
}

// handleKeyDown suppresses escape-hatch shortcuts at capture phase.
// Suppression is not itself reported: blocking is not the same as reporting.
func (m *Monitor) handleKeyDown(ev KeyEvent) bool {
	return isBlockedShortcut(ev)
}

func (m *Monitor) handleContextMenu() bool {
	return true // always suppressed, never recorded
}

func (m *Monitor) handleFullscreen(active bool) {
	wasActive := m.State().Fullscreen
	m.setState(func(st *AntiCheatState) { st.Fullscreen = active })
	if wasActive && !active {
		m.emit(exam.ViolationFullscreenExit, nil)
		if m.policy.AutoReenterFullscreen && m.enforcer != nil {
			m.enforcer.ScheduleReenter()
		}
	}
}

func (m *Monitor) handlePointerLeave(ev PointerEvent) {
	if !m.policy.MouseLeaveViolation {
		return
	}
	w, h := m.surface.Viewport()
	if ev.X <= 0 || ev.Y <= 0 || ev.X >= w || ev.Y >= h {
		m.emit(exam.ViolationWindowBlur, map[string]string{
			"type": "mouse_leave",
			"x":    strconv.Itoa(ev.X),
			"y":    strconv.Itoa(ev.Y),
		})
	}
}

// isBlockedShortcut matches new-tab/new-window/reload/close/save/print,
// devtools shortcuts and Alt+Tab.
func isBlockedShortcut(ev KeyEvent) bool {
	key := strings.ToLower(ev.Key)

	if ev.Ctrl || ev.Meta {
		switch key {
		case "t", "n", "w", "r", "s", "p":
			return true
		}
		if ev.Shift {
			switch key {
			case "i", "j", "c": // devtools
				return true
			}
		}
	}
	if ev.Alt && key == "tab" {
		return true
	}
	switch key {
	case "f5", "f12":
		return true
	}
	return false
}

package proctor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type ClipboardOp string

const (
	ClipboardCopy  ClipboardOp = "copy"
	ClipboardCut   ClipboardOp = "cut"
	ClipboardPaste ClipboardOp = "paste"
)

type KeyEvent struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
}

type PointerEvent struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CancelFunc unregisters a listener. Idempotent.
type CancelFunc func()

// Surface is the capability-abstracted display surface a session runs on.
// Implementations deliver the raw platform signals (tab visibility, window
// focus, clipboard, keyboard, fullscreen, pointer) and accept fullscreen
// commands. Handlers returning a bool decide whether the default platform
// action is suppressed; they must complete synchronously so suppression is
// never lost to a race with the event's default handling.
type Surface interface {
	OnVisibilityChange(fn func(visible bool)) CancelFunc
	OnFocusChange(fn func(focused bool)) CancelFunc
	OnClipboardEvent(fn func(op ClipboardOp, selection string) (suppress bool)) CancelFunc
	OnKeyDown(fn func(ev KeyEvent) (suppress bool)) CancelFunc
	OnContextMenu(fn func() (suppress bool)) CancelFunc
	OnFullscreenChange(fn func(active bool)) CancelFunc
	OnPointerLeave(fn func(ev PointerEvent)) CancelFunc

	// IsFocused queries the current focus state directly, independently of
	// the event stream (some platforms do not reliably fire blur).
	IsFocused() bool
	IsFullscreen() bool
	Viewport() (width, height int)

	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
}

// Command is an instruction pushed back to the surface's remote end.
type Command struct {
	Name string      `json:"cmd"`
	Data interface{} `json:"data,omitempty"`
}

const (
	CmdEnterFullscreen = "enter_fullscreen"
	CmdExitFullscreen  = "exit_fullscreen"
	CmdForceSubmit     = "force_submit"
	CmdTimeSync        = "time_sync"
)

var errSurfaceClosed = errors.New("surface closed")

type listenerSet struct {
	nextID int
	fns    map[int]interface{}
}

func (ls *listenerSet) add(fn interface{}) int {
	if ls.fns == nil {
		ls.fns = make(map[int]interface{})
	}
	ls.nextID++
	ls.fns[ls.nextID] = fn
	return ls.nextID
}

// RemoteSurface is a Surface fed by a remote client (the exam UI) over a
// transport such as a WebSocket: the transport calls the Dispatch* methods
// as signal frames arrive and drains Commands() for instructions to relay
// back. Tests drive it directly to simulate arbitrary signal sequences.
type RemoteSurface struct {
	mu         sync.Mutex // protects everything below
	visibility listenerSet
	focus      listenerSet
	clipboard  listenerSet
	keydown    listenerSet
	ctxmenu    listenerSet
	fullscreen listenerSet
	pointer    listenerSet

	focused    bool
	fullActive bool
	vw, vh     int

	closed   bool
	commands chan Command
}

var _ Surface = (*RemoteSurface)(nil)

func NewRemoteSurface() *RemoteSurface {
	return &RemoteSurface{
		focused:  true,
		vw:       1920,
		vh:       1080,
		commands: make(chan Command, 16),
	}
}

func (s *RemoteSurface) register(ls *listenerSet, fn interface{}) CancelFunc {
	s.mu.Lock()
	id := ls.add(fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(ls.fns, id)
		s.mu.Unlock()
	}
}

func (s *RemoteSurface) snapshot(ls *listenerSet) []interface{} {
	fns := make([]interface{}, 0, len(ls.fns))
	for _, fn := range ls.fns {
		fns = append(fns, fn)
	}
	return fns
}

func (s *RemoteSurface) OnVisibilityChange(fn func(bool)) CancelFunc {
	return s.register(&s.visibility, fn)
}
func (s *RemoteSurface) OnFocusChange(fn func(bool)) CancelFunc {
	return s.register(&s.focus, fn)
}
func (s *RemoteSurface) OnClipboardEvent(fn func(ClipboardOp, string) bool) CancelFunc {
	return s.register(&s.clipboard, fn)
}
func (s *RemoteSurface) OnKeyDown(fn func(KeyEvent) bool) CancelFunc {
	return s.register(&s.keydown, fn)
}
func (s *RemoteSurface) OnContextMenu(fn func() bool) CancelFunc {
	return s.register(&s.ctxmenu, fn)
}
func (s *RemoteSurface) OnFullscreenChange(fn func(bool)) CancelFunc {
	return s.register(&s.fullscreen, fn)
}
func (s *RemoteSurface) OnPointerLeave(fn func(PointerEvent)) CancelFunc {
	return s.register(&s.pointer, fn)
}

func (s *RemoteSurface) IsFocused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *RemoteSurface) IsFullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullActive
}

func (s *RemoteSurface) Viewport() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vw, s.vh
}

// SetViewport records the remote viewport extent reported by the client.
func (s *RemoteSurface) SetViewport(w, h int) {
	s.mu.Lock()
	s.vw, s.vh = w, h
	s.mu.Unlock()
}

// SetFocused overrides the focus state without firing listeners; used when
// the remote end reports focus out-of-band (e.g. on reconnect).
func (s *RemoteSurface) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	s.mu.Unlock()
}

func (s *RemoteSurface) RequestFullscreen(ctx context.Context) error {
	return s.push(ctx, Command{Name: CmdEnterFullscreen})
}

func (s *RemoteSurface) ExitFullscreen(ctx context.Context) error {
	return s.push(ctx, Command{Name: CmdExitFullscreen})
}

// Push queues an arbitrary command for the remote end.
func (s *RemoteSurface) Push(ctx context.Context, cmd Command) error {
	return s.push(ctx, cmd)
}

func (s *RemoteSurface) push(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSurfaceClosed
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("surface command buffer full")
	}
}

// Commands exposes the outbound command stream for the transport to drain.
func (s *RemoteSurface) Commands() <-chan Command { return s.commands }

// Close marks the surface dead; subsequent pushes fail. The command channel
// is left open so a draining transport never reads from a closed channel.
func (s *RemoteSurface) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Dispatch methods: invoked by the transport as signal frames arrive.
// Listener invocation happens outside the surface lock so handlers may query
// surface state; each dispatch is still atomic with respect to state updates.

func (s *RemoteSurface) DispatchVisibility(visible bool) {
	s.mu.Lock()
	fns := s.snapshot(&s.visibility)
	s.mu.Unlock()
	for _, fn := range fns {
		fn.(func(bool))(visible)
	}
}

func (s *RemoteSurface) DispatchFocus(focused bool) {
	s.mu.Lock()
	s.focused = focused
	fns := s.snapshot(&s.focus)
	s.mu.Unlock()
	for _, fn := range fns {
		fn.(func(bool))(focused)
	}
}

func (s *RemoteSurface) DispatchClipboard(op ClipboardOp, selection string) (suppress bool) {
	s.mu.Lock()
	fns := s.snapshot(&s.clipboard)
	s.mu.Unlock()
	for _, fn := range fns {
		if fn.(func(ClipboardOp, string) bool)(op, selection) {
			suppress = true
		}
	}
	return suppress
}

func (s *RemoteSurface) DispatchKeyDown(ev KeyEvent) (suppress bool) {
	s.mu.Lock()
	fns := s.snapshot(&s.keydown)
	s.mu.Unlock()
	for _, fn := range fns {
		if fn.(func(KeyEvent) bool)(ev) {
			suppress = true
		}
	}
	return suppress
}

func (s *RemoteSurface) DispatchContextMenu() (suppress bool) {
	s.mu.Lock()
	fns := s.snapshot(&s.ctxmenu)
	s.mu.Unlock()
	for _, fn := range fns {
		if fn.(func() bool)() {
			suppress = true
		}
	}
	return suppress
}

func (s *RemoteSurface) DispatchFullscreen(active bool) {
	s.mu.Lock()
	s.fullActive = active
	fns := s.snapshot(&s.fullscreen)
	s.mu.Unlock()
	for _, fn := range fns {
		fn.(func(bool))(active)
	}
}

func (s *RemoteSurface) DispatchPointerLeave(ev PointerEvent) {
	s.mu.Lock()
	fns := s.snapshot(&s.pointer)
	s.mu.Unlock()
	for _, fn := range fns {
		fn.(func(PointerEvent))(ev)
	}
}

package echoapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/proctor"
)

// the exam UI is served from another origin; candidate identity is already
// established by the JWT middleware
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// signalFrame is one inbound integrity signal from the exam UI.
type signalFrame struct {
	Type      string            `json:"type"` // visibility|focus|clipboard|keydown|contextmenu|fullscreen|pointer_leave|viewport
	Visible   bool              `json:"visible,omitempty"`
	Focused   bool              `json:"focused,omitempty"`
	Op        string            `json:"op,omitempty"` // copy|cut|paste
	Selection string            `json:"selection,omitempty"`
	Key       *proctor.KeyEvent `json:"key,omitempty"`
	Active    bool              `json:"active,omitempty"`
	X         int               `json:"x,omitempty"`
	Y         int               `json:"y,omitempty"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
}

// signalAck answers suppressible signals so the UI can cancel the platform
// default synchronously on its side.
type signalAck struct {
	Type     string `json:"type"`
	Suppress bool   `json:"suppress"`
}

// signals upgrades to a WebSocket and bridges it to the session's surface:
// inbound frames dispatch into the monitor, outbound commands and periodic
// time syncs flow back. The runtime survives a dropped connection so a
// reconnect resumes the same counters and timers.
func (api *sessionApi) signals(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	rt, err := api.registry.Attach(context.Background(), s)
	if err != nil {
		return errors.Wrap(err, "attaching session runtime")
	}
	surface := rt.Surface()

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading signal stream")
	}
	defer func() { _ = conn.Close() }()

	// acks and commands interleave on the same connection
	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		syncTicker := time.NewTicker(api.conf.Exam.SyncInterval)
		defer syncTicker.Stop()
		for {
			select {
			case cmd := <-surface.Commands():
				if err := writeJSON(cmd); err != nil {
					return
				}
			case <-syncTicker.C:
				if !rt.Session().Timed() {
					continue
				}
				cmd := proctor.Command{Name: proctor.CmdTimeSync, Data: int(rt.Remaining() / time.Second)}
				if err := writeJSON(cmd); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var frame signalFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return nil // client went away; the runtime stays attached for a reconnect
		}

		switch frame.Type {
		case "visibility":
			surface.DispatchVisibility(frame.Visible)
		case "focus":
			surface.DispatchFocus(frame.Focused)
		case "clipboard":
			suppress := surface.DispatchClipboard(proctor.ClipboardOp(frame.Op), frame.Selection)
			_ = writeJSON(signalAck{Type: frame.Type, Suppress: suppress})
		case "keydown":
			if frame.Key == nil {
				continue
			}
			suppress := surface.DispatchKeyDown(*frame.Key)
			_ = writeJSON(signalAck{Type: frame.Type, Suppress: suppress})
		case "contextmenu":
			suppress := surface.DispatchContextMenu()
			_ = writeJSON(signalAck{Type: frame.Type, Suppress: suppress})
		case "fullscreen":
			surface.DispatchFullscreen(frame.Active)
		case "pointer_leave":
			surface.DispatchPointerLeave(proctor.PointerEvent{X: frame.X, Y: frame.Y})
		case "viewport":
			surface.SetViewport(frame.Width, frame.Height)
		}
	}
}

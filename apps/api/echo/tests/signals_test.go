package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trezcool/mtihani/core/exam"
	testutil "github.com/trezcool/mtihani/tests"
)

// wsMsg covers everything the server writes: acks, commands and time syncs.
type wsMsg struct {
	Type     string      `json:"type"`
	Suppress bool        `json:"suppress"`
	Cmd      string      `json:"cmd"`
	Data     interface{} `json:"data"`
}

func dialSignals(t *testing.T, srv *httptest.Server, sessionID, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + sessionID + "/signals"
	hdr := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("Dial() failed: %v (resp: %+v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readUntil drains acks, commands and time syncs until match says stop.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(wsMsg) bool) wsMsg {
	t.Helper()
	for {
		var msg wsMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("never received %s: %v", what, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func Test_sessionApi_signals(t *testing.T) {
	srv := httptest.NewServer(app)
	defer srv.Close()

	ex := testutil.CreateExam(t, repo, "Streamed", exam.CategoryTest, time.Hour, 0)
	s := testutil.CreateSession(t, repo, ex, "wscand", exam.StatusActive)
	token := getToken(t, "wscand")
	t.Cleanup(func() { registry.Detach(s.ID) })

	conn := dialSignals(t, srv, s.ID, token)

	t.Run("rejects foreign candidates", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + s.ID + "/signals"
		hdr := http.Header{"Authorization": {"Bearer " + getToken(t, "impostor")}}
		if _, _, err := websocket.DefaultDialer.Dial(wsURL, hdr); err == nil {
			t.Error("Dial() succeeded for a foreign candidate")
		}
	})

	t.Run("clipboard ack suppresses", func(t *testing.T) {
		err := conn.WriteJSON(map[string]interface{}{"type": "clipboard", "op": "copy", "selection": "the answer"})
		if err != nil {
			t.Fatalf("WriteJSON() failed: %v", err)
		}
		ack := readUntil(t, conn, "clipboard ack", func(m wsMsg) bool { return m.Type == "clipboard" })
		if !ack.Suppress {
			t.Error("Suppress = false; copying must be blocked")
		}
	})

	t.Run("keydown ack suppresses devtools", func(t *testing.T) {
		err := conn.WriteJSON(map[string]interface{}{
			"type": "keydown",
			"key":  map[string]interface{}{"key": "i", "ctrl": true, "shift": true},
		})
		if err != nil {
			t.Fatalf("WriteJSON() failed: %v", err)
		}
		ack := readUntil(t, conn, "keydown ack", func(m wsMsg) bool { return m.Type == "keydown" })
		if !ack.Suppress {
			t.Error("Suppress = false; devtools shortcut must be blocked")
		}
	})

	t.Run("time syncs flow for timed sessions", func(t *testing.T) {
		readUntil(t, conn, "time sync", func(m wsMsg) bool { return m.Cmd == "time_sync" })
	})

	t.Run("tab switch storm forces submission", func(t *testing.T) {
		// the clipboard violation above already counted; 9 more trip the threshold
		for i := 0; i < 9; i++ {
			if err := conn.WriteJSON(map[string]interface{}{"type": "visibility", "visible": false}); err != nil {
				t.Fatalf("WriteJSON() failed: %v", err)
			}
			if err := conn.WriteJSON(map[string]interface{}{"type": "visibility", "visible": true}); err != nil {
				t.Fatalf("WriteJSON() failed: %v", err)
			}
		}

		cmd := readUntil(t, conn, "force_submit", func(m wsMsg) bool { return m.Cmd == "force_submit" })
		if cmd.Data != string(exam.ReasonViolationThreshold) {
			t.Errorf("Data = %v; want violation_threshold", cmd.Data)
		}

		// by the time the command reaches the client the session is closed
		deadline := time.After(2 * time.Second)
		for {
			got, err := repo.GetSessionByID(context.Background(), s.ID)
			if err != nil {
				t.Fatalf("GetSessionByID() failed: %v", err)
			}
			if got.Status == exam.StatusCompleted {
				if got.SubmitReason != exam.ReasonViolationThreshold {
					t.Errorf("reason = %s; want violation_threshold", got.SubmitReason)
				}
				break
			}
			select {
			case <-deadline:
				t.Fatalf("session never completed; status %s", got.Status)
			case <-time.After(5 * time.Millisecond):
			}
		}
		if n := scorer.CompletedCalls(s.ID); n != 1 {
			t.Errorf("scorer invoked %d times; want exactly 1", n)
		}
	})
}

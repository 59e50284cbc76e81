package proctor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core/exam"
	testutil "github.com/trezcool/mtihani/tests"
)

// fakeController records the commands a runtime issues.
type fakeController struct {
	mu        sync.Mutex
	tracked   map[string][]exam.Violation
	submits   map[string][]exam.SubmitReason
	remaining time.Duration
	snapshots int
}

var _ Controller = (*fakeController)(nil)

func newFakeController(remaining time.Duration) *fakeController {
	return &fakeController{
		tracked:   make(map[string][]exam.Violation),
		submits:   make(map[string][]exam.SubmitReason),
		remaining: remaining,
	}
}

func (c *fakeController) TrackViolation(_ context.Context, sessionID string, v exam.Violation) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[sessionID] = append(c.tracked[sessionID], v)
	return len(c.tracked[sessionID]), nil
}

func (c *fakeController) Submit(_ context.Context, sessionID string, reason exam.SubmitReason) (exam.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits[sessionID] = append(c.submits[sessionID], reason)
	return exam.Session{ID: sessionID, Status: exam.StatusCompleted, SubmitReason: reason}, nil
}

func (c *fakeController) Remaining(context.Context, string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining, nil
}

func (c *fakeController) PublishSnapshot(context.Context, exam.Snapshot) {
	c.mu.Lock()
	c.snapshots++
	c.mu.Unlock()
}

func (c *fakeController) submitReasons(sessionID string) []exam.SubmitReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]exam.SubmitReason(nil), c.submits[sessionID]...)
}

func (c *fakeController) trackedCount(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked[sessionID])
}

func newTestSession(cat exam.Category, deadline time.Time) exam.Session {
	now := time.Now().UTC()
	return exam.Session{
		ID:          uuid.New().String(),
		ExamID:      uuid.New().String(),
		CandidateID: "cand1",
		Category:    cat,
		Status:      exam.StatusActive,
		Deadline:    deadline,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newTestRegistry(ctrl Controller) *Registry {
	return NewRegistry(ctrl, nopLogger{}, testutil.NewTestConfig())
}

func waitForDetach(t *testing.T, r *Registry, sessionID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := r.Get(sessionID); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("runtime never detached")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRegistry_AttachRejectsInactiveSession(t *testing.T) {
	r := newTestRegistry(newFakeController(0))

	s := newTestSession(exam.CategoryTest, time.Time{})
	s.Status = exam.StatusCompleted

	if _, err := r.Attach(context.Background(), s); err != exam.ErrSessionNotActive {
		t.Errorf("Attach() error = %v; want %v", err, exam.ErrSessionNotActive)
	}
}

func TestRegistry_AttachIsIdempotent(t *testing.T) {
	r := newTestRegistry(newFakeController(0))
	s := newTestSession(exam.CategoryTest, time.Time{})
	s.ViolationCount = 4 // persisted count survives a reload

	rt1, err := r.Attach(context.Background(), s)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
	defer r.Detach(s.ID)

	rt2, err := r.Attach(context.Background(), s)
	if err != nil {
		t.Fatalf("second Attach() failed: %v", err)
	}
	if rt1 != rt2 {
		t.Error("second Attach() built a new runtime; counts and timers must survive")
	}
	if got := rt1.ViolationCount(); got != 4 {
		t.Errorf("ViolationCount() = %d; want 4 seeded from the session", got)
	}
}

func TestRuntime_ViolationStormForcesSubmission(t *testing.T) {
	ctrl := newFakeController(0)
	r := newTestRegistry(ctrl)
	s := newTestSession(exam.CategoryTest, time.Time{})

	rt, err := r.Attach(context.Background(), s)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}

	// 12 tab switches; the threshold (10) must trip exactly once
	for i := 0; i < 12; i++ {
		rt.surface.DispatchVisibility(false)
		rt.surface.DispatchVisibility(true)
	}

	waitForDetach(t, r, s.ID)
	if got := rt.ViolationCount(); got != 12 {
		t.Errorf("ViolationCount() = %d; want 12", got)
	}

	reasons := ctrl.submitReasons(s.ID)
	if len(reasons) != 1 {
		t.Fatalf("submitted %d times; want exactly 1", len(reasons))
	}
	if reasons[0] != exam.ReasonViolationThreshold {
		t.Errorf("reason = %s; want violation_threshold", reasons[0])
	}

	// the client is told to submit before the surface shuts down
	var forced bool
	for {
		select {
		case cmd := <-rt.surface.Commands():
			if cmd.Name == CmdForceSubmit {
				forced = true
			}
			continue
		default:
		}
		break
	}
	if !forced {
		t.Error("force_submit never pushed to the surface")
	}
}

func TestRuntime_ExpiryForcesSubmission(t *testing.T) {
	// the server-authoritative resync reports no time left
	ctrl := newFakeController(0)
	r := newTestRegistry(ctrl)
	s := newTestSession(exam.CategoryTest, time.Now().UTC().Add(time.Hour))

	if _, err := r.Attach(context.Background(), s); err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}

	waitForDetach(t, r, s.ID)
	reasons := ctrl.submitReasons(s.ID)
	if len(reasons) != 1 {
		t.Fatalf("submitted %d times; want exactly 1", len(reasons))
	}
	if reasons[0] != exam.ReasonTimeExpired {
		t.Errorf("reason = %s; want time_expired", reasons[0])
	}
}

func TestRuntime_ReportViolation(t *testing.T) {
	ctrl := newFakeController(0)
	r := newTestRegistry(ctrl)
	s := newTestSession(exam.CategoryTest, time.Time{})

	rt, err := r.Attach(context.Background(), s)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
	defer r.Detach(s.ID)

	if got := rt.ReportViolation(exam.Violation{Type: exam.ViolationTabSwitch}); got != 1 {
		t.Errorf("ReportViolation() = %d; want 1", got)
	}
	if got := rt.ReportViolation(exam.Violation{Type: exam.ViolationCopyAttempt}); got != 2 {
		t.Errorf("ReportViolation() = %d; want 2", got)
	}

	// persistence is fire-and-forget
	deadline := time.After(time.Second)
	for ctrl.trackedCount(s.ID) < 2 {
		select {
		case <-deadline:
			t.Fatalf("persisted %d violations; want 2", ctrl.trackedCount(s.ID))
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRuntime_PracticeReportsNothing(t *testing.T) {
	ctrl := newFakeController(0)
	r := newTestRegistry(ctrl)
	s := newTestSession(exam.CategoryPractice, time.Time{})

	rt, err := r.Attach(context.Background(), s)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
	defer r.Detach(s.ID)

	if got := rt.ReportViolation(exam.Violation{Type: exam.ViolationTabSwitch}); got != 0 {
		t.Errorf("ReportViolation() = %d; want 0 for practice", got)
	}
	time.Sleep(20 * time.Millisecond)
	if n := ctrl.trackedCount(s.ID); n != 0 {
		t.Errorf("persisted %d violations during practice; want 0", n)
	}
	if n := len(ctrl.submitReasons(s.ID)); n != 0 {
		t.Errorf("submitted %d times during practice; want 0", n)
	}
}

func TestRegistry_Detach(t *testing.T) {
	r := newTestRegistry(newFakeController(0))
	s := newTestSession(exam.CategoryTest, time.Time{})

	rt, err := r.Attach(context.Background(), s)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}

	r.Detach(s.ID)
	r.Detach(s.ID) // idempotent

	if _, ok := r.Get(s.ID); ok {
		t.Error("Get() still finds a detached runtime")
	}
	if err := rt.surface.Push(context.Background(), Command{Name: CmdTimeSync}); err == nil {
		t.Error("Push() succeeded on a detached surface")
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	r := newTestRegistry(newFakeController(0))

	var ids []string
	for i := 0; i < 3; i++ {
		s := newTestSession(exam.CategoryTest, time.Time{})
		if _, err := r.Attach(context.Background(), s); err != nil {
			t.Fatalf("Attach() failed: %v", err)
		}
		ids = append(ids, s.ID)
	}

	r.Shutdown()
	for _, id := range ids {
		if _, ok := r.Get(id); ok {
			t.Errorf("runtime %s survived Shutdown()", id)
		}
	}
}

package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// Controller is the slice of the session service a runtime commands. No
// component other than the controller ever invokes the scoring collaborator.
type Controller interface {
	TrackViolation(ctx context.Context, sessionID string, v exam.Violation) (int, error)
	Submit(ctx context.Context, sessionID string, reason exam.SubmitReason) (exam.Session, error)
	Remaining(ctx context.Context, sessionID string) (time.Duration, error)
	PublishSnapshot(ctx context.Context, snap exam.Snapshot)
}

// Runtime binds one active session to its surface, monitor, fullscreen
// enforcer and countdown. It owns the in-memory violation count that drives
// the forced-submission decision, so the decision never depends on network
// reachability; persistence of each violation is fire-and-forget.
type Runtime struct {
	session  exam.Session
	policy   exam.CategoryPolicy
	surface  *RemoteSurface
	monitor  *Monitor
	enforcer *FullscreenEnforcer
	cdown    *exam.Countdown
	ctrl     Controller
	logger   core.Logger
	detach   func() // removes the runtime from its registry

	mu         sync.Mutex
	count      int
	submitOnce sync.Once
}

func (rt *Runtime) Session() exam.Session       { return rt.session }
func (rt *Runtime) Surface() *RemoteSurface     { return rt.surface }
func (rt *Runtime) State() AntiCheatState       { return rt.monitor.State() }
func (rt *Runtime) Policy() exam.CategoryPolicy { return rt.policy }

// ViolationCount returns the in-memory running count.
func (rt *Runtime) ViolationCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.count
}

// Remaining returns the local countdown value; zero for untimed sessions.
func (rt *Runtime) Remaining() time.Duration {
	if rt.cdown == nil {
		return 0
	}
	return rt.cdown.Remaining()
}

// onViolation is the single fan-in sink for every monitor signal source.
// Each call is atomic with respect to the counter: no two increments are
// ever lost, and the count only grows.
func (rt *Runtime) onViolation(v exam.Violation) {
	rt.mu.Lock()
	rt.count++
	count := rt.count
	rt.mu.Unlock()

	// best-effort persistence; never blocks the policy decision
	go func() {
		if _, err := rt.ctrl.TrackViolation(context.Background(), rt.session.ID, v); err != nil {
			rt.logger.Warn(fmt.Sprintf("tracking violation for session %s: %v", rt.session.ID, err), err)
		}
	}()

	rt.publishSnapshot()

	if rt.policy.ForcesSubmission(count) {
		rt.forceSubmit(exam.ReasonViolationThreshold)
	}
}

// ReportViolation feeds a violation observed off the signal stream (REST
// fallback) into the same fan-in sink. Practice sessions stay exempt.
func (rt *Runtime) ReportViolation(v exam.Violation) int {
	if !rt.policy.Monitor {
		return 0
	}
	if v.OccurredAt.IsZero() {
		v.OccurredAt = NowFunc().UTC()
	}
	rt.onViolation(v)
	return rt.ViolationCount()
}

func (rt *Runtime) onState(AntiCheatState) {
	rt.publishSnapshot()
}

func (rt *Runtime) onExpire() {
	rt.forceSubmit(exam.ReasonTimeExpired)
}

// forceSubmit submits at most once per runtime; the controller's own
// per-session guard covers submissions racing in from other entry points.
func (rt *Runtime) forceSubmit(reason exam.SubmitReason) {
	rt.submitOnce.Do(func() {
		go func() {
			if _, err := rt.ctrl.Submit(context.Background(), rt.session.ID, reason); err != nil {
				rt.logger.Error(fmt.Sprintf("forced submission (%s) of session %s: %v", reason, rt.session.ID, err), err)
			}
			if err := rt.surface.Push(context.Background(), Command{Name: CmdForceSubmit, Data: string(reason)}); err != nil {
				rt.logger.Debug(fmt.Sprintf("force_submit push for session %s: %v", rt.session.ID, err))
			}
			rt.detach()
		}()
	})
}

func (rt *Runtime) publishSnapshot() {
	st := rt.monitor.State()
	rt.ctrl.PublishSnapshot(context.Background(), exam.Snapshot{
		SessionID:      rt.session.ID,
		RemainingSec:   int(rt.Remaining() / time.Second),
		TabVisible:     st.TabVisible,
		WindowFocused:  st.WindowFocused,
		Fullscreen:     st.Fullscreen,
		ViolationCount: rt.ViolationCount(),
	})
}

// stop cancels every listener and timer bound to the session: monitor
// listeners, the focus poll, pending fullscreen requests and the countdown.
// Leaked timers would keep firing violations against a session that is no
// longer active.
func (rt *Runtime) stop() {
	rt.monitor.Detach()
	rt.enforcer.Stop()
	if rt.cdown != nil {
		rt.cdown.Stop()
	}
	rt.surface.Close()
}

// Registry tracks the runtime of every active session on this node.
// Runtimes attach strictly on `active` entry and detach on exit (submission,
// abandonment, expiry or navigation away).
type Registry struct {
	ctrl   Controller
	logger core.Logger
	conf   *core.Config

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

func NewRegistry(ctrl Controller, logger core.Logger, conf *core.Config) *Registry {
	return &Registry{
		ctrl:     ctrl,
		logger:   logger,
		conf:     conf,
		runtimes: make(map[string]*Runtime),
	}
}

// Attach builds and starts the runtime for an active session. Idempotent:
// a session already attached (page reload, reconnect) gets its existing
// runtime back so counts and timers survive.
func (r *Registry) Attach(ctx context.Context, s exam.Session) (*Runtime, error) {
	if !s.IsActive() {
		return nil, exam.ErrSessionNotActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.runtimes[s.ID]; ok {
		return rt, nil
	}

	policy := exam.PolicyFor(s.Category)
	surface := NewRemoteSurface()

	rt := &Runtime{
		session: s,
		policy:  policy,
		surface: surface,
		ctrl:    r.ctrl,
		logger:  r.logger,
		count:   s.ViolationCount,
	}
	rt.detach = func() { r.Detach(s.ID) }
	rt.enforcer = NewFullscreenEnforcer(surface, r.logger, r.conf.Exam.FullscreenEnterDelay, r.conf.Exam.FullscreenRetryDelay)
	rt.monitor = NewMonitor(surface, policy, rt.enforcer, rt.onViolation, rt.onState, r.logger, r.conf.Exam.FocusPollInterval)
	rt.monitor.Attach(ctx)

	if policy.RequireFullscreen {
		rt.enforcer.ScheduleEnter()
	}

	if s.Timed() {
		rt.cdown = exam.NewCountdown(
			s.Remaining(NowFunc().UTC()),
			r.conf.Exam.SyncInterval,
			func(ctx context.Context) (time.Duration, error) {
				return r.ctrl.Remaining(ctx, s.ID)
			},
			rt.onExpire,
			r.logger,
		)
		rt.cdown.Start(ctx)
	}

	r.runtimes[s.ID] = rt
	return rt, nil
}

// Get returns the runtime for a session, if one is attached on this node.
func (r *Registry) Get(sessionID string) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[sessionID]
	return rt, ok
}

// Detach stops and removes a session's runtime. Safe to call twice.
func (r *Registry) Detach(sessionID string) {
	r.mu.Lock()
	rt, ok := r.runtimes[sessionID]
	delete(r.runtimes, sessionID)
	r.mu.Unlock()
	if ok {
		rt.stop()
	}
}

// Shutdown detaches every runtime; used on server stop.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	runtimes := make([]*Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		runtimes = append(runtimes, rt)
	}
	r.runtimes = make(map[string]*Runtime)
	r.mu.Unlock()

	for _, rt := range runtimes {
		rt.stop()
	}
}

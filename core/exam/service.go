package exam

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var NowFunc = time.Now // mockable

type (
	// Repository is the session-store collaborator: the source of truth for
	// sessions across reloads.
	Repository interface {
		GetExamByID(ctx context.Context, id string) (Exam, error)
		GetInvitation(ctx context.Context, token string) (Invitation, error)
		CountSessions(ctx context.Context, examID, candidateID string) (int, error)
		GetActiveSession(ctx context.Context, examID, candidateID string) (Session, error)
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		// CloseSession transitions a session to a terminal status.
		CloseSession(ctx context.Context, id string, st Status, reason SubmitReason, completedAt time.Time) (Session, error)
		// AppendViolation persists a violation log entry and the running count.
		AppendViolation(ctx context.Context, sessionID string, v Violation, count int) error
		// FilterOverdueSessions returns active timed sessions whose deadline passed before t.
		FilterOverdueSessions(ctx context.Context, t time.Time) ([]Session, error)
	}

	// Scorer is the external scoring collaborator. CompleteSession is the
	// single scoring-trigger call; server-side idempotency is assumed, but
	// the Service still enforces at-most-once as defense in depth.
	Scorer interface {
		CompleteSession(ctx context.Context, sessionID string) error
		Results(ctx context.Context, sessionID string) (Result, error)
	}

	// LiveStore caches hot session state (remaining time, integrity signals)
	// for fast rehydration; strictly best-effort.
	LiveStore interface {
		PutSnapshot(ctx context.Context, snap Snapshot) error
		GetSnapshot(ctx context.Context, sessionID string) (Snapshot, error)
		DeleteSnapshot(ctx context.Context, sessionID string) error
	}

	ServiceInterface interface {
		CheckAccess(ctx context.Context, examID, candidateID, invitationToken string) (Exam, error)
		Instructions(ctx context.Context, examID, candidateID, invitationToken string) ([]string, error)
		ActiveSession(ctx context.Context, examID, candidateID string) (Session, error)
		Start(ctx context.Context, examID, candidateID string, req StartSession) (Session, error)
		ValidateActive(ctx context.Context, sessionID, candidateID string) (Session, error)
		ValidateCompleted(ctx context.Context, sessionID, candidateID string) (Session, error)
		Results(ctx context.Context, sessionID, candidateID string) (Result, error)
		TrackViolation(ctx context.Context, sessionID string, v Violation) (int, error)
		Submit(ctx context.Context, sessionID string, reason SubmitReason) (Session, error)
		Abandon(ctx context.Context, sessionID, candidateID string) (Session, error)
		Remaining(ctx context.Context, sessionID string) (time.Duration, error)
		ExpireOverdue(ctx context.Context) (int, error)
		LiveSnapshot(ctx context.Context, sessionID string) (Snapshot, error)
	}

	Service struct {
		repo    Repository
		scorer  Scorer
		live    LiveStore
		mailSvc core.EmailService
		logger  core.Logger
		conf    *core.Config

		// submitMus serializes submissions per session id so that concurrent
		// triggers (user click, time expiry, violation threshold) cannot race
		// the at-most-one-submission invariant. map[string]*sync.Mutex
		submitMus sync.Map

		// violMus serializes violation appends per session id: concurrent
		// signal sources would otherwise race the read-compute-append and the
		// store's positional uniqueness would drop all but one of the racing
		// log entries. map[string]*sync.Mutex
		violMus sync.Map
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	scorer Scorer,
	live LiveStore,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		repo:    repo,
		scorer:  scorer,
		live:    live,
		mailSvc: mailSvc,
		logger:  logger,
		conf:    conf,
	}
}

// CheckAccess verifies that a candidate may enter an exam: open window,
// invitation (when the category mandates one) and remaining attempts.
func (svc *Service) CheckAccess(ctx context.Context, examID, candidateID, invitationToken string) (Exam, error) {
	ex, err := svc.repo.GetExamByID(ctx, examID)
	if err != nil {
		return Exam{}, err
	}

	now := NowFunc().UTC()
	if err = ex.IsOpen(now); err != nil {
		return Exam{}, err
	}

	if PolicyFor(ex.Category).RequireInvitation {
		inv, err := svc.repo.GetInvitation(ctx, invitationToken)
		if err != nil {
			return Exam{}, err
		}
		if inv.ExamID != ex.ID {
			return Exam{}, ErrInvitationExpired
		}
		if inv.Expired(now) {
			return Exam{}, ErrInvitationExpired
		}
	}

	if ex.MaxAttempts > 0 {
		count, err := svc.repo.CountSessions(ctx, examID, candidateID)
		if err != nil {
			return Exam{}, errors.Wrap(err, "counting sessions")
		}
		if count >= ex.MaxAttempts {
			return Exam{}, ErrAttemptsExhausted
		}
	}
	return ex, nil
}

func (svc *Service) Instructions(ctx context.Context, examID, candidateID, invitationToken string) ([]string, error) {
	ex, err := svc.CheckAccess(ctx, examID, candidateID, invitationToken)
	if err != nil {
		return nil, err
	}
	return ex.Instructions, nil
}

// ActiveSession returns the candidate's running session for an exam, if any;
// used to resume instead of duplicate-start.
func (svc *Service) ActiveSession(ctx context.Context, examID, candidateID string) (Session, error) {
	return svc.repo.GetActiveSession(ctx, examID, candidateID)
}

// Start creates a new session, or resumes the existing active one.
// Categories that mandate configuration (practice, test) fail with
// ErrConfigRequired when none is supplied.
func (svc *Service) Start(ctx context.Context, examID, candidateID string, req StartSession) (Session, error) {
	ex, err := svc.CheckAccess(ctx, examID, candidateID, req.InvitationToken)
	if err != nil {
		return Session{}, err
	}

	policy := PolicyFor(ex.Category)
	if policy.RequireConfig && req.Config == nil {
		return Session{}, ErrConfigRequired
	}

	// resume instead of duplicate-start
	if s, err := svc.repo.GetActiveSession(ctx, examID, candidateID); err == nil {
		return s, nil
	} else if errors.Cause(err) != ErrSessionNotFound {
		return Session{}, errors.Wrap(err, "checking for active session")
	}

	now := NowFunc().UTC()
	timeLimit := ex.TimeLimit
	if req.Config != nil && req.Config.TimeLimitSec > 0 {
		timeLimit = time.Duration(req.Config.TimeLimitSec) * time.Second
	}

	s := Session{
		ID:             uuid.New().String(),
		ExamID:         ex.ID,
		CandidateID:    candidateID,
		Category:       ex.Category,
		Status:         StatusActive,
		NavigationMode: policy.NavigationMode,
		Config:         req.Config,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if timeLimit > 0 {
		s.Deadline = now.Add(timeLimit)
	}
	return svc.repo.CreateSession(ctx, s)
}

// ValidateActive checks that a session exists, belongs to the candidate and
// is still running. A session caught past its deadline is force-submitted
// here (covers reloads after the process missed the expiry).
func (svc *Service) ValidateActive(ctx context.Context, sessionID, candidateID string) (Session, error) {
	s, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.CandidateID != candidateID {
		return Session{}, ErrSessionNotFound
	}
	if s.Status == StatusCompleted {
		return s, ErrSessionCompleted
	}
	if !s.IsActive() {
		return s, ErrSessionNotActive
	}
	if s.Overdue(NowFunc().UTC()) {
		if s, err = svc.Submit(ctx, sessionID, ReasonTimeExpired); err != nil {
			return s, err
		}
		return s, ErrSessionCompleted
	}
	return s, nil
}

func (svc *Service) ValidateCompleted(ctx context.Context, sessionID, candidateID string) (Session, error) {
	s, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.CandidateID != candidateID {
		return Session{}, ErrSessionNotFound
	}
	if s.Status != StatusCompleted {
		return s, ErrSessionNotCompleted
	}
	return s, nil
}

func (svc *Service) Results(ctx context.Context, sessionID, candidateID string) (Result, error) {
	if _, err := svc.ValidateCompleted(ctx, sessionID, candidateID); err != nil {
		return Result{}, err
	}
	res, err := svc.scorer.Results(ctx, sessionID)
	return res, errors.Wrap(err, "fetching results")
}

// TrackViolation appends a violation to the session log and bumps the count.
// The count is monotonic and always equals the log length; appends are
// serialized per session so each one reads the count the previous one wrote.
// Persistence is best-effort: a storage failure is logged and swallowed so
// that the forced-submission decision never depends on it.
func (svc *Service) TrackViolation(ctx context.Context, sessionID string, v Violation) (int, error) {
	muIface, _ := svc.violMus.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	s, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !s.IsActive() {
		return s.ViolationCount, ErrSessionNotActive
	}
	if !PolicyFor(s.Category).Monitor {
		// practice exemption: nothing is ever recorded
		return 0, nil
	}

	if v.OccurredAt.IsZero() {
		v.OccurredAt = NowFunc().UTC()
	}
	count := s.ViolationCount + 1
	if err = svc.repo.AppendViolation(ctx, sessionID, v, count); err != nil {
		svc.logger.Warn(fmt.Sprintf("violation not persisted for session %s: %v", sessionID, err), err)
	}
	return count, nil
}

// Submit completes a session and invokes the scoring collaborator exactly
// once per session. Idempotent: submitting an already-completed session is a
// no-op returning the existing result. Scoring failures are retried a bounded
// number of times; the session stays active so the caller can retry manually.
func (svc *Service) Submit(ctx context.Context, sessionID string, reason SubmitReason) (Session, error) {
	muIface, _ := svc.submitMus.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	s, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	switch s.Status {
	case StatusCompleted:
		return s, nil // no duplicate submission
	case StatusActive:
	default:
		return s, ErrSessionNotActive
	}

	if err = svc.completeWithRetry(ctx, sessionID); err != nil {
		return s, errors.Wrap(ErrSubmissionFailed, err.Error())
	}

	now := NowFunc().UTC()
	s, err = svc.repo.CloseSession(ctx, sessionID, StatusCompleted, reason, now)
	if err != nil {
		return Session{}, errors.Wrap(err, "closing session")
	}
	svc.submitMus.Delete(sessionID)
	svc.violMus.Delete(sessionID)

	if svc.live != nil {
		if err := svc.live.DeleteSnapshot(ctx, sessionID); err != nil {
			svc.logger.Warn(fmt.Sprintf("snapshot not deleted for session %s: %v", sessionID, err), err)
		}
	}

	if reason != ReasonUser {
		svc.notifyForcedSubmission(s)
	}
	return s, nil
}

func (svc *Service) completeWithRetry(ctx context.Context, sessionID string) error {
	retries := svc.conf.Exam.SubmitRetries
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = svc.scorer.CompleteSession(ctx, sessionID); err == nil {
			return nil
		}
		svc.logger.Warn(fmt.Sprintf("completeSession attempt %d/%d failed for session %s: %v", attempt, retries, sessionID, err), err)
		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * svc.conf.Exam.SubmitRetryBackoff):
			}
		}
	}
	return err
}

// Abandon closes a session without scoring. Only valid from active.
func (svc *Service) Abandon(ctx context.Context, sessionID, candidateID string) (Session, error) {
	s, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.CandidateID != candidateID {
		return Session{}, ErrSessionNotFound
	}
	if !s.IsActive() {
		return s, ErrSessionNotActive
	}

	s, err = svc.repo.CloseSession(ctx, sessionID, StatusAbandoned, "", NowFunc().UTC())
	if err != nil {
		return Session{}, errors.Wrap(err, "abandoning session")
	}
	if svc.live != nil {
		_ = svc.live.DeleteSnapshot(ctx, sessionID)
	}
	return s, nil
}

// Remaining returns the authoritative remaining time for a timed session.
func (svc *Service) Remaining(ctx context.Context, sessionID string) (time.Duration, error) {
	s, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !s.IsActive() {
		return 0, ErrSessionNotActive
	}
	return s.Remaining(NowFunc().UTC()), nil
}

// ExpireOverdue force-submits sessions whose deadline elapsed while no
// runtime was watching them (process restarts). Returns how many were closed.
func (svc *Service) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := svc.repo.FilterOverdueSessions(ctx, NowFunc().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "filtering overdue sessions")
	}

	var n int
	for _, s := range overdue {
		if _, err := svc.Submit(ctx, s.ID, ReasonTimeExpired); err != nil {
			svc.logger.Error(fmt.Sprintf("expiring session %s: %v", s.ID, err), err)
			continue
		}
		n++
	}
	return n, nil
}

// PublishSnapshot mirrors live session state into the hot store; best-effort.
func (svc *Service) PublishSnapshot(ctx context.Context, snap Snapshot) {
	if svc.live == nil {
		return
	}
	snap.UpdatedAt = NowFunc().UTC()
	if err := svc.live.PutSnapshot(ctx, snap); err != nil {
		svc.logger.Debug(fmt.Sprintf("snapshot not published for session %s: %v", snap.SessionID, err))
	}
}

// LiveSnapshot returns the hot cached view of a running session so clients
// rehydrate after a reload without waiting for fresh signals.
func (svc *Service) LiveSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	if svc.live == nil {
		return Snapshot{}, ErrSnapshotUnavailable
	}
	return svc.live.GetSnapshot(ctx, sessionID)
}

func (svc *Service) notifyForcedSubmission(s Session) {
	if svc.mailSvc == nil {
		return
	}
	ex, err := svc.repo.GetExamByID(context.Background(), s.ExamID)
	if err != nil || ex.OwnerEmail == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: ex.OwnerEmail}},
		Subject: fmt.Sprintf("Session force-submitted: %s", s.ID),
		BodyStr: fmt.Sprintf(
			"Session %s (exam %q, candidate %s) was submitted automatically.\nReason: %s\nViolations: %d\n",
			s.ID, ex.Name, s.CandidateID, s.SubmitReason, s.ViolationCount,
		),
	})
}

package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/mtihani/core/exam"
)

type sessionRepository struct {
	db *DB
}

var _ exam.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db}
}

// PutExam upserts an exam; seed helper for dev and tests.
func (repo *sessionRepository) PutExam(ex exam.Exam) exam.Exam {
	repo.db.exam.mutex.Lock()
	defer repo.db.exam.mutex.Unlock()
	repo.db.exam.table[ex.ID] = &ex
	return ex
}

// PutInvitation upserts an invitation; seed helper for dev and tests.
func (repo *sessionRepository) PutInvitation(inv exam.Invitation) exam.Invitation {
	repo.db.invitation.mutex.Lock()
	defer repo.db.invitation.mutex.Unlock()
	repo.db.invitation.table[inv.Token] = &inv
	return inv
}

func (repo *sessionRepository) GetExamByID(_ context.Context, id string) (exam.Exam, error) {
	repo.db.exam.mutex.RLock()
	defer repo.db.exam.mutex.RUnlock()

	if ex, ok := repo.db.exam.table[id]; ok {
		return *ex, nil
	}
	return exam.Exam{}, exam.ErrExamNotFound
}

func (repo *sessionRepository) GetInvitation(_ context.Context, token string) (exam.Invitation, error) {
	repo.db.invitation.mutex.RLock()
	defer repo.db.invitation.mutex.RUnlock()

	if inv, ok := repo.db.invitation.table[token]; ok {
		return *inv, nil
	}
	// an unknown token behaves exactly like an expired one
	return exam.Invitation{}, exam.ErrInvitationExpired
}

func (repo *sessionRepository) CountSessions(_ context.Context, examID, candidateID string) (int, error) {
	repo.db.session.mutex.RLock()
	defer repo.db.session.mutex.RUnlock()

	var count int
	for _, s := range repo.db.session.table {
		if s.ExamID == examID && s.CandidateID == candidateID {
			count++
		}
	}
	return count, nil
}

func (repo *sessionRepository) GetActiveSession(_ context.Context, examID, candidateID string) (exam.Session, error) {
	repo.db.session.mutex.RLock()
	defer repo.db.session.mutex.RUnlock()

	for _, s := range repo.db.session.table {
		if s.ExamID == examID && s.CandidateID == candidateID && s.IsActive() {
			return clone(s), nil
		}
	}
	return exam.Session{}, exam.ErrSessionNotFound
}

func (repo *sessionRepository) CreateSession(_ context.Context, s exam.Session) (exam.Session, error) {
	repo.db.session.mutex.Lock()
	defer repo.db.session.mutex.Unlock()

	repo.db.session.table[s.ID] = &s
	return clone(&s), nil
}

func (repo *sessionRepository) GetSessionByID(_ context.Context, id string) (exam.Session, error) {
	repo.db.session.mutex.RLock()
	defer repo.db.session.mutex.RUnlock()

	if s, ok := repo.db.session.table[id]; ok {
		return clone(s), nil
	}
	return exam.Session{}, exam.ErrSessionNotFound
}

func (repo *sessionRepository) CloseSession(
	_ context.Context, id string, st exam.Status, reason exam.SubmitReason, completedAt time.Time,
) (exam.Session, error) {
	repo.db.session.mutex.Lock()
	defer repo.db.session.mutex.Unlock()

	s, ok := repo.db.session.table[id]
	if !ok {
		return exam.Session{}, exam.ErrSessionNotFound
	}
	s.Status = st
	s.SubmitReason = reason
	s.CompletedAt = completedAt
	s.UpdatedAt = completedAt
	return clone(s), nil
}

func (repo *sessionRepository) AppendViolation(_ context.Context, sessionID string, v exam.Violation, count int) error {
	repo.db.session.mutex.Lock()
	defer repo.db.session.mutex.Unlock()

	s, ok := repo.db.session.table[sessionID]
	if !ok {
		return exam.ErrSessionNotFound
	}
	s.Violations = append(s.Violations, v)
	s.ViolationCount = len(s.Violations) // count always equals the log length
	s.UpdatedAt = v.OccurredAt
	return nil
}

func (repo *sessionRepository) FilterOverdueSessions(_ context.Context, t time.Time) ([]exam.Session, error) {
	repo.db.session.mutex.RLock()
	defer repo.db.session.mutex.RUnlock()

	var overdue []exam.Session
	for _, s := range repo.db.session.table {
		if s.IsActive() && s.Overdue(t) {
			overdue = append(overdue, clone(s))
		}
	}
	return overdue, nil
}

// clone copies a session so callers never share the stored slice.
func clone(s *exam.Session) exam.Session {
	cp := *s
	if s.Violations != nil {
		cp.Violations = make([]exam.Violation, len(s.Violations))
		copy(cp.Violations, s.Violations)
	}
	if s.Config != nil {
		cfg := *s.Config
		cp.Config = &cfg
	}
	return cp
}

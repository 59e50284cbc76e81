package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/exam"
)

type sessionRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

type examRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Category      string         `db:"category"`
	OwnerEmail    null.String    `db:"owner_email"`
	TimeLimitSecs int            `db:"time_limit_secs"`
	OpensAt       null.Time      `db:"opens_at"`
	ClosesAt      null.Time      `db:"closes_at"`
	MaxAttempts   int            `db:"max_attempts"`
	Instructions  pq.StringArray `db:"instructions"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type sessionRow struct {
	ID             string      `db:"id"`
	ExamID         string      `db:"exam_id"`
	CandidateID    string      `db:"candidate_id"`
	Category       string      `db:"category"`
	Status         string      `db:"status"`
	NavigationMode string      `db:"navigation_mode"`
	Config         null.JSON   `db:"config"`
	StartedAt      time.Time   `db:"started_at"`
	Deadline       null.Time   `db:"deadline"`
	CompletedAt    null.Time   `db:"completed_at"`
	SubmitReason   null.String `db:"submit_reason"`
	ViolationCount int         `db:"violation_count"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

type violationRow struct {
	ID         int64     `db:"id"`
	SessionID  string    `db:"session_id"`
	Position   int       `db:"position"`
	Type       string    `db:"type"`
	OccurredAt time.Time `db:"occurred_at"`
	Meta       null.JSON `db:"meta"`
}

func (repo sessionRepository) pack(s exam.Session) (sessionRow, error) {
	row := sessionRow{
		ID:             s.ID,
		ExamID:         s.ExamID,
		CandidateID:    s.CandidateID,
		Category:       string(s.Category),
		Status:         string(s.Status),
		NavigationMode: string(s.NavigationMode),
		StartedAt:      s.StartedAt.UTC(),
		Deadline:       null.NewTime(s.Deadline.UTC(), !s.Deadline.IsZero()),
		CompletedAt:    null.NewTime(s.CompletedAt.UTC(), !s.CompletedAt.IsZero()),
		SubmitReason:   null.NewString(string(s.SubmitReason), s.SubmitReason != ""),
		ViolationCount: s.ViolationCount,
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
	}
	if s.Config != nil {
		b, err := json.Marshal(s.Config)
		if err != nil {
			return sessionRow{}, errors.Wrap(err, "marshaling session config")
		}
		row.Config = null.JSONFrom(b)
	}
	return row, nil
}

func (repo sessionRepository) unpack(row sessionRow) (exam.Session, error) {
	s := exam.Session{
		ID:             row.ID,
		ExamID:         row.ExamID,
		CandidateID:    row.CandidateID,
		Category:       exam.Category(row.Category),
		Status:         exam.Status(row.Status),
		NavigationMode: exam.NavigationMode(row.NavigationMode),
		StartedAt:      row.StartedAt,
		Deadline:       row.Deadline.Time,
		CompletedAt:    row.CompletedAt.Time,
		SubmitReason:   exam.SubmitReason(row.SubmitReason.String),
		ViolationCount: row.ViolationCount,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.Config.Valid {
		var cfg exam.StartConfig
		if err := json.Unmarshal(row.Config.JSON, &cfg); err != nil {
			return exam.Session{}, errors.Wrap(err, "unmarshaling session config")
		}
		s.Config = &cfg
	}
	return s, nil
}

func (repo sessionRepository) unpackExam(row examRow) exam.Exam {
	return exam.Exam{
		ID:           row.ID,
		Name:         row.Name,
		Category:     exam.Category(row.Category),
		OwnerEmail:   row.OwnerEmail.String,
		TimeLimit:    time.Duration(row.TimeLimitSecs) * time.Second,
		OpensAt:      row.OpensAt.Time,
		ClosesAt:     row.ClosesAt.Time,
		MaxAttempts:  row.MaxAttempts,
		Instructions: row.Instructions,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

// trapNoRowsErr maps psql "no rows" err to the entity's not-found sentinel
func (repo sessionRepository) trapNoRowsErr(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func (repo sessionRepository) GetExamByID(ctx context.Context, id string) (exam.Exam, error) {
	var row examRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM exam WHERE id = $1`, id)
	if err != nil {
		return exam.Exam{}, repo.trapNoRowsErr(err, exam.ErrExamNotFound, "finding exam by ID")
	}
	return repo.unpackExam(row), nil
}

func (repo sessionRepository) GetInvitation(ctx context.Context, token string) (exam.Invitation, error) {
	var inv exam.Invitation
	err := repo.db.QueryRowxContext(ctx,
		`SELECT token, exam_id, email, COALESCE(expires_at, 'epoch'::timestamptz) FROM invitation WHERE token = $1`, token,
	).Scan(&inv.Token, &inv.ExamID, &inv.Email, &inv.ExpiresAt)
	if err != nil {
		// an unknown token behaves exactly like an expired one
		return exam.Invitation{}, repo.trapNoRowsErr(err, exam.ErrInvitationExpired, "finding invitation")
	}
	if inv.ExpiresAt.Unix() == 0 {
		inv.ExpiresAt = time.Time{}
	}
	return inv, nil
}

func (repo sessionRepository) CountSessions(ctx context.Context, examID, candidateID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM exam_session WHERE exam_id = $1 AND candidate_id = $2`, examID, candidateID)
	if err != nil {
		return 0, errors.Wrap(err, "counting sessions")
	}
	return count, nil
}

func (repo sessionRepository) GetActiveSession(ctx context.Context, examID, candidateID string) (exam.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM exam_session WHERE exam_id = $1 AND candidate_id = $2 AND status = $3 LIMIT 1`,
		examID, candidateID, exam.StatusActive)
	if err != nil {
		return exam.Session{}, repo.trapNoRowsErr(err, exam.ErrSessionNotFound, "finding active session")
	}
	return repo.unpack(row)
}

func (repo sessionRepository) CreateSession(ctx context.Context, s exam.Session) (exam.Session, error) {
	row, err := repo.pack(s)
	if err != nil {
		return exam.Session{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO exam_session (
			id, exam_id, candidate_id, category, status, navigation_mode, config,
			started_at, deadline, completed_at, submit_reason, violation_count, created_at, updated_at
		) VALUES (
			:id, :exam_id, :candidate_id, :category, :status, :navigation_mode, :config,
			:started_at, :deadline, :completed_at, :submit_reason, :violation_count, :created_at, :updated_at
		)`, row)
	if err != nil {
		return exam.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo sessionRepository) GetSessionByID(ctx context.Context, id string) (exam.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM exam_session WHERE id = $1`, id)
	if err != nil {
		return exam.Session{}, repo.trapNoRowsErr(err, exam.ErrSessionNotFound, "finding session by ID")
	}
	s, err := repo.unpack(row)
	if err != nil {
		return exam.Session{}, err
	}
	if s.Violations, err = repo.queryViolations(ctx, id); err != nil {
		return exam.Session{}, err
	}
	return s, nil
}

func (repo sessionRepository) queryViolations(ctx context.Context, sessionID string) ([]exam.Violation, error) {
	var rows []violationRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM violation WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying violations")
	}

	violations := make([]exam.Violation, 0, len(rows))
	for _, row := range rows {
		v := exam.Violation{
			Type:       exam.ViolationType(row.Type),
			OccurredAt: row.OccurredAt,
		}
		if row.Meta.Valid {
			if err = json.Unmarshal(row.Meta.JSON, &v.Meta); err != nil {
				return nil, errors.Wrap(err, "unmarshaling violation meta")
			}
		}
		violations = append(violations, v)
	}
	return violations, nil
}

func (repo sessionRepository) CloseSession(
	ctx context.Context, id string, st exam.Status, reason exam.SubmitReason, completedAt time.Time,
) (exam.Session, error) {
	var row sessionRow
	err := repo.db.QueryRowxContext(ctx, `
		UPDATE exam_session
		SET status = $2, submit_reason = NULLIF($3, ''), completed_at = $4, updated_at = $4
		WHERE id = $1
		RETURNING *`,
		id, st, reason, completedAt.UTC(),
	).StructScan(&row)
	if err != nil {
		return exam.Session{}, repo.trapNoRowsErr(err, exam.ErrSessionNotFound, "closing session")
	}
	return repo.unpack(row)
}

// AppendViolation inserts the log entry and bumps the running count in one
// transaction so the count always equals the log length.
func (repo sessionRepository) AppendViolation(ctx context.Context, sessionID string, v exam.Violation, count int) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var meta null.JSON
	if len(v.Meta) > 0 {
		b, err := json.Marshal(v.Meta)
		if err != nil {
			return errors.Wrap(err, "marshaling violation meta")
		}
		meta = null.JSONFrom(b)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO violation (session_id, position, type, occurred_at, meta) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, count, v.Type, v.OccurredAt.UTC(), meta)
	if err != nil {
		return errors.Wrap(err, "inserting violation")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE exam_session SET violation_count = $2, updated_at = $3 WHERE id = $1 AND violation_count < $2`,
		sessionID, count, v.OccurredAt.UTC())
	if err != nil {
		return errors.Wrap(err, "updating violation count")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// a concurrent append already advanced the count; keep it monotonic
		return errors.New("stale violation count")
	}

	return errors.Wrap(tx.Commit(), "committing violation")
}

func (repo sessionRepository) FilterOverdueSessions(ctx context.Context, t time.Time) ([]exam.Session, error) {
	var rows []sessionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM exam_session WHERE status = $1 AND deadline IS NOT NULL AND deadline < $2`,
		exam.StatusActive, t.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "filtering overdue sessions")
	}

	sessions := make([]exam.Session, 0, len(rows))
	for _, row := range rows {
		s, err := repo.unpack(row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

package exam

import (
	"errors"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
)

var (
	// access errors
	ErrExamNotFound      = errors.New("exam not found")
	ErrExamNotOpen       = errors.New("exam is not open yet")
	ErrExamClosed        = errors.New("exam is closed")
	ErrInvitationExpired = errors.New("invitation has expired")
	ErrAttemptsExhausted = errors.New("no attempts remaining for this exam")
	ErrConfigRequired    = errors.New("a session configuration is required for this exam")

	// session errors
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionCompleted    = errors.New("session has already been completed")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrSessionNotCompleted = errors.New("session has not been completed")
	ErrSessionExamMismatch = errors.New("session belongs to another exam")
	ErrSubmissionFailed    = errors.New("submission failed; please retry")
	ErrSnapshotUnavailable = errors.New("no live snapshot available")
)

// Category determines monitoring strictness and navigation mode.
type Category string

const (
	CategoryPractice    Category = "practice"
	CategoryTest        Category = "test"
	CategoryRecruitment Category = "recruitment"
	CategoryCompetition Category = "competition"
	CategoryChallenge   Category = "challenge"
)

var Categories = []Category{
	CategoryPractice,
	CategoryTest,
	CategoryRecruitment,
	CategoryCompetition,
	CategoryChallenge,
}

func (c Category) IsValid() bool {
	for _, cat := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// Status is the session lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusExpired   Status = "expired"
)

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	ReasonUser               SubmitReason = "user"
	ReasonTimeExpired        SubmitReason = "time_expired"
	ReasonViolationThreshold SubmitReason = "violation_threshold"
)

// NavigationMode controls per-question navigation during a session.
type NavigationMode string

const (
	NavigationFree   NavigationMode = "free"
	NavigationLinear NavigationMode = "linear"
)

// ViolationType tags an integrity-breach signal.
type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationWindowBlur     ViolationType = "window_blur"
	ViolationCopyAttempt    ViolationType = "copy_attempt"
	ViolationPasteAttempt   ViolationType = "paste_attempt"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
)

// Violation is an immutable, timestamped integrity-breach record.
// It is appended to the session log and never mutated or removed.
type Violation struct {
	Type       ViolationType     `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"` // UTC
	Meta       map[string]string `json:"meta,omitempty"`
}

type Exam struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Category     Category      `json:"category"`
	OwnerEmail   string        `json:"-"` // notified on forced submissions
	TimeLimit    time.Duration `json:"time_limit"` // 0 = untimed
	OpensAt      time.Time     `json:"opens_at"`   // zero = always open
	ClosesAt     time.Time     `json:"closes_at"`  // zero = never closes
	MaxAttempts  int           `json:"max_attempts"` // 0 = unlimited
	Instructions []string      `json:"instructions"`
	CreatedAt    time.Time     `json:"created_at"` // UTC
	UpdatedAt    time.Time     `json:"updated_at"` // UTC
}

// IsOpen reports whether the exam accepts new sessions at time t.
func (e Exam) IsOpen(t time.Time) error {
	if !e.OpensAt.IsZero() && t.Before(e.OpensAt) {
		return ErrExamNotOpen
	}
	if !e.ClosesAt.IsZero() && t.After(e.ClosesAt) {
		return ErrExamClosed
	}
	return nil
}

// Invitation grants access to invitation-only exams (recruitment).
type Invitation struct {
	Token     string    `json:"token"`
	ExamID    string    `json:"exam_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"` // UTC
}

func (inv Invitation) Expired(t time.Time) bool {
	return !inv.ExpiresAt.IsZero() && t.After(inv.ExpiresAt)
}

// StartConfig is supplied by the candidate for categories that allow
// configuring their own attempt (practice, test).
type StartConfig struct {
	QuestionCount    int  `json:"question_count" validate:"required,min=1,max=200"`
	ShuffleQuestions bool `json:"shuffle_questions"`
	ShuffleAnswers   bool `json:"shuffle_answers"`
	TimeLimitSec     int  `json:"time_limit_sec" validate:"omitempty,min=60,max=14400"`
}

func (cfg *StartConfig) Validate(validate *validator.Validate) error {
	return validate.Struct(cfg)
}

// Session identifies one exam attempt. It is owned by the session Service
// for the duration of the attempt and persisted by the Repository, which is
// the source of truth across reloads.
type Session struct {
	ID             string         `json:"id"`
	ExamID         string         `json:"exam_id"`
	CandidateID    string         `json:"candidate_id"`
	Category       Category       `json:"category"`
	Status         Status         `json:"status"`
	NavigationMode NavigationMode `json:"navigation_mode"`
	Config         *StartConfig   `json:"config,omitempty"`
	StartedAt      time.Time      `json:"started_at"`         // UTC
	Deadline       time.Time      `json:"deadline,omitempty"` // zero = untimed
	CompletedAt    time.Time      `json:"completed_at,omitempty"`
	SubmitReason   SubmitReason   `json:"submit_reason,omitempty"`
	ViolationCount int            `json:"violation_count"`
	Violations     []Violation    `json:"violations,omitempty"` // ordered, append-only
	CreatedAt      time.Time      `json:"created_at"`           // UTC
	UpdatedAt      time.Time      `json:"updated_at"`           // UTC
}

func (s Session) IsActive() bool { return s.Status == StatusActive }

func (s Session) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusAbandoned, StatusExpired:
		return true
	}
	return false
}

// Timed reports whether the session runs against a deadline.
func (s Session) Timed() bool { return !s.Deadline.IsZero() }

// Remaining returns the server-computed remaining time at t; 0 when the
// deadline has passed, and 0 for untimed sessions.
func (s Session) Remaining(t time.Time) time.Duration {
	if !s.Timed() {
		return 0
	}
	if rem := s.Deadline.Sub(t); rem > 0 {
		return rem
	}
	return 0
}

// Overdue reports whether a timed session has outlived its deadline.
func (s Session) Overdue(t time.Time) bool {
	return s.Timed() && t.After(s.Deadline)
}

// Result is the scored outcome of a completed session, produced by the
// external scoring collaborator.
type Result struct {
	SessionID   string    `json:"session_id"`
	Score       float64   `json:"score"`
	MaxScore    float64   `json:"max_score"`
	PassMark    float64   `json:"pass_mark,omitempty"`
	Passed      bool      `json:"passed"`
	CompletedAt time.Time `json:"completed_at"`
}

// Snapshot is the hot, non-persisted view of a live session used to
// rehydrate clients quickly after a reload. It always reflects the most
// recent observed integrity signals.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	RemainingSec   int       `json:"remaining_sec"`
	TabVisible     bool      `json:"tab_visible"`
	WindowFocused  bool      `json:"window_focused"`
	Fullscreen     bool      `json:"fullscreen"`
	ViolationCount int       `json:"violation_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StartSession is the request payload for starting a new session.
type StartSession struct {
	InvitationToken string       `json:"invitation_token,omitempty"`
	Config          *StartConfig `json:"config,omitempty"`
}

func (ss *StartSession) Validate(validate *validator.Validate) error {
	ss.InvitationToken = core.CleanString(ss.InvitationToken)
	if ss.Config != nil {
		return ss.Config.Validate(validate)
	}
	return nil
}

var (
	categoryTag  = "examcategory"
	categoryText = "invalid exam category"
)

// InitValidators registers exam-specific validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(categoryTag, func(fl validator.FieldLevel) bool {
		return Category(fl.Field().String()).IsValid()
	})
	core.RegisterCustomTranslation(validate, translator, categoryTag, categoryText)
}

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// ExamSeeder seeds exams and invitations; implemented by the in-memory store.
type ExamSeeder interface {
	PutExam(exam.Exam) exam.Exam
	PutInvitation(exam.Invitation) exam.Invitation
}

// SeededRepository is a session repository that can also be seeded.
type SeededRepository interface {
	exam.Repository
	ExamSeeder
}

// NewTestConfig returns a config with intervals small enough for tests.
func NewTestConfig() *core.Config {
	return &core.Config{
		Env:              "TEST",
		TestMode:         true,
		Build:            "test",
		AppName:          "Mtihani",
		SecretKey:        "test-secret-key",
		DefaultFromEmail: mail.Address{Address: "noreply@localhost"},
		Server: core.ServerConfig{
			APIAddr:            ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Exam: core.ExamConfig{
			SyncInterval:         50 * time.Millisecond,
			FocusPollInterval:    10 * time.Millisecond,
			FullscreenEnterDelay: 5 * time.Millisecond,
			FullscreenRetryDelay: time.Millisecond,
			SubmitRetries:        3,
			SubmitRetryBackoff:   time.Millisecond,
		},
	}
}

func CreateExam(
	t *testing.T,
	seeder ExamSeeder,
	name string,
	cat exam.Category,
	timeLimit time.Duration,
	maxAttempts int,
) exam.Exam {
	t.Helper()

	tstamp := time.Now().UTC()
	ex := exam.Exam{
		ID:          uuid.New().String(),
		Name:        name,
		Category:    cat,
		OwnerEmail:  "owner@mtihani.test",
		TimeLimit:   timeLimit,
		MaxAttempts: maxAttempts,
		Instructions: []string{
			"Read each question carefully.",
			"Do not leave the exam tab.",
		},
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	return seeder.PutExam(ex)
}

func CreateInvitation(t *testing.T, seeder ExamSeeder, ex exam.Exam, email string, expiresAt time.Time) exam.Invitation {
	t.Helper()

	return seeder.PutInvitation(exam.Invitation{
		Token:     uuid.New().String(),
		ExamID:    ex.ID,
		Email:     email,
		ExpiresAt: expiresAt,
	})
}

func CreateSession(
	t *testing.T,
	repo exam.Repository,
	ex exam.Exam,
	candidateID string,
	status exam.Status,
	deadline ...time.Time,
) exam.Session {
	t.Helper()

	now := time.Now().UTC()
	s := exam.Session{
		ID:             uuid.New().String(),
		ExamID:         ex.ID,
		CandidateID:    candidateID,
		Category:       ex.Category,
		Status:         status,
		NavigationMode: exam.PolicyFor(ex.Category).NavigationMode,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(deadline) > 0 {
		s.Deadline = deadline[0].UTC()
	} else if ex.TimeLimit > 0 {
		s.Deadline = now.Add(ex.TimeLimit)
	}
	if status == exam.StatusCompleted {
		s.CompletedAt = now
		s.SubmitReason = exam.ReasonUser
	}

	s, err := repo.CreateSession(context.Background(), s)
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return s
}

// FakeLiveStore is a map-backed exam.LiveStore for tests.
type FakeLiveStore struct {
	mu    sync.Mutex
	snaps map[string]exam.Snapshot
}

var _ exam.LiveStore = (*FakeLiveStore)(nil)

func NewFakeLiveStore() *FakeLiveStore {
	return &FakeLiveStore{snaps: make(map[string]exam.Snapshot)}
}

func (ls *FakeLiveStore) PutSnapshot(_ context.Context, snap exam.Snapshot) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.snaps[snap.SessionID] = snap
	return nil
}

func (ls *FakeLiveStore) GetSnapshot(_ context.Context, sessionID string) (exam.Snapshot, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	snap, ok := ls.snaps[sessionID]
	if !ok {
		return exam.Snapshot{}, exam.ErrSessionNotFound
	}
	return snap, nil
}

func (ls *FakeLiveStore) DeleteSnapshot(_ context.Context, sessionID string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.snaps, sessionID)
	return nil
}

// JSONDiff renders a unified diff of two JSON payloads for failure messages.
func JSONDiff(t *testing.T, want, got []byte) string {
	t.Helper()

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(indentJSON(t, want)),
		B:        difflib.SplitLines(indentJSON(t, got)),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	if err != nil {
		t.Fatalf("JSONDiff() failed: %v", err)
	}
	return diff
}

func indentJSON(t *testing.T, b []byte) string {
	t.Helper()

	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return string(b)
	}
	return buf.String()
}

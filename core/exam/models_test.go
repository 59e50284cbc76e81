package exam

import (
	"testing"
	"time"
)

func TestExam_IsOpen(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		exam    Exam
		wantErr error
	}{
		{"no window is always open", Exam{}, nil},
		{"within window", Exam{OpensAt: now.Add(-time.Hour), ClosesAt: now.Add(time.Hour)}, nil},
		{"not open yet", Exam{OpensAt: now.Add(time.Hour)}, ErrExamNotOpen},
		{"closed", Exam{ClosesAt: now.Add(-time.Hour)}, ErrExamClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.exam.IsOpen(now); err != tt.wantErr {
				t.Errorf("IsOpen() = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_Remaining(t *testing.T) {
	now := time.Now().UTC()

	untimed := Session{}
	if got := untimed.Remaining(now); got != 0 {
		t.Errorf("Remaining() = %v; want 0 for untimed session", got)
	}

	s := Session{Deadline: now.Add(10 * time.Minute)}
	if got := s.Remaining(now); got != 10*time.Minute {
		t.Errorf("Remaining() = %v; want %v", got, 10*time.Minute)
	}
	if got := s.Remaining(now.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining() past deadline = %v; want 0", got)
	}

	if !s.Overdue(now.Add(time.Hour)) {
		t.Error("Overdue() = false; want true past deadline")
	}
	if s.Overdue(now) {
		t.Error("Overdue() = true; want false before deadline")
	}
	if untimed.Overdue(now.Add(time.Hour)) {
		t.Error("Overdue() = true; untimed sessions never expire")
	}
}

func TestSession_IsTerminal(t *testing.T) {
	for st, want := range map[Status]bool{
		StatusPending:   false,
		StatusActive:    false,
		StatusCompleted: true,
		StatusAbandoned: true,
		StatusExpired:   true,
	} {
		if got := (Session{Status: st}).IsTerminal(); got != want {
			t.Errorf("IsTerminal(%s) = %v; want %v", st, got, want)
		}
	}
}

func TestInvitation_Expired(t *testing.T) {
	now := time.Now().UTC()

	if (Invitation{}).Expired(now) {
		t.Error("Expired() = true; want false for invitation without expiry")
	}
	if (Invitation{ExpiresAt: now.Add(time.Hour)}).Expired(now) {
		t.Error("Expired() = true; want false before expiry")
	}
	if !(Invitation{ExpiresAt: now.Add(-time.Hour)}).Expired(now) {
		t.Error("Expired() = false; want true after expiry")
	}
}

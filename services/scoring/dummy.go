package scoringsvc

import (
	"context"
	"sync"

	"github.com/trezcool/mtihani/core/exam"
)

// DummyService is an in-process Scorer for dev and tests. It records every
// CompleteSession call so tests can assert the at-most-once invariant, and
// can be made to fail a configurable number of times.
type DummyService struct {
	mu        sync.Mutex
	completed map[string]int // sessionID -> call count
	failures  map[string]int // sessionID -> remaining failures
	results   map[string]exam.Result
}

var _ exam.Scorer = (*DummyService)(nil)

func NewDummyService() *DummyService {
	return &DummyService{
		completed: make(map[string]int),
		failures:  make(map[string]int),
		results:   make(map[string]exam.Result),
	}
}

func (svc *DummyService) CompleteSession(_ context.Context, sessionID string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if n := svc.failures[sessionID]; n > 0 {
		svc.failures[sessionID] = n - 1
		return exam.ErrSubmissionFailed
	}
	svc.completed[sessionID]++
	return nil
}

func (svc *DummyService) Results(_ context.Context, sessionID string) (exam.Result, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if res, ok := svc.results[sessionID]; ok {
		return res, nil
	}
	return exam.Result{SessionID: sessionID}, nil
}

// CompletedCalls returns how many times CompleteSession ran for a session.
func (svc *DummyService) CompletedCalls(sessionID string) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.completed[sessionID]
}

// FailNext makes the next n CompleteSession calls for a session fail.
func (svc *DummyService) FailNext(sessionID string, n int) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.failures[sessionID] = n
}

// SetResult seeds the result returned for a session.
func (svc *DummyService) SetResult(res exam.Result) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.results[res.SessionID] = res
}

package inmemdb

import (
	"sync"

	"github.com/trezcool/mtihani/core/exam"
)

// DB is an in-memory store for dev and tests. Sessions keep the same
// semantics as the SQL store, including the append-only violation log.
type DB struct {
	exam       *examTable
	invitation *invitationTable
	session    *sessionTable
}

type examTable struct {
	mutex sync.RWMutex
	table map[string]*exam.Exam
}

type invitationTable struct {
	mutex sync.RWMutex
	table map[string]*exam.Invitation
}

type sessionTable struct {
	mutex sync.RWMutex
	table map[string]*exam.Session
}

func NewDB() *DB {
	return &DB{
		exam:       &examTable{table: make(map[string]*exam.Exam)},
		invitation: &invitationTable{table: make(map[string]*exam.Invitation)},
		session:    &sessionTable{table: make(map[string]*exam.Session)},
	}
}

// Reset drops all rows; test helper.
func (db *DB) Reset() {
	db.exam.mutex.Lock()
	db.exam.table = make(map[string]*exam.Exam)
	db.exam.mutex.Unlock()

	db.invitation.mutex.Lock()
	db.invitation.table = make(map[string]*exam.Invitation)
	db.invitation.mutex.Unlock()

	db.session.mutex.Lock()
	db.session.table = make(map[string]*exam.Session)
	db.session.mutex.Unlock()
}

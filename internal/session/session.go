// Package session implements the per-puzzle Session record (§3) and the
// node-wide session table. A Session is created either by the coordinator
// on HTTP /solve, or by a peer on StoreSudoku receipt, and from then on is
// mutated by both the coordinator's scheduler and the worker's fill loop —
// hence it lives in its own package that neither depends on.
package session

import (
	"net/netip"
	"sync"

	"github.com/RGarrido03/CD-Project/internal/grid"
)

// JobStatus is the state of one sub-square's job within a session.
type JobStatus int

const (
	Pending JobStatus = iota
	InProgress
	Completed
)

func (s JobStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Job is the unit of work representing one sub-square's completion.
// Assignee is unset while Status is Pending and set while it is
// InProgress; marking a job Completed leaves Assignee as it was.
type Job struct {
	Status   JobStatus
	Assignee netip.AddrPort
}

// Session is a specific solve attempt, identified by a UUID.
type Session struct {
	mu sync.Mutex

	ID          string
	Grid        grid.Grid
	InitialGrid grid.Grid
	Jobs        [9]Job
	Origin      netip.AddrPort
}

// New creates a session with all nine jobs pending.
func New(id string, g grid.Grid, origin netip.AddrPort) *Session {
	return &Session{
		ID:          id,
		Grid:        g,
		InitialGrid: g,
		Origin:      origin,
	}
}

// WithGrid replaces the session's authoritative grid and job table
// wholesale, used when a worker stores/overwrites its local mirror on
// WorkRequest, or when SudokuSolved arrives.
func (s *Session) WithGrid(g grid.Grid, jobs [9]Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Grid = g
	s.Jobs = jobs
}

// SnapshotGrid returns a copy of the authoritative grid.
func (s *Session) SnapshotGrid() grid.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Grid
}

// SnapshotJobs returns a copy of the job table.
func (s *Session) SnapshotJobs() [9]Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Jobs
}

// MergeSubSquare atomically writes sq into sub-square index s of the
// authoritative grid and marks that job Completed, preserving whatever
// assignee it already had. This is the operation that must be atomic with
// respect to completion detection (§5): a reader that takes the lock after
// this call either sees all 9 cells of sq and the Completed status, or
// none of it.
func (s *Session) MergeSubSquare(square int, sq [3][3]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Grid = grid.ReplaceSubSquare(square, sq, s.Grid)
	s.Jobs[square].Status = Completed
}

// MarkCompleted marks job square Completed without touching the grid
// (used when the scheduler notices a sub-square already has zero empty
// cells).
func (s *Session) MarkCompleted(square int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs[square].Status = Completed
}

// Assign marks job square InProgress with the given assignee. It returns
// false if the job was not Pending (caller asked for an invalid
// transition).
func (s *Session) Assign(square int, assignee netip.AddrPort) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Jobs[square].Status != Pending {
		return false
	}
	s.Jobs[square].Status = InProgress
	s.Jobs[square].Assignee = assignee
	return true
}

// RevertIfAssignedTo resets job square back to Pending if it is currently
// InProgress and assigned to addr. Returns true if it changed anything.
func (s *Session) RevertIfAssignedTo(square int, addr netip.AddrPort) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &s.Jobs[square]
	if j.Status == InProgress && j.Assignee == addr {
		j.Status = Pending
		j.Assignee = netip.AddrPort{}
		return true
	}
	return false
}

// AllCompleted reports whether every job is Completed.
func (s *Session) AllCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.Jobs {
		if j.Status != Completed {
			return false
		}
	}
	return true
}

// JobStatus returns the current status of job square.
func (s *Session) JobStatus(square int) JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Jobs[square].Status
}

// Store is the node-wide session table, keyed by session ID.
type Store struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*Session)}
}

func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byID[s.ID] = s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	return s, ok
}

// FindByInitialGrid returns the first session whose InitialGrid equals g,
// used for §4.5 step 1's duplicate-solve detection.
func (st *Store) FindByInitialGrid(g grid.Grid) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, s := range st.byID {
		if s.InitialGrid == g {
			return s, true
		}
	}
	return nil, false
}

// All returns every session in the store.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.byID))
	for _, s := range st.byID {
		out = append(out, s)
	}
	return out
}

// Package scheduler implements the coordinator role (§4.5): creating a
// session for a newly submitted puzzle, assigning its nine sub-square jobs
// to free nodes (this node itself only when it has no remote peers),
// short-circuiting via the
// fingerprint cache, and detecting completion.
package scheduler

import (
	"context"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/RGarrido03/CD-Project/internal/fingerprint"
	"github.com/RGarrido03/CD-Project/internal/grid"
	"github.com/RGarrido03/CD-Project/internal/peertable"
	"github.com/RGarrido03/CD-Project/internal/session"
	"github.com/RGarrido03/CD-Project/internal/wire"
	"github.com/RGarrido03/CD-Project/internal/worker"
)

const assignTick = 100 * time.Millisecond

// Scheduler owns the assignment loop for every session this node
// originates, and updates the shared session store on messages belonging
// to sessions it does not originate.
type Scheduler struct {
	log      *slog.Logger
	self     netip.AddrPort
	peers    *peertable.Table
	store    *session.Store
	fp       *fingerprint.Cache
	handicap time.Duration

	solved      *atomic.Int64
	validations *atomic.Int64

	send worker.Send

	// baseCtx bounds the lifetime of assignment loops and locally
	// executed jobs; it outlives any single /solve request, since other
	// peers keep working on a session regardless of whether the
	// original caller is still waiting.
	baseCtx context.Context

	mu         sync.Mutex
	waiters    map[string]chan solveResult
	solvedSeen map[string]bool
}

// solveResult is what a finished session delivers to whoever is waiting
// on it. OK is false when the completed grid failed check() (§7): the
// caller gets a null result, solved is not incremented, and the
// fingerprint cache is not populated, but the session record stays in
// the store.
type solveResult struct {
	Grid grid.Grid
	OK   bool
}

func New(
	baseCtx context.Context,
	log *slog.Logger,
	self netip.AddrPort,
	peers *peertable.Table,
	store *session.Store,
	fp *fingerprint.Cache,
	handicap time.Duration,
	solved, validations *atomic.Int64,
	send worker.Send,
) *Scheduler {
	return &Scheduler{
		baseCtx:     baseCtx,
		log:         log,
		self:        self,
		peers:       peers,
		store:       store,
		fp:          fp,
		handicap:    handicap,
		solved:      solved,
		validations: validations,
		send:        send,
		waiters:     make(map[string]chan solveResult),
		solvedSeen:  make(map[string]bool),
	}
}

// Solve is the coordinator entrypoint for a freshly submitted puzzle
// (§4.5 step 1). If an identical puzzle is already being solved, it waits
// on that existing session instead of starting a duplicate one. It blocks
// until the puzzle is solved (or fails validation) or ctx is canceled;
// the solve itself keeps running in the background regardless of which
// happens first. ok is false exactly when the completed grid failed
// check() — the HTTP layer turns that into a null "sudoku" field (§6).
func (s *Scheduler) Solve(ctx context.Context, g grid.Grid) (result grid.Grid, ok bool, err error) {
	if existing, found := s.store.FindByInitialGrid(g); found {
		if existing.AllCompleted() {
			return checkedResult(existing.SnapshotGrid())
		}
		return s.await(ctx, existing.ID)
	}

	id := uuid.NewString()
	sess := session.New(id, g, s.self)
	s.store.Put(sess)
	s.registerWaiter(id)

	s.peers.Broadcast(wire.MessageStoreSudoku(id, g, s.self))

	go s.runAssignmentLoop(sess)

	return s.await(ctx, id)
}

func checkedResult(g grid.Grid) (grid.Grid, bool, error) {
	if !grid.Check(g) {
		return grid.Grid{}, false, nil
	}
	return g, true, nil
}

// registerWaiter ensures a waiter channel exists for id. It must be called
// before any goroutine that might call deliver(id, ...) starts, so that
// delivery can never race ahead of a caller's await.
func (s *Scheduler) registerWaiter(id string) chan solveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.waiters[id]
	if !ok {
		ch = make(chan solveResult, 1)
		s.waiters[id] = ch
	}
	return ch
}

func (s *Scheduler) await(ctx context.Context, id string) (grid.Grid, bool, error) {
	ch := s.registerWaiter(id)

	select {
	case r := <-ch:
		// Put the result back so any other caller waiting on the same
		// session receives it too.
		select {
		case ch <- r:
		default:
		}
		return r.Grid, r.OK, nil
	case <-ctx.Done():
		return grid.Grid{}, false, ctx.Err()
	}
}

func (s *Scheduler) runAssignmentLoop(sess *session.Session) {
	ticker := time.NewTicker(assignTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			if sess.AllCompleted() {
				s.finish(sess)
				return
			}
			s.assignPending(sess)
		}
	}
}

type pendingJob struct {
	square int
	zeros  int
}

// assignPending implements one tick of the assignment loop: it sorts
// pending jobs by ascending empty-cell count (§4.5 step 2), tries the
// fingerprint cache first, and otherwise hands the job to the first free
// node, which may be this node itself.
func (s *Scheduler) assignPending(sess *session.Session) {
	jobs := sess.SnapshotJobs()
	g := sess.SnapshotGrid()

	var pending []pendingJob
	busy := make(map[netip.AddrPort]bool)
	for sq, j := range jobs {
		switch j.Status {
		case session.InProgress:
			busy[j.Assignee] = true
		case session.Pending:
			zeros := grid.CountZeros(sq, g)
			if zeros == 0 {
				sess.MarkCompleted(sq)
				continue
			}
			pending = append(pending, pendingJob{square: sq, zeros: zeros})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].zeros < pending[j].zeros })

	// Only the first successful free-node assignment in this tick is sent;
	// the fingerprint-cache shortcut isn't an assignment and doesn't count
	// (§4.5 step 4c: "break out of the inner loop (one assignment per
	// tick)").
	for _, p := range pending {
		before := grid.ExtractSubSquare(p.square, g)
		if after, ok := s.fp.Lookup(before); ok {
			sess.MergeSubSquare(p.square, after)
			continue
		}

		assignee, isSelf, ok := s.pickFreeNode(busy)
		if !ok {
			continue
		}
		if !sess.Assign(p.square, assignee) {
			continue
		}

		if isSelf {
			s.runLocal(sess, p.square, g)
		} else {
			wireJobs := worker.JobsToWire(sess.SnapshotJobs())
			s.send(assignee, wire.MessageWorkRequest(sess.ID, g, wireJobs, p.square))
		}
		break
	}
}

// pickFreeNode implements the "self as a peer" contract from the design
// notes: the free-node set excludes self, unless there are no remote
// peers at all, in which case the coordinator executes jobs inline.
func (s *Scheduler) pickFreeNode(busy map[netip.AddrPort]bool) (addr netip.AddrPort, isSelf bool, ok bool) {
	peers := s.peers.Addresses()
	if len(peers) == 0 {
		return s.self, true, true
	}
	for _, addr := range peers {
		if !busy[addr] {
			return addr, false, true
		}
	}
	return netip.AddrPort{}, false, false
}

// runLocal executes a job this node assigned to itself, using the exact
// same fill loop a remote worker uses.
func (s *Scheduler) runLocal(sess *session.Session, square int, upstream grid.Grid) {
	go func() {
		result, ok := worker.Run(s.baseCtx, worker.Options{
			Square:      square,
			Upstream:    upstream,
			Handicap:    s.handicap,
			CurrentGrid: sess.SnapshotGrid,
			StillPending: func() bool {
				return sess.JobStatus(square) != session.Completed
			},
			OnValidation: func() { s.validations.Add(1) },
		})
		if !ok {
			sess.RevertIfAssignedTo(square, s.self)
			return
		}
		sess.MergeSubSquare(square, result)
	}()
}

// finish runs once a session's 9 jobs are all Completed (§4.5 steps 6-9).
// A failed check() does not retry: per the error-handling design, the
// coordinator returns a null result to the waiting caller and leaves the
// session in the store exactly as it is, without touching solved or the
// fingerprint cache.
func (s *Scheduler) finish(sess *session.Session) {
	final := sess.SnapshotGrid()

	if !grid.Check(final) {
		s.log.Warn("session completed but failed validation", slog.String("session", sess.ID))
		s.deliverFailure(sess.ID)
		return
	}

	if s.markSolvedOnce(sess.ID) {
		s.solved.Add(1)
	}
	fingerprint.PutSession(s.fp, sess.InitialGrid, final)
	s.peers.Broadcast(wire.MessageSudokuSolved(sess.ID, final, s.self))
	s.deliver(sess.ID, final)
}

func (s *Scheduler) markSolvedOnce(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.solvedSeen[id] {
		return false
	}
	s.solvedSeen[id] = true
	return true
}

func (s *Scheduler) deliver(id string, g grid.Grid) {
	s.mu.Lock()
	ch, ok := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	if ok {
		ch <- solveResult{Grid: g, OK: true}
	}
}

func (s *Scheduler) deliverFailure(id string) {
	s.mu.Lock()
	ch, ok := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	if ok {
		ch <- solveResult{OK: false}
	}
}

// HandleStoreSudoku registers a session this node did not originate,
// mirrored from a StoreSudoku broadcast (§4.5 step 1, peer side). It does
// nothing if the session is already known — which includes the case
// where this node is itself the origin.
func (s *Scheduler) HandleStoreSudoku(from netip.AddrPort, id string, g grid.Grid) {
	if _, ok := s.store.Get(id); ok {
		return
	}
	s.store.Put(session.New(id, g, from))
}

// HandleWorkComplete merges a remote peer's finished sub-square into the
// local copy of the session (§4.6 step 6) and updates that peer's
// validations count in the peer table. An unknown session ID is logged
// and ignored, per the error-handling design for stale broadcasts.
func (s *Scheduler) HandleWorkComplete(from netip.AddrPort, id string, g grid.Grid, square int, validations int64) {
	sess, ok := s.store.Get(id)
	if !ok {
		s.log.Debug("work complete for unknown session", slog.String("session", id))
		return
	}

	sq := grid.ExtractSubSquare(square, g)
	sess.MergeSubSquare(square, sq)

	if e, ok := s.peers.Get(from); ok {
		e.SetValidations(validations)
	}
}

// HandleSudokuSolved records a session as solved when another node
// broadcasts the final grid (§4.6 step 8, receiver side). It is
// idempotent: a node only ever increments its own solved counter once per
// session, no matter how many times the broadcast reaches it.
func (s *Scheduler) HandleSudokuSolved(id string, g grid.Grid, origin netip.AddrPort) {
	sess, ok := s.store.Get(id)
	if !ok {
		sess = session.New(id, g, origin)
		s.store.Put(sess)
	}

	var allDone [9]session.Job
	for i := range allDone {
		allDone[i].Status = session.Completed
	}
	sess.WithGrid(g, allDone)

	if s.markSolvedOnce(id) {
		s.solved.Add(1)
	}
	fingerprint.PutSession(s.fp, sess.InitialGrid, g)
	s.deliver(id, g)
}

// ReassignFromDeadPeer reverts every in-progress job assigned to addr,
// across every known session, back to Pending so the next assignment
// tick can hand it to someone else (§4.4, dead-peer detection feeding
// back into scheduling).
func (s *Scheduler) ReassignFromDeadPeer(addr netip.AddrPort) {
	for _, sess := range s.store.All() {
		for sq := 0; sq < 9; sq++ {
			sess.RevertIfAssignedTo(sq, addr)
		}
	}
}

// Stats returns the node's solved-puzzle and validation-attempt counters,
// for the /stats HTTP endpoint and the JoinOtherResponse handshake.
func (s *Scheduler) Stats() (solved, validations int64) {
	return s.solved.Load(), s.validations.Load()
}

// Package worker implements the fill loop that completes one sub-square
// (§4.6) and the handler that reacts to an incoming WorkRequest. The fill
// loop itself is a pure function of a grid snapshot so the scheduler can
// also call it directly when it assigns a job to itself, with no network
// involved at all.
package worker

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/RGarrido03/CD-Project/internal/grid"
	"github.com/RGarrido03/CD-Project/internal/session"
	"github.com/RGarrido03/CD-Project/internal/wire"
)

// Options configures one call to Run.
type Options struct {
	Square   int
	Upstream grid.Grid
	Handicap time.Duration

	// StillPending is polled before every single-cell fill; when it
	// returns false the job has been completed or superseded elsewhere
	// (§4.6 step 5) and Run abandons silently.
	StillPending func() bool

	// CurrentGrid, if set, is consulted before every single-cell fill to
	// detect divergence: if a sibling sub-square's completion has since
	// mutated a row or column this job depends on, the job abandons
	// silently rather than reconciling against the new context (§4.6
	// step 5). Run never emits a cancel message; this is the only
	// divergence-based abandonment path, alongside StillPending.
	CurrentGrid func() grid.Grid

	// OnValidation is called once per update_square attempt, win or
	// lose, so the caller can maintain its per-node validations counter.
	OnValidation func()
}

// Run fills sub-square opts.Square one cell at a time, starting from
// opts.Upstream, pacing itself by opts.Handicap divided by the number of
// cells remaining. It returns the completed sub-square and true on
// success, or false if it abandoned (StillPending went false, the context
// was canceled, or the randomized filler exhausted its attempts).
func Run(ctx context.Context, opts Options) ([3][3]int, bool) {
	ourSquare := grid.ExtractSubSquare(opts.Square, opts.Upstream)

	for {
		if opts.StillPending != nil && !opts.StillPending() {
			return [3][3]int{}, false
		}
		select {
		case <-ctx.Done():
			return [3][3]int{}, false
		default:
		}

		if opts.CurrentGrid != nil {
			if grid.Diverged(opts.Square, opts.Upstream, opts.CurrentGrid()) {
				return [3][3]int{}, false
			}
		}

		working := grid.ReplaceSubSquare(opts.Square, ourSquare, opts.Upstream)

		updated, done, err := grid.UpdateSquare(opts.Square, working)
		if opts.OnValidation != nil {
			opts.OnValidation()
		}
		if err != nil {
			return [3][3]int{}, false
		}
		ourSquare = grid.ExtractSubSquare(opts.Square, updated)

		if done {
			return ourSquare, true
		}

		zeros := grid.CountZeros(opts.Square, updated)
		pace := opts.Handicap / time.Duration(zeros+1)
		if pace <= 0 {
			continue
		}

		t := time.NewTimer(pace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return [3][3]int{}, false
		}
	}
}

// Send abstracts delivering a message to a peer, so Handler does not need
// to know about the peer table directly.
type Send func(to netip.AddrPort, msg *wire.Message)

// Handler reacts to inbound WorkRequest messages by running the fill loop
// and reporting back with WorkAck then WorkComplete.
type Handler struct {
	log      *slog.Logger
	self     netip.AddrPort
	handicap time.Duration
	store    *session.Store
	send     Send

	validations *atomic.Int64
}

func NewHandler(log *slog.Logger, self netip.AddrPort, handicap time.Duration, store *session.Store, validations *atomic.Int64, send Send) *Handler {
	return &Handler{
		log:         log,
		self:        self,
		handicap:    handicap,
		store:       store,
		validations: validations,
		send:        send,
	}
}

// HandleWorkRequest processes a WorkRequest from from: it mirrors the
// session locally if needed, sends WorkAck immediately, then runs the fill
// loop in the background and broadcasts WorkComplete to every known peer
// on success (§4.6 steps 3-6).
func (h *Handler) HandleWorkRequest(ctx context.Context, from netip.AddrPort, id string, g grid.Grid, wireJobs [9]wire.JobWire, square int, peers []netip.AddrPort) {
	sess, ok := h.store.Get(id)
	if !ok {
		sess = session.New(id, g, from)
		h.store.Put(sess)
	}
	sess.WithGrid(g, jobsFromWire(wireJobs))
	sess.Assign(square, h.self)

	h.send(from, wire.MessageWorkAck(id, square))

	upstream := sess.SnapshotGrid()

	go func() {
		result, ok := Run(ctx, Options{
			Square:       square,
			Upstream:     upstream,
			Handicap:     h.handicap,
			CurrentGrid:  sess.SnapshotGrid,
			StillPending: func() bool {
				return sess.JobStatus(square) != session.Completed
			},
			OnValidation: func() { h.validations.Add(1) },
		})
		if !ok {
			h.log.Debug("worker abandoned job", slog.String("session", id), slog.Int("square", square))
			return
		}

		sess.MergeSubSquare(square, result)

		finalGrid := sess.SnapshotGrid()
		msg := wire.MessageWorkComplete(id, finalGrid, square, h.validations.Load())
		for _, p := range peers {
			h.send(p, msg)
		}
	}()
}

func jobsFromWire(in [9]wire.JobWire) [9]session.Job {
	var out [9]session.Job
	for i, j := range in {
		out[i].Status = session.JobStatus(j.Status)
		if j.Assignee != nil {
			out[i].Assignee = *j.Assignee
		}
	}
	return out
}

// JobsToWire converts a session's job table to its wire representation.
func JobsToWire(in [9]session.Job) [9]wire.JobWire {
	var out [9]wire.JobWire
	for i, j := range in {
		out[i].Status = int(j.Status)
		if j.Status == session.InProgress {
			a := j.Assignee
			out[i].Assignee = &a
		}
	}
	return out
}

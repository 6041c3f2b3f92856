// Package node glues membership, the event loop, the coordinator
// scheduler, and the worker handler into one running process (§4.3,
// §4.7, §5). It is the only place that holds the node-wide counters.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RGarrido03/CD-Project/internal/fingerprint"
	"github.com/RGarrido03/CD-Project/internal/grid"
	"github.com/RGarrido03/CD-Project/internal/peertable"
	"github.com/RGarrido03/CD-Project/internal/scheduler"
	"github.com/RGarrido03/CD-Project/internal/session"
	"github.com/RGarrido03/CD-Project/internal/wire"
	"github.com/RGarrido03/CD-Project/internal/worker"
	"github.com/RGarrido03/CD-Project/pkg/retry"
)

const (
	heartbeatInterval = 1 * time.Second
	sweepInterval     = 1 * time.Second
	deadPeerThreshold = 3 * time.Second
	inboxBuffer       = 256
)

// Config assembles the node-level settings sourced from CLI flags.
type Config struct {
	// Self is this node's advertised P2P address, sent in JoinParent and
	// JoinOther so peers know how to reach it back.
	Self netip.AddrPort
	// ListenAddr is the local TCP address to bind, e.g. ":7000".
	ListenAddr string
	// Parent is the optional bootstrap peer address.
	Parent *netip.AddrPort
	// Handicap is the per-validation sleep divisor base (§6).
	Handicap time.Duration
}

// Node is one running P2P Sudoku solver instance.
type Node struct {
	log  *slog.Logger
	cfg  Config
	self netip.AddrPort

	peers *peertable.Table
	store *session.Store
	fp    *fingerprint.Cache

	scheduler *scheduler.Scheduler
	worker    *worker.Handler

	solved      atomic.Int64
	validations atomic.Int64

	inbox chan peertable.Inbound
}

func New(log *slog.Logger, cfg Config) *Node {
	return &Node{
		log:   log,
		cfg:   cfg,
		self:  cfg.Self,
		peers: peertable.NewTable(log),
		store: session.NewStore(),
		fp:    fingerprint.New(),
		inbox: make(chan peertable.Inbound, inboxBuffer),
	}
}

// Run starts the listener, the dispatcher, the heartbeat/sweep timers, and
// (if configured) the parent bootstrap, and blocks until ctx is canceled
// or one of those tasks fails.
func (n *Node) Run(ctx context.Context) error {
	n.scheduler = scheduler.New(ctx, n.log, n.self, n.peers, n.store, n.fp, n.cfg.Handicap, &n.solved, &n.validations, n.sendTo)
	n.worker = worker.NewHandler(n.log, n.self, n.cfg.Handicap, n.store, &n.validations, n.sendTo)

	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("node: listen on %s: %w", n.cfg.ListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error { return n.acceptLoop(gctx, ln) })
	g.Go(func() error { return n.dispatchLoop(gctx) })
	g.Go(func() error { return n.heartbeatLoop(gctx) })
	g.Go(func() error { return n.sweepLoop(gctx) })

	if n.cfg.Parent != nil {
		g.Go(func() error { return n.joinParent(gctx, *n.cfg.Parent) })
	}

	err = g.Wait()
	n.peers.CloseAll()
	return err
}

// sendTo is the Send implementation handed to the scheduler and worker
// handler: it looks the peer up in the table and enqueues the message on
// its outbound queue.
func (n *Node) sendTo(to netip.AddrPort, msg *wire.Message) {
	e, ok := n.peers.Get(to)
	if !ok {
		n.log.Debug("dropping message to unknown peer", slog.String("peer", to.String()), slog.String("tag", msg.Tag.String()))
		return
	}
	if !e.Send(msg) {
		n.log.Warn("dropping message, peer queue full", slog.String("peer", to.String()), slog.String("tag", msg.Tag.String()))
	}
}

// acceptLoop accepts inbound TCP connections. A freshly accepted
// connection is not yet a peer-table entry (§4.7): it is read once,
// synchronously, to learn the sender's advertised address from its
// JoinParent or JoinOther handshake, and only then adopted.
func (n *Node) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("node: accept: %w", err)
		}
		go n.handleHandshake(ctx, conn)
	}
}

func (n *Node) handleHandshake(ctx context.Context, conn net.Conn) {
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		n.log.Debug("handshake read failed", slog.String("err", err.Error()))
		_ = conn.Close()
		return
	}

	switch msg.Tag {
	case wire.TagJoinParent:
		sender, ok := msg.ParseJoinParent()
		if !ok {
			_ = conn.Close()
			return
		}
		// Peers known before the newcomer is registered (§4.3 step 2).
		before := n.peers.Addresses()
		n.peers.Adopt(ctx, sender, conn, n.inbox, n.onPeerDead)
		n.sendTo(sender, wire.MessageJoinParentResponse(before))

	case wire.TagJoinOther:
		sender, ok := msg.ParseJoinOther()
		if !ok {
			_ = conn.Close()
			return
		}
		n.peers.Adopt(ctx, sender, conn, n.inbox, n.onPeerDead)
		solved, validations := n.scheduler.Stats()
		n.sendTo(sender, wire.MessageJoinOtherResponse(solved, validations))

	default:
		n.log.Warn("first message on new connection was not a join", slog.String("tag", msg.Tag.String()))
		_ = conn.Close()
	}
}

// dispatchLoop is the single readiness demultiplexer (§4.7): every
// message from every adopted peer is funneled through n.inbox and handled
// here, one at a time.
func (n *Node) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-n.inbox:
			n.handle(ctx, in.From, in.Msg)
		}
	}
}

func (n *Node) handle(ctx context.Context, from netip.AddrPort, msg *wire.Message) {
	switch msg.Tag {
	case wire.TagKeepAlive:
		// peertable.Entry.Touch already ran on receipt; nothing else to do.

	case wire.TagStoreSudoku:
		id, g, origin, ok := msg.ParseStoreSudoku()
		if !ok {
			n.log.Warn("malformed StoreSudoku", slog.String("from", from.String()))
			return
		}
		n.scheduler.HandleStoreSudoku(origin, id, grid.Grid(g))

	case wire.TagWorkRequest:
		id, g, jobs, square, ok := msg.ParseWorkRequest()
		if !ok {
			n.log.Warn("malformed WorkRequest", slog.String("from", from.String()))
			return
		}
		n.worker.HandleWorkRequest(ctx, from, id, grid.Grid(g), jobs, square, n.peers.Addresses())

	case wire.TagWorkAck:
		_, _, ok := msg.ParseWorkAck()
		if !ok {
			n.log.Warn("malformed WorkAck", slog.String("from", from.String()))
		}

	case wire.TagWorkComplete:
		id, g, square, validations, ok := msg.ParseWorkComplete()
		if !ok {
			n.log.Warn("malformed WorkComplete", slog.String("from", from.String()))
			return
		}
		n.scheduler.HandleWorkComplete(from, id, grid.Grid(g), square, validations)

	case wire.TagSudokuSolved:
		id, g, origin, ok := msg.ParseSudokuSolved()
		if !ok {
			n.log.Warn("malformed SudokuSolved", slog.String("from", from.String()))
			return
		}
		n.scheduler.HandleSudokuSolved(id, grid.Grid(g), origin)

	default:
		n.log.Debug("unexpected message on an established connection", slog.String("from", from.String()), slog.String("tag", msg.Tag.String()))
	}
}

func (n *Node) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.peers.SendHeartbeats()
		}
	}
}

func (n *Node) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.peers.SweepDead(deadPeerThreshold, n.onPeerDead)
		}
	}
}

// onPeerDead implements the reassignment hook (§4.4/§4.5): every job
// assigned to the dead peer, across every session, reverts to Pending.
func (n *Node) onPeerDead(addr netip.AddrPort) {
	n.scheduler.ReassignFromDeadPeer(addr)
}

// joinParent bootstraps through the configured parent address (§4.3 step
// 1), retrying with infinite exponential backoff until it succeeds.
func (n *Node) joinParent(ctx context.Context, parent netip.AddrPort) error {
	onRetry := retry.WithOnRetry(func(attempt int, err error, nextDelay time.Duration) {
		n.log.Info("retrying parent join",
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()),
			slog.Duration("next_delay", nextDelay))
	})

	return retry.Do(ctx, func(ctx context.Context) error {
		conn, err := net.Dial("tcp", parent.String())
		if err != nil {
			return fmt.Errorf("dial parent: %w", err)
		}

		if err := wire.WriteMessage(conn, wire.MessageJoinParent(n.self)); err != nil {
			_ = conn.Close()
			return fmt.Errorf("send JoinParent: %w", err)
		}

		resp, err := wire.ReadMessage(conn)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("read JoinParentResponse: %w", err)
		}
		peers, ok := resp.ParseJoinParentResponse()
		if !ok {
			_ = conn.Close()
			return fmt.Errorf("unexpected reply to JoinParent: tag %s", resp.Tag)
		}

		n.peers.Adopt(ctx, parent, conn, n.inbox, n.onPeerDead)

		for _, addr := range peers {
			if addr == n.self {
				continue
			}
			go n.joinOther(ctx, addr)
		}
		return nil
	}, onRetry)
}

// joinOther connects to a peer learned from a JoinParentResponse and
// performs the non-bootstrap handshake (§4.3 steps 3-5).
func (n *Node) joinOther(ctx context.Context, addr netip.AddrPort) {
	if n.peers.Has(addr) {
		return
	}

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		n.log.Debug("joinOther dial failed", slog.String("peer", addr.String()), slog.String("err", err.Error()))
		return
	}

	if err := wire.WriteMessage(conn, wire.MessageJoinOther(n.self)); err != nil {
		_ = conn.Close()
		return
	}

	resp, err := wire.ReadMessage(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	_, validations, ok := resp.ParseJoinOtherResponse()
	if !ok {
		_ = conn.Close()
		return
	}

	entry := n.peers.Adopt(ctx, addr, conn, n.inbox, n.onPeerDead)
	entry.SetValidations(validations)
}

// Solve submits a puzzle to this node as coordinator (§4.5).
func (n *Node) Solve(ctx context.Context, g grid.Grid) (grid.Grid, bool, error) {
	return n.scheduler.Solve(ctx, g)
}

// StatNode is one row of the /stats response (§6).
type StatNode struct {
	Address     string
	Validations int64
}

// Stats returns this node's solved count, the network-wide validations
// sum (this node plus every mirrored peer), and the per-node breakdown.
func (n *Node) Stats() (solved, validationsSum int64, nodes []StatNode) {
	solved, mine := n.scheduler.Stats()
	validationsSum = mine
	nodes = append(nodes, StatNode{Address: n.self.String(), Validations: mine})

	for _, e := range n.peers.All() {
		validationsSum += e.Validations()
		nodes = append(nodes, StatNode{Address: e.Addr.String(), Validations: e.Validations()})
	}
	return solved, validationsSum, nodes
}

// Network returns, for every known address (self plus every peer), the
// list of every other known address (§6) — in a fully converged overlay
// every list equals (all addresses) minus that address.
func (n *Node) Network() map[string][]string {
	addrs := append([]netip.AddrPort{n.self}, n.peers.Addresses()...)

	out := make(map[string][]string, len(addrs))
	for _, a := range addrs {
		var others []string
		for _, b := range addrs {
			if b != a {
				others = append(others, b.String())
			}
		}
		out[a.String()] = others
	}
	return out
}

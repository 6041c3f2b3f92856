// Package peertable implements the peer table and keep-alive/dead-peer
// detection described in §4.3/§4.4 of the protocol: the set of known
// peers, each with a live transport handle, a mirrored validations
// counter, and a last-heard timestamp.
package peertable

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RGarrido03/CD-Project/internal/wire"
)

const outboundQueueLen = 32

// Entry is one peer's connection state. Validations and the last-heard
// timestamp are updated far more often than the entry is structurally
// added or removed, so they use atomics rather than the table's mutex —
// the table's lock only ever needs to be held for the map mutation itself.
type Entry struct {
	Addr netip.AddrPort

	conn net.Conn
	outq chan *wire.Message

	validations atomic.Int64
	lastHeardAt atomic.Int64 // unix nanoseconds
}

func newEntry(addr netip.AddrPort, conn net.Conn) *Entry {
	e := &Entry{
		Addr: addr,
		conn: conn,
		outq: make(chan *wire.Message, outboundQueueLen),
	}
	e.Touch()
	return e
}

// Touch refreshes the entry's last-heard timestamp to now. Per §4.4, any
// message received from a peer refreshes it, not just KeepAlive.
func (e *Entry) Touch() {
	e.lastHeardAt.Store(time.Now().UnixNano())
}

// Idle reports how long it has been since the peer was last heard from.
func (e *Entry) Idle() time.Duration {
	return time.Since(time.Unix(0, e.lastHeardAt.Load()))
}

func (e *Entry) Validations() int64 { return e.validations.Load() }

func (e *Entry) SetValidations(v int64) { e.validations.Store(v) }

// Send enqueues msg for delivery without blocking. If the peer's outbound
// queue is full, the message is dropped and false is returned; callers
// should log this rather than letting a slow peer stall the caller.
func (e *Entry) Send(msg *wire.Message) bool {
	select {
	case e.outq <- msg:
		return true
	default:
		return false
	}
}

func (e *Entry) close() error {
	close(e.outq)
	return e.conn.Close()
}

// readLoop decodes framed messages from the peer and forwards each to
// inbox. It returns when the connection is closed (by either side) or ctx
// is canceled. This is the only goroutine that reads from conn.
func (e *Entry) readLoop(ctx context.Context, log *slog.Logger, inbox chan<- Inbound) error {
	for {
		msg, err := wire.ReadMessage(e.conn)
		if err != nil {
			return err
		}

		e.Touch()

		select {
		case inbox <- Inbound{From: e.Addr, Msg: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeLoop drains the peer's outbound queue onto conn. It returns when
// the queue is closed or ctx is canceled.
func (e *Entry) writeLoop(ctx context.Context, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-e.outq:
			if !ok {
				return nil
			}
			if err := wire.WriteMessage(e.conn, msg); err != nil {
				log.Warn("peer write failed", slog.String("peer", e.Addr.String()), slog.String("err", err.Error()))
				return err
			}
		}
	}
}

// Inbound is one decoded message together with the peer address it arrived
// from, fed into the node's single dispatch channel.
type Inbound struct {
	From netip.AddrPort
	Msg  *wire.Message
}

// Table is the set of known peers, safe for concurrent use.
type Table struct {
	log *slog.Logger

	mu    sync.RWMutex
	peers map[netip.AddrPort]*Entry
}

func NewTable(log *slog.Logger) *Table {
	return &Table{
		log:   log,
		peers: make(map[netip.AddrPort]*Entry),
	}
}

// Adopt registers conn under addr and starts its read/write loops, feeding
// decoded messages into inbox. When the connection dies (remote close,
// malformed frame, ctx cancellation) while the entry is still in the
// table, the entry is removed and closed and onDead is invoked once. An
// entry already removed by SweepDead gets its single onDead call there;
// one removed by CloseAll or replaced by a later Adopt gets none.
func (t *Table) Adopt(ctx context.Context, addr netip.AddrPort, conn net.Conn, inbox chan<- Inbound, onDead func(netip.AddrPort)) *Entry {
	entry := newEntry(addr, conn)

	t.mu.Lock()
	if existing, ok := t.peers[addr]; ok {
		t.mu.Unlock()
		_ = existing.close()
		t.mu.Lock()
	}
	t.peers[addr] = entry
	t.mu.Unlock()

	go func() {
		err := entry.readLoop(ctx, t.log, inbox)
		if !t.removeIfCurrent(addr, entry) {
			// SweepDead, CloseAll or a newer Adopt for addr already
			// removed and closed this entry.
			return
		}
		_ = entry.close()
		t.log.Info("peer disconnected", slog.String("peer", addr.String()), slog.String("reason", fmt.Sprint(err)))
		if onDead != nil {
			onDead(addr)
		}
	}()
	go func() {
		_ = entry.writeLoop(ctx, t.log)
	}()

	return entry
}

// removeIfCurrent deletes addr from the table if it still maps to e, and
// reports whether it did.
func (t *Table) removeIfCurrent(addr netip.AddrPort, e *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[addr] != e {
		return false
	}
	delete(t.peers, addr)
	return true
}

func (t *Table) Get(addr netip.AddrPort) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.peers[addr]
	return e, ok
}

func (t *Table) Has(addr netip.AddrPort) bool {
	_, ok := t.Get(addr)
	return ok
}

// Addresses returns the addresses of every known peer.
func (t *Table) Addresses() []netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]netip.AddrPort, 0, len(t.peers))
	for addr := range t.peers {
		out = append(out, addr)
	}
	return out
}

// All returns every known entry.
func (t *Table) All() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Entry, 0, len(t.peers))
	for _, e := range t.peers {
		out = append(out, e)
	}
	return out
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Broadcast sends msg to every known peer.
func (t *Table) Broadcast(msg *wire.Message) {
	for _, e := range t.All() {
		if !e.Send(msg) {
			t.log.Warn("dropping broadcast, peer queue full", slog.String("peer", e.Addr.String()))
		}
	}
}

// SendHeartbeats sends a KeepAlive to every known peer. Called by the
// node's heartbeat timer (§4.4, every 1s).
func (t *Table) SendHeartbeats() {
	t.Broadcast(wire.MessageKeepAlive())
}

// SweepDead closes and removes every peer whose last-heard timestamp
// exceeds threshold, invoking onDead for each. Called by the node's
// dead-peer sweeper (§4.4).
func (t *Table) SweepDead(threshold time.Duration, onDead func(netip.AddrPort)) {
	var dead []*Entry

	t.mu.Lock()
	for addr, e := range t.peers {
		if e.Idle() > threshold {
			dead = append(dead, e)
			delete(t.peers, addr)
		}
	}
	t.mu.Unlock()

	for _, e := range dead {
		_ = e.close()
		t.log.Info("peer declared dead", slog.String("peer", e.Addr.String()), slog.Duration("idle", e.Idle()))
		if onDead != nil {
			onDead(e.Addr)
		}
	}
}

// CloseAll closes every peer connection. Called on node shutdown.
func (t *Table) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for addr, e := range t.peers {
		_ = e.close()
		delete(t.peers, addr)
	}
}

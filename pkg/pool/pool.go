// Package pool implements the per-peer reliable-stream socket pool (§4.B
// of SPEC_FULL.md): acquire a stream to a peer, reusing an idle one if
// available; release it back to idle or close it. Idle streams run an
// inbound dispatch loop so an unsolicited request (e.g. GetChunk) from the
// peer on the other end is handled without a dedicated listener goroutine
// per connection. Grounded on this lineage's pkg/content/fetcher.go
// (map-with-mutex bookkeeping, semaphore-free request dispatch) adapted
// from a per-request match to a per-stream idle/busy lifecycle.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WebFirstLanguage/lanbeacon/pkg/transport"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// Dispatcher handles an inbound Frame arriving on an idle stream and
// returns the reply frame to send back, or nil for no reply.
type Dispatcher func(conn transport.Conn, peerAddr string, frame *wire.Frame) *wire.Frame

type entry struct {
	conn      transport.Conn
	peerAddr  string
	busy      bool
	lastUse   time.Time
	cancelIdle context.CancelFunc
}

// Pool manages reliable streams keyed by peer address.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry // peerAddr -> entry, one stream per peer for simplicity (§4.B)

	tr          transport.Transport
	dispatch    Dispatcher
	idleTimeout time.Duration
	log         *logrus.Entry

	dialTimeout time.Duration
}

// New creates a Pool that dials through tr and reaps idle streams after
// idleTimeout.
func New(tr transport.Transport, dispatch Dispatcher, idleTimeout time.Duration, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		entries:     make(map[string]*entry),
		tr:          tr,
		dispatch:    dispatch,
		idleTimeout: idleTimeout,
		log:         log.WithField("component", "pool"),
		dialTimeout: 10 * time.Second,
	}
}

// Acquire returns a busy stream to peerAddr: the peer's idle stream if it
// has one, or a newly dialed one if it has none. If the peer's stream is
// already busy, Acquire returns an error. The caller must call Release when
// done.
func (p *Pool) Acquire(ctx context.Context, peerAddr string) (transport.Conn, error) {
	p.mu.Lock()
	e, ok := p.entries[peerAddr]
	if ok && !e.busy {
		e.busy = true
		if e.cancelIdle != nil {
			e.cancelIdle()
			e.cancelIdle = nil
			// Force the idle dispatch goroutine's blocked Read to
			// return immediately so it observes idleCtx.Err() and
			// exits before this caller starts using the stream.
			e.conn.SetReadDeadline(time.Now())
		}
		p.mu.Unlock()
		return e.conn, nil
	}
	p.mu.Unlock()

	if ok && e.busy {
		return nil, fmt.Errorf("pool: stream to %s already in use", peerAddr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, err := p.tr.Dial(dialCtx, peerAddr)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", peerAddr, err)
	}

	p.mu.Lock()
	p.entries[peerAddr] = &entry{conn: conn, peerAddr: peerAddr, busy: true, lastUse: time.Now()}
	p.mu.Unlock()

	return conn, nil
}

// Adopt registers an inbound (accepted) connection as an idle stream ready
// for dispatch, used by the listener side of the pool.
func (p *Pool) Adopt(peerAddr string, conn transport.Conn) {
	p.mu.Lock()
	p.entries[peerAddr] = &entry{conn: conn, peerAddr: peerAddr, busy: false, lastUse: time.Now()}
	p.mu.Unlock()
	p.armIdleDispatch(peerAddr)
}

// Release returns a stream to idle (keepAlive=true, re-arming inbound
// dispatch) or closes it (keepAlive=false).
func (p *Pool) Release(peerAddr string, keepAlive bool) {
	p.mu.Lock()
	e, ok := p.entries[peerAddr]
	if !ok {
		p.mu.Unlock()
		return
	}
	if !keepAlive {
		delete(p.entries, peerAddr)
		p.mu.Unlock()
		e.conn.Close()
		return
	}
	e.busy = false
	e.lastUse = time.Now()
	p.mu.Unlock()

	p.armIdleDispatch(peerAddr)
}

// armIdleDispatch starts a read that, while the stream is idle, decodes and
// dispatches one inbound frame, then re-arms itself; it exits once the
// stream is acquired (busy) or closed.
func (p *Pool) armIdleDispatch(peerAddr string) {
	p.mu.Lock()
	e, ok := p.entries[peerAddr]
	if !ok || e.busy {
		p.mu.Unlock()
		return
	}
	idleCtx, cancel := context.WithCancel(context.Background())
	e.cancelIdle = cancel
	conn := e.conn
	p.mu.Unlock()

	go func() {
		conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
		frame, err := wire.ReadFrame(conn)
		if idleCtx.Err() != nil {
			return // stream was acquired before the read returned
		}
		if err != nil {
			p.Release(peerAddr, false)
			return
		}

		if p.dispatch != nil {
			if reply := p.dispatch(conn, peerAddr, frame); reply != nil {
				if err := wire.WriteFrame(conn, reply); err != nil {
					p.log.WithError(err).Warn("failed to write dispatch reply")
				}
			}
		}
		p.armIdleDispatch(peerAddr)
	}()
}

// ReapIdle closes streams that have been idle longer than idleTimeout.
// Intended to run from a periodic ticker.
func (p *Pool) ReapIdle() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	var stale []string
	for addr, e := range p.entries {
		if !e.busy && e.lastUse.Before(cutoff) {
			stale = append(stale, addr)
		}
	}
	for _, addr := range stale {
		if e, ok := p.entries[addr]; ok {
			if e.cancelIdle != nil {
				e.cancelIdle()
			}
			e.conn.Close()
			delete(p.entries, addr)
		}
	}
	p.mu.Unlock()
}

// Len returns the number of tracked streams (idle + busy).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Package reactor implements [REACTOR]: the connection accept loop, the
// per-connection read/write pumps, and the fixed set of workers each
// connection is pinned to for its lifetime. Grounded on the teacher's
// internal/gameserver/server.go (acceptLoop/handleConnection/Serve, built
// on golang.org/x/sync/errgroup) and internal/gameserver/client.go
// (writePump/sendCh/closeCh), generalized from one-goroutine-per-connection
// game serving into a worker-pinned reactor per spec §4.3 (DESIGN.md Open
// Question decision #2).
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxelcore/server/internal/scheduler"
)

// Config controls the reactor's worker pinning and per-connection limits.
type Config struct {
	WorkerCount    int
	MaxUnsentBytes int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
}

// Factory builds the Receiver and CipherSource for a freshly accepted
// connection. It is called once per connection, before that connection's
// read/write pumps start, so it is free to construct a handshake bound to
// conn as its Sender.
type Factory func(conn *Connection) (Receiver, CipherSource)

// PanicFunc is invoked, off the goroutine that panicked, whenever a
// reactor-internal goroutine (not a scheduler task - those have their own
// panic hook) panics.
type PanicFunc func(workerID int, recovered any)

// Reactor accepts connections on a listener and pins each one to one of a
// fixed set of workers for its lifetime.
type Reactor struct {
	cfg     Config
	pool    *scheduler.Pool
	factory Factory
	onPanic PanicFunc

	writePool *bytePool
	workers   []*worker
	next      int64 // atomic, round-robin worker assignment

	mu          sync.Mutex
	connections map[*Connection]struct{}
}

// New creates a Reactor with the given config, backed by pool for
// dispatching handler tasks and factory for building each connection's
// Receiver/CipherSource pair.
func New(cfg Config, pool *scheduler.Pool, factory Factory, onPanic PanicFunc) *Reactor {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	workers := make([]*worker, cfg.WorkerCount)
	for i := range workers {
		workers[i] = &worker{id: i}
	}
	return &Reactor{
		cfg:         cfg,
		pool:        pool,
		factory:     factory,
		onPanic:     onPanic,
		writePool:   newBytePool(512),
		workers:     workers,
		connections: make(map[*Connection]struct{}),
	}
}

// Run listens on addr and serves until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("reactor: listening on %s: %w", addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then waits for
// every worker's pinned connections to finish tearing down.
func (r *Reactor) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		r.Shutdown("server shutting down")
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.acceptLoop(gctx, ln)
		return nil
	})

	err := g.Wait()

	for _, w := range r.workers {
		w.wait()
	}

	return err
}

func (r *Reactor) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			slog.Error("reactor: accept failed", "err", err)
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}

		r.admit(ctx, conn)
	}
}

// admit pins conn to the next worker in round-robin order and starts its
// read/write pumps.
func (r *Reactor) admit(ctx context.Context, conn net.Conn) {
	workerID := int(atomic.AddInt64(&r.next, 1)-1) % len(r.workers)
	w := r.workers[workerID]

	c := newConnection(conn, workerID, r.pool, r.writePool, r.cfg, r.untrack)
	receiver, cipherSource := r.factory(c)
	c.receiver = receiver
	c.cipher = cipherSource

	r.track(c)

	w.spawn(func() {
		defer r.recoverPanic(workerID)
		c.writePump()
	})
	w.spawn(func() {
		defer r.recoverPanic(workerID)
		c.readLoop(ctx)
	})
}

func (r *Reactor) track(c *Connection) {
	r.mu.Lock()
	r.connections[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Reactor) untrack(c *Connection, _ string) {
	r.mu.Lock()
	delete(r.connections, c)
	r.mu.Unlock()
}

func (r *Reactor) recoverPanic(workerID int) {
	if rec := recover(); rec != nil {
		if r.onPanic != nil {
			r.onPanic(workerID, rec)
		}
	}
}

// ConnectionCount returns the number of connections currently tracked by
// the reactor.
func (r *Reactor) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Connections returns a snapshot of every connection currently tracked,
// for broadcast or metrics purposes (mirrors the teacher's ClientManager
// enumeration used by its broadcast infrastructure).
func (r *Reactor) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.connections))
	for c := range r.connections {
		out = append(out, c)
	}
	return out
}

// Shutdown disconnects every tracked connection with reason and waits for
// each worker's pumps to finish.
func (r *Reactor) Shutdown(reason string) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Disconnect(reason)
	}
	for _, w := range r.workers {
		w.wait()
	}
}

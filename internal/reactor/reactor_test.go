package reactor_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/protocol"
	"github.com/voxelcore/server/internal/reactor"
)

// multiConnListener hands out a fixed set of already-established
// connections, one per Accept call, the way a real listener would hand
// out freshly accepted sockets.
type multiConnListener struct {
	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func (l *multiConnListener) Accept() (net.Conn, error) {
	for {
		l.mu.Lock()
		if len(l.conns) > 0 {
			c := l.conns[0]
			l.conns = l.conns[1:]
			l.mu.Unlock()
			return c, nil
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, net.ErrClosed
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (l *multiConnListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *multiConnListener) Addr() net.Addr { return pipeAddr{} }

func TestReactorPinsConnectionsRoundRobinAcrossWorkers(t *testing.T) {
	const workerCount = 3
	const connCount = 7

	var serverSides []net.Conn
	var clientSides []net.Conn
	for i := 0; i < connCount; i++ {
		s, c := net.Pipe()
		serverSides = append(serverSides, s)
		clientSides = append(clientSides, c)
	}
	defer func() {
		for _, c := range clientSides {
			c.Close()
		}
	}()

	recv := &recordingReceiver{}
	pool := newTestPool(t)
	r := reactor.New(reactor.Config{WorkerCount: workerCount}, pool, func(conn *reactor.Connection) (reactor.Receiver, reactor.CipherSource) {
		return recv, nil
	}, nil)

	ln := &multiConnListener{conns: serverSides}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Serve(ctx, ln)

	require.Eventually(t, func() bool {
		return r.ConnectionCount() == connCount
	}, time.Second, 5*time.Millisecond)

	seen := make(map[int]int)
	for _, c := range r.Connections() {
		require.GreaterOrEqual(t, c.WorkerID(), 0)
		require.Less(t, c.WorkerID(), workerCount)
		seen[c.WorkerID()]++
	}
	// Round-robin over 7 connections across 3 workers spreads them
	// 3/2/2, never piling every connection onto a single worker.
	require.Len(t, seen, workerCount)
}

func TestReactorShutdownDisconnectsEveryConnection(t *testing.T) {
	s1, c1 := net.Pipe()
	s2, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	recv := &recordingReceiver{}
	pool := newTestPool(t)
	r := reactor.New(reactor.Config{WorkerCount: 2}, pool, func(conn *reactor.Connection) (reactor.Receiver, reactor.CipherSource) {
		return recv, nil
	}, nil)

	ln := &multiConnListener{conns: []net.Conn{s1, s2}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Serve(ctx, ln)

	require.Eventually(t, func() bool {
		return r.ConnectionCount() == 2
	}, time.Second, 5*time.Millisecond)

	// Shutdown untracks every connection, so take the set beforehand.
	conns := r.Connections()
	require.Len(t, conns, 2)

	r.Shutdown("shutting down")

	for _, c := range conns {
		require.Equal(t, "shutting down", c.Reason())
	}
}

func TestReactorHandlerRunsOnPoolNotOnReadLoop(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	handlerGoroutine := make(chan bool, 1)
	recv := &recordingReceiver{
		handle: func(ctx context.Context, pkt protocol.Packet) error {
			// There is no portable way to assert "different goroutine
			// id", so this only checks that a frame written by the
			// client reaches the Receiver through the reactor's
			// dispatch path.
			handlerGoroutine <- true
			return nil
		},
	}

	pool := newTestPool(t)
	r := reactor.New(reactor.Config{WorkerCount: 1}, pool, func(conn *reactor.Connection) (reactor.Receiver, reactor.CipherSource) {
		return recv, nil
	}, nil)
	defer r.Shutdown("test done")

	ln := &multiConnListener{conns: []net.Conn{serverSide}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Serve(ctx, ln)

	require.NoError(t, protocol.WriteFrame(clientSide, nil, 0x05, []byte("ping")))

	select {
	case <-handlerGoroutine:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

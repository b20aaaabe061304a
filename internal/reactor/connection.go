package reactor

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/crypto"
	"github.com/voxelcore/server/internal/protocol"
	"github.com/voxelcore/server/internal/scheduler"
)

// Receiver processes one inbound packet for a connection. handshake.Handshake
// satisfies this directly; Connection never imports handshake to avoid a
// cycle (handshake's Sender interface is satisfied by *Connection instead).
type Receiver interface {
	HandlePacket(ctx context.Context, pkt protocol.Packet) error
}

// CipherSource returns the currently-installed cipher for a connection, or
// nil before encryption begins. *crypto.Session satisfies this directly.
type CipherSource interface {
	Cipher() *crypto.Cipher
}

// DisconnectFunc is invoked exactly once per connection, off whichever
// goroutine first triggered the disconnect, with the recorded reason (spec
// §4.3: "the disconnect callback is invoked exactly once with the recorded
// reason (or empty)").
type DisconnectFunc func(conn *Connection, reason string)

// Connection is one accepted socket, pinned to a reactor worker for its
// lifetime. It owns the framed read loop and a dedicated write-pump
// goroutine, grounded on the teacher's GameClient (internal/gameserver/client.go):
// a buffered sendCh drained by writePump via batched net.Buffers writes, a
// closeCh/sync.Once pair guarding exactly-once teardown, and a non-blocking
// Send that disconnects a client whose queue backs up rather than growing
// it without bound.
type Connection struct {
	id        uuid.UUID
	conn      net.Conn
	workerID  int
	pool      *scheduler.Pool
	writePool *bytePool

	receiver Receiver
	cipher   CipherSource

	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxUnsentBytes int64
	unsentBytes    int64 // atomic

	sendCh    chan *queuedFrame
	closeCh   chan struct{}
	closeOnce sync.Once

	reasonMu sync.Mutex
	reason   string

	onDisconnect DisconnectFunc
}

// queuedFrame pairs an already-framed buffer with the SendHandle that
// tracks its delivery, so the write pump can resolve handles in the
// exact order frames were enqueued.
type queuedFrame struct {
	data   []byte
	handle *SendHandle
}

func newConnection(conn net.Conn, workerID int, pool *scheduler.Pool, writePool *bytePool, cfg Config, onDisconnect DisconnectFunc) *Connection {
	sendQueueSize := cfg.SendQueueSize
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Connection{
		id:             uuid.New(),
		conn:           conn,
		workerID:       workerID,
		pool:           pool,
		writePool:      writePool,
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		maxUnsentBytes: int64(cfg.MaxUnsentBytes),
		sendCh:         make(chan *queuedFrame, sendQueueSize),
		closeCh:        make(chan struct{}),
		onDisconnect:   onDisconnect,
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// WorkerID returns the id of the reactor worker this connection is pinned
// to.
func (c *Connection) WorkerID() int { return c.workerID }

// RemoteAddr returns the underlying socket's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Connection) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send frames, encrypts (under whatever cipher is currently installed)
// and queues payload for async delivery, failing with Backpressure rather
// than growing the queue once either the byte cap or the channel itself
// would have to block (spec §4.3). On success it returns a SendHandle
// the write pump resolves to Sent or Failed, in the order frames were
// enqueued (spec §3, §8 property 5).
func (c *Connection) Send(id byte, payload []byte) (*SendHandle, error) {
	if c.closed() {
		return nil, coderr.New(coderr.Disconnected, "connection is closed")
	}

	var cipher *crypto.Cipher
	if c.cipher != nil {
		cipher = c.cipher.Cipher()
	}
	frame := c.writePool.FrameToPooled(cipher, id, payload)

	if c.maxUnsentBytes > 0 {
		if atomic.AddInt64(&c.unsentBytes, int64(len(frame))) > c.maxUnsentBytes {
			atomic.AddInt64(&c.unsentBytes, -int64(len(frame)))
			c.writePool.Put(frame)
			return nil, coderr.New(coderr.Backpressure, "buffered-but-unsent bytes exceed cap")
		}
	}

	qf := &queuedFrame{data: frame, handle: newSendHandle()}

	select {
	case c.sendCh <- qf:
		return qf.handle, nil
	default:
		atomic.AddInt64(&c.unsentBytes, -int64(len(frame)))
		c.writePool.Put(frame)
		c.Disconnect("send queue full")
		return nil, coderr.New(coderr.Backpressure, "send queue full")
	}
}

// Disconnect flips the connection's shutdown flag and invokes the
// disconnect callback exactly once with reason; the owning writePump and
// readLoop goroutines observe closeCh and stop on their next iteration
// (spec §4.3).
func (c *Connection) Disconnect(reason string) {
	c.closeOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()
		close(c.closeCh)
		// Closing the socket is what actually unblocks a readLoop parked
		// in a blocking Read when the disconnect originates elsewhere
		// (a handler task, the write pump, or Reactor.Shutdown).
		c.conn.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(c, reason)
		}
	})
}

// Reason returns the reason passed to the Disconnect call that closed
// this connection, or "" if it is still open.
func (c *Connection) Reason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// writePump drains sendCh and writes frames to the socket, batching
// multiple already-queued frames into a single net.Buffers writev when
// more than one is ready. Grounded statement-for-statement on the
// teacher's GameClient.writePump.
func (c *Connection) writePump() {
	bufs := make(net.Buffers, 0, 64)
	drained := make([]*queuedFrame, 0, 64)

	defer func() {
		for {
			select {
			case qf := <-c.sendCh:
				atomic.AddInt64(&c.unsentBytes, -int64(len(qf.data)))
				c.writePool.Put(qf.data)
				qf.handle.resolve(SendFailed, 0, coderr.New(coderr.Disconnected, "connection closed before frame was sent"))
			default:
				return
			}
		}
	}()

	for {
		select {
		case qf, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.writeOne(qf, &bufs, &drained)
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) writeOne(qf *queuedFrame, bufs *net.Buffers, drained *[]*queuedFrame) {
	pkt := qf.data
	qf.handle.markSending()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			atomic.AddInt64(&c.unsentBytes, -int64(len(pkt)))
			c.writePool.Put(pkt)
			qf.handle.resolve(SendFailed, 0, err)
			c.Disconnect(err.Error())
			return
		}
	}

	queued := len(c.sendCh)
	if queued == 0 {
		n, err := c.conn.Write(pkt)
		atomic.AddInt64(&c.unsentBytes, -int64(len(pkt)))
		c.writePool.Put(pkt)
		if err != nil {
			qf.handle.resolve(SendFailed, int64(n), err)
			c.Disconnect(err.Error())
		} else {
			qf.handle.resolve(SendSent, int64(n), nil)
		}
		return
	}

	*bufs = (*bufs)[:0]
	*drained = (*drained)[:0]
	*bufs = append(*bufs, pkt)
	*drained = append(*drained, qf)
	for range queued {
		p := <-c.sendCh
		p.handle.markSending()
		*bufs = append(*bufs, p.data)
		*drained = append(*drained, p)
	}

	n, err := bufs.WriteTo(c.conn)
	resolveBatch(*drained, n, err)
	for _, p := range *drained {
		atomic.AddInt64(&c.unsentBytes, -int64(len(p.data)))
		c.writePool.Put(p.data)
	}
	if err != nil {
		c.Disconnect(err.Error())
	}
}

// resolveBatch resolves each frame in a batched write against how far
// the write actually got: a frame fully covered by n bytes resolves
// Sent, the short frame and everything queued after it resolves Failed
// - matching spec S6 ("prior sends resolve Sent as the peer drains; the
// failing one resolves Failed").
func resolveBatch(frames []*queuedFrame, n int64, err error) {
	var offset int64
	for _, f := range frames {
		size := int64(len(f.data))
		if err == nil || offset+size <= n {
			f.handle.resolve(SendSent, size, nil)
		} else {
			f.handle.resolve(SendFailed, 0, err)
		}
		offset += size
	}
}

// readLoop reads one frame at a time, handing each off to the scheduler
// pool and waiting for it to finish before reading the next. This is the
// Go translation of spec §4.3's "post a single receive-callback task per
// connection per readable edge; subsequent readable events are suppressed
// until that task calls back into complete_receive()" - waiting on the
// Future before the next ReadFrame call is what suppresses the next edge.
func (c *Connection) readLoop(ctx context.Context) {
	defer c.Disconnect("")

	for {
		if c.readTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				c.Disconnect(err.Error())
				return
			}
		}

		var cipher *crypto.Cipher
		if c.cipher != nil {
			cipher = c.cipher.Cipher()
		}
		pkt, err := protocol.ReadFrame(c.conn, cipher)
		if err != nil {
			c.Disconnect(err.Error())
			return
		}

		receiver := c.receiver
		if receiver == nil {
			continue
		}

		future := c.pool.Enqueue(func(taskCtx context.Context) (any, error) {
			return nil, receiver.HandlePacket(taskCtx, pkt)
		})
		if _, err := future.Wait(ctx); err != nil {
			if !coderr.OfKind(err, coderr.PoolShutdown) {
				slog.Warn("reactor: packet handler failed", "conn", c.id, "err", err)
			}
			c.Disconnect(err.Error())
			return
		}

		if c.closed() {
			return
		}
	}
}

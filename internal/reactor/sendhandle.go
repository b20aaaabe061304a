package reactor

import (
	"context"
	"sync/atomic"
)

// SendState is a SendHandle's lifecycle stage (spec §3).
type SendState int32

const (
	// SendPending is the state a handle starts in: queued, not yet
	// handed to the socket.
	SendPending SendState = iota
	// SendSending marks a frame the write pump has pulled off sendCh and
	// is currently writing.
	SendSending
	// SendSent is a terminal state: the frame was written successfully.
	SendSent
	// SendFailed is a terminal state: the write failed or the
	// connection closed before the frame went out.
	SendFailed
)

// SendHandle is the promise-like object Connection.Send returns for one
// queued frame: a state machine with a bytes-sent counter, resolved
// exactly once by the write pump, in the same order frames were
// enqueued (spec §3, §8 property 5, S6). Grounded on scheduler.Future's
// close-channel-once resolution idiom, generalized with a state enum
// and a byte counter since a send tracks more than success/failure.
type SendHandle struct {
	state     int32 // atomic SendState
	bytesSent int64 // atomic
	done      chan struct{}
	err       error
}

func newSendHandle() *SendHandle {
	return &SendHandle{
		state: int32(SendPending),
		done:  make(chan struct{}),
	}
}

// State returns the handle's current lifecycle state.
func (h *SendHandle) State() SendState {
	return SendState(atomic.LoadInt32(&h.state))
}

// BytesSent returns the number of bytes of this frame actually written
// to the socket.
func (h *SendHandle) BytesSent() int64 {
	return atomic.LoadInt64(&h.bytesSent)
}

// Done returns a channel closed once the handle resolves, for use in a
// select alongside other channels. Any number of callers may read it -
// the "waiter list" of spec §3 - since closing a channel wakes every
// receiver.
func (h *SendHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves to Sent or Failed, or ctx is
// cancelled.
func (h *SendHandle) Wait(ctx context.Context) (SendState, error) {
	select {
	case <-h.done:
		return h.State(), h.err
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

func (h *SendHandle) markSending() {
	atomic.CompareAndSwapInt32(&h.state, int32(SendPending), int32(SendSending))
}

// resolve transitions the handle to its terminal state exactly once.
func (h *SendHandle) resolve(state SendState, bytesSent int64, err error) {
	atomic.StoreInt64(&h.bytesSent, bytesSent)
	h.err = err
	atomic.StoreInt32(&h.state, int32(state))
	close(h.done)
}

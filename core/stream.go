package core

import (
	"context"
	"sync"

	"github.com/encodeous/skein/state"
)

// Stream delivers the response frames of one outgoing transaction.
// Frames are returned in arrival order, followed by a terminal error:
// io.EOF on completion, *RemoteError, ErrSocketClosed or ErrStreamClosed.
type Stream struct {
	tx      string
	node    context.Context
	cancel  func()
	mu      sync.Mutex
	queue   []*state.AppPacket
	err     error
	changed chan struct{}
	once    sync.Once
}

func newStream(tx string, node context.Context, cancel func()) *Stream {
	return &Stream{
		tx:      tx,
		node:    node,
		cancel:  cancel,
		changed: make(chan struct{}),
	}
}

func (st *Stream) Transaction() string {
	return st.tx
}

func (st *Stream) notifyLocked() {
	close(st.changed)
	st.changed = make(chan struct{})
}

func (st *Stream) push(pkt *state.AppPacket) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err != nil {
		return
	}
	st.queue = append(st.queue, pkt)
	st.notifyLocked()
}

// settle queues a last frame, if any, together with the terminal error, so a concurrent Close
// cannot land between them. It reports false if the stream already terminated.
func (st *Stream) settle(pkt *state.AppPacket, err error) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err != nil {
		return false
	}
	if pkt != nil {
		st.queue = append(st.queue, pkt)
	}
	st.err = err
	st.notifyLocked()
	return true
}

// finish sets the terminal error. It reports false if the stream already terminated.
func (st *Stream) finish(err error) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err != nil {
		return false
	}
	st.err = err
	st.notifyLocked()
	return true
}

// Recv blocks until the next frame or the terminal error
func (st *Stream) Recv(ctx context.Context) (*state.AppPacket, error) {
	for {
		st.mu.Lock()
		if len(st.queue) > 0 {
			pkt := st.queue[0]
			st.queue = st.queue[1:]
			st.mu.Unlock()
			return pkt, nil
		}
		if st.err != nil {
			err := st.err
			st.mu.Unlock()
			return nil, err
		}
		changed := st.changed
		st.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-st.node.Done():
			// the node stopped before it could settle this transaction
			st.finish(ErrSocketClosed)
		}
	}
}

// Value is Recv without the envelope
func (st *Stream) Value(ctx context.Context) (any, error) {
	pkt, err := st.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return pkt.Body, nil
}

// Close cancels the transaction and tells the remote side to stop producing.
// It does nothing once the stream has terminated.
func (st *Stream) Close() {
	st.once.Do(func() {
		if st.finish(ErrStreamClosed) && st.cancel != nil {
			st.cancel()
		}
	})
}

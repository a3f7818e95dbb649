package state

import "sync"

// Mailbox is an unbounded FIFO of closures drained by the dispatch goroutine.
// Posting never blocks, so closures running on the dispatch goroutine may post more work.
type Mailbox struct {
	mu     sync.Mutex
	queue  []func(*State) error
	wake   chan struct{}
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		wake: make(chan struct{}, 1),
	}
}

// Post enqueues fun. It reports false if the mailbox has been closed.
func (m *Mailbox) Post(fun func(*State) error) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fun)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Wake fires at least once after every Post.
func (m *Mailbox) Wake() <-chan struct{} {
	return m.wake
}

// Take removes and returns everything queued so far, in post order.
func (m *Mailbox) Take() []func(*State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close rejects further posts and discards pending work.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}

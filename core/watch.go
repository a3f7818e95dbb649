package core

import (
	"sync"

	"github.com/dustin/go-broadcast"
)

// Watch receives values published by a socket. Close it when done.
type Watch[T any] struct {
	C    <-chan T
	hub  *hub[T]
	raw  chan interface{}
	done chan struct{}
	exit chan struct{}
	once sync.Once
}

// Close stops delivery and closes C
func (w *Watch[T]) Close() {
	w.once.Do(func() {
		close(w.done)
		<-w.exit
		w.hub.remove(w)
	})
}

func (w *Watch[T]) pump(out chan T, latest bool) {
	defer close(w.exit)
	defer close(out)
	for {
		select {
		case <-w.done:
			// keep the broadcaster unblocked while it processes the unregistration
			stop := make(chan struct{})
			go func() {
				for {
					select {
					case <-w.raw:
					case <-stop:
						return
					}
				}
			}()
			w.hub.b.Unregister(w.raw)
			close(stop)
			return
		case v := <-w.raw:
			t := v.(T)
			if latest {
				select {
				case <-out:
				default:
				}
			}
			select {
			case out <- t:
			default:
			}
		}
	}
}

// hub adapts a go-broadcast Broadcaster into typed watches.
// With latest set, a slow watcher only ever sees the most recent value.
type hub[T any] struct {
	mu      sync.Mutex
	b       broadcast.Broadcaster
	watches map[*Watch[T]]struct{}
	closed  bool
	latest  bool
	buf     int
}

func newHub[T any](buf int, latest bool) *hub[T] {
	return &hub[T]{
		b:       broadcast.NewBroadcaster(buf),
		watches: make(map[*Watch[T]]struct{}),
		latest:  latest,
		buf:     buf,
	}
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.b.Submit(v)
}

func (h *hub[T]) watch(initial *T) (*Watch[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrSocketClosed
	}
	size := h.buf
	if h.latest {
		size = 1
	}
	out := make(chan T, size)
	if initial != nil {
		out <- *initial
	}
	w := &Watch[T]{
		C:    out,
		hub:  h,
		raw:  make(chan interface{}, h.buf),
		done: make(chan struct{}),
		exit: make(chan struct{}),
	}
	h.b.Register(w.raw)
	h.watches[w] = struct{}{}
	go w.pump(out, h.latest)
	return w, nil
}

func (h *hub[T]) remove(w *Watch[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watches, w)
}

func (h *hub[T]) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	watches := make([]*Watch[T], 0, len(h.watches))
	for w := range h.watches {
		watches = append(watches, w)
	}
	h.mu.Unlock()
	for _, w := range watches {
		w.Close()
	}
	_ = h.b.Close()
}

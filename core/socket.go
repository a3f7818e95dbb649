package core

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/encodeous/skein/state"
)

type GraphWatch = Watch[state.Graph]

// Socket is the handle of a bound node. Every method is safe to call from any goroutine,
// and all but Close and Inspect may be called from inside a push handler. Responders may call every method.
type Socket struct {
	env     *state.Env
	router  *Router
	tracer  *Tracer
	stopped chan struct{}
	done    chan struct{}
	closing sync.Once
}

func (sk *Socket) Address() state.Address {
	return sk.env.Self()
}

// Graph returns the current topology without touching the dispatch loop
func (sk *Socket) Graph() state.Graph {
	return sk.router.Graph()
}

// Discover watches the topology. The current graph is delivered first, and a slow reader only sees the latest graph.
func (sk *Socket) Discover() (*GraphWatch, error) {
	return sk.router.watchGraph()
}

// Trace watches dispatch events. The socket must be bound with debug enabled.
func (sk *Socket) Trace() (*Watch[TraceEvent], error) {
	return sk.tracer.watch()
}

func (sk *Socket) post(fun func(*state.State) error) error {
	if !sk.env.Mailbox.Post(fun) {
		return ErrSocketClosed
	}
	return nil
}

func (sk *Socket) packet(proto state.AppProto, dest state.Address, key string, payload any) *state.AppPacket {
	return &state.AppPacket{
		Header: state.AppHeader{
			Protocol:    proto,
			Source:      sk.Address(),
			Target:      dest,
			Transaction: newId(),
			Key:         key,
		},
		Body: payload,
	}
}

// Push sends a one-way message
func (sk *Socket) Push(dest state.Address, key string, payload any) error {
	if reservedKey(key) {
		return ErrReservedKey
	}
	pkt := sk.packet(state.Push, dest, key, payload)
	return sk.post(func(s *state.State) error {
		Get[*Router](s).send(s, pkt)
		return nil
	})
}

// BroadcastPush floods a one-way message to every reachable node
func (sk *Socket) BroadcastPush(key string, payload any) error {
	if reservedKey(key) {
		return ErrReservedKey
	}
	pkt := sk.packet(state.Push, "", key, payload)
	return sk.post(func(s *state.State) error {
		Get[*Router](s).broadcast(s, pkt, s.StartingTTL)
		return nil
	})
}

// Request yields at most one response frame
func (sk *Socket) Request(dest state.Address, key string, payload any) *Stream {
	return sk.open(sk.packet(state.Request, dest, key, payload), singleConsumer)
}

// Subscribe yields every value the responder emits until it completes or fails
func (sk *Socket) Subscribe(dest state.Address, key string, payload any) *Stream {
	return sk.open(sk.packet(state.Subscription, dest, key, payload), streamConsumer)
}

// BroadcastRequest asks every reachable responder. The stream ends only when closed.
func (sk *Socket) BroadcastRequest(key string, payload any) *Stream {
	return sk.open(sk.packet(state.Request, "", key, payload), broadcastConsumer)
}

func (sk *Socket) BroadcastSubscribe(key string, payload any) *Stream {
	return sk.open(sk.packet(state.Subscription, "", key, payload), broadcastConsumer)
}

func (sk *Socket) open(pkt *state.AppPacket, kind consumerKind) *Stream {
	tx := pkt.Header.Transaction
	env := sk.env
	st := newStream(tx, env.Context, func() {
		env.Dispatch(func(s *state.State) error {
			Get[*Broker](s).cancelPending(s, tx)
			return nil
		})
	})
	if reservedKey(pkt.Header.Key) {
		st.finish(ErrReservedKey)
		return st
	}
	err := sk.post(func(s *state.State) error {
		Get[*Broker](s).open(s, pkt, st, kind)
		return nil
	})
	if err != nil {
		st.finish(err)
	}
	return st
}

// Call sends a request and waits for its single response value
func (sk *Socket) Call(ctx context.Context, dest state.Address, key string, payload any) (any, error) {
	st := sk.Request(dest, key, payload)
	defer st.Close()
	v, err := st.Value(ctx)
	if errors.Is(err, io.EOF) {
		return nil, ErrNoResponse
	}
	return v, err
}

// HandlePushes registers h for pushes under key. Packets that arrived before are replayed to it.
func (sk *Socket) HandlePushes(key string, h PushHandler) error {
	if reservedKey(key) {
		return ErrReservedKey
	}
	return sk.post(func(s *state.State) error {
		Get[*Broker](s).handlePushes(s, key, h)
		return nil
	})
}

func (sk *Socket) HandleRequests(key string, h Responder) error {
	return sk.handle(state.Request, key, h)
}

func (sk *Socket) HandleSubscriptions(key string, h Responder) error {
	return sk.handle(state.Subscription, key, h)
}

func (sk *Socket) UnhandlePushes(key string) error {
	return sk.HandlePushes(key, nil)
}

func (sk *Socket) UnhandleRequests(key string) error {
	return sk.handle(state.Request, key, nil)
}

func (sk *Socket) UnhandleSubscriptions(key string) error {
	return sk.handle(state.Subscription, key, nil)
}

func (sk *Socket) handle(proto state.AppProto, key string, h Responder) error {
	if reservedKey(key) {
		return ErrReservedKey
	}
	return sk.post(func(s *state.State) error {
		Get[*Broker](s).handleResponder(s, proto, key, h)
		return nil
	})
}

// Inspect returns a human readable dump of the node state
func (sk *Socket) Inspect() (string, error) {
	return state.DispatchWaitT(sk.env, func(s *state.State) (string, error) {
		return inspect(s), nil
	})
}

// Done is closed once the node has stopped and every responder has returned
func (sk *Socket) Done() <-chan struct{} {
	return sk.done
}

// Err returns why the node stopped, or nil while it runs
func (sk *Socket) Err() error {
	if sk.env.Context.Err() == nil {
		return nil
	}
	return context.Cause(sk.env.Context)
}

// Close stops the node and waits for its loop and transports to shut down.
// Running responders are cancelled, Done reports when they have returned.
func (sk *Socket) Close() {
	sk.closing.Do(func() {
		sk.env.Cancel(ErrSocketClosed)
	})
	<-sk.stopped
}

package core

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/encodeous/skein/state"
	"github.com/jellydator/ttlcache/v3"
)

// PushHandler runs on the dispatch goroutine. It must not block and must not close the socket.
type PushHandler func(pkt *state.AppPacket)

// Emitter sends one value back to the caller
type Emitter func(v any) error

// Responder answers a request or subscription on its own goroutine.
// Returning nil completes the transaction, returning an error fails it.
type Responder func(ctx context.Context, req *state.AppPacket, emit Emitter) error

type handlerKey struct {
	proto state.AppProto
	key   string
}

// Broker owns handlers, inbound buffers and both sides of every transaction
type Broker struct {
	pushes     map[string]func(*state.State, *state.AppPacket)
	requests   map[string]Responder
	subs       map[string]Responder
	inbound    map[handlerKey][]*state.AppPacket
	pending    map[string]*consumer
	producers  map[string]*producer
	// transaction -> caller, for unsubscribes that arrived before their call
	cancelled  *ttlcache.Cache[string, state.Address]
	responders sync.WaitGroup
	trace      *Tracer
}

func (b *Broker) Init(s *state.State) error {
	s.Log.Debug("init broker")
	b.trace = Get[*Tracer](s)
	b.pushes = make(map[string]func(*state.State, *state.AppPacket))
	b.requests = make(map[string]Responder)
	b.subs = make(map[string]Responder)
	b.inbound = make(map[handlerKey][]*state.AppPacket)
	b.pending = make(map[string]*consumer)
	b.producers = make(map[string]*producer)
	b.cancelled = ttlcache.New[string, state.Address](
		ttlcache.WithTTL[string, state.Address](s.DedupTTL),
		ttlcache.WithDisableTouchOnHit[string, state.Address](),
	)
	go b.cancelled.Start()

	b.pushes[state.KeyDiscovery] = func(s *state.State, pkt *state.AppPacket) {
		Get[*Router](s).handleDiscovery(s, pkt)
	}
	b.pushes[state.KeyUnsubscribe] = b.handleUnsubscribe
	return nil
}

func (b *Broker) Cleanup(s *state.State) error {
	for tx, p := range b.producers {
		p.cancel()
		delete(b.producers, tx)
	}
	for tx, c := range b.pending {
		c.stream.finish(ErrSocketClosed)
		delete(b.pending, tx)
	}
	b.cancelled.Stop()
	return nil
}

// deliverLocal handles a packet addressed to this node
func (b *Broker) deliverLocal(s *state.State, pkt *state.AppPacket) {
	h := pkt.Header
	if h.IsResponse() {
		if c, ok := b.pending[h.Transaction]; ok {
			b.trace.Trace(Delivered, h.Key, "transaction", h.Transaction, "from", h.Source)
			b.consume(s, c, pkt)
		} else {
			b.trace.Trace(StaleResponse, h.Key, "transaction", h.Transaction, "from", h.Source)
		}
		return
	}
	if _, ok := b.producers[h.Transaction]; ok {
		b.trace.Trace(DuplicateCall, h.Key, "transaction", h.Transaction, "from", h.Source)
		return
	}
	if item := b.cancelled.Get(h.Transaction); item != nil && item.Value() == h.Source {
		b.cancelled.Delete(h.Transaction)
		b.trace.Trace(CallCancelled, h.Key, "transaction", h.Transaction, "from", h.Source)
		return
	}
	if b.invoke(s, pkt) {
		b.trace.Trace(Delivered, h.Key, "transaction", h.Transaction, "from", h.Source)
		return
	}
	b.bufferInbound(s, pkt)
}

// invoke runs the handler registered for pkt, reporting false if there is none
func (b *Broker) invoke(s *state.State, pkt *state.AppPacket) bool {
	key := pkt.Header.Key
	switch pkt.Header.Protocol {
	case state.Push:
		if h, ok := b.pushes[key]; ok {
			b.runPush(s, h, pkt)
			return true
		}
	case state.Request:
		if h, ok := b.requests[key]; ok {
			b.startProducer(s, pkt, h, true)
			return true
		}
	case state.Subscription:
		if h, ok := b.subs[key]; ok {
			b.startProducer(s, pkt, h, false)
			return true
		}
	}
	return false
}

func (b *Broker) runPush(s *state.State, h func(*state.State, *state.AppPacket), pkt *state.AppPacket) {
	defer func() {
		if rec := recover(); rec != nil {
			b.trace.Trace(HandlerPanic, pkt.Header.Key, "panic", rec)
		}
	}()
	h(s, pkt)
}

func (b *Broker) bufferInbound(s *state.State, pkt *state.AppPacket) {
	k := handlerKey{pkt.Header.Protocol, pkt.Header.Key}
	q := append(b.inbound[k], pkt)
	if limit := s.InboundBufferLimit; limit > 0 && len(q) > limit {
		b.trace.Trace(InboundOverflow, k.key, "protocol", k.proto, "dropped", q[0].Header.Transaction, "limit", limit)
		q = q[1:]
	}
	b.inbound[k] = q
	b.trace.Trace(BufferedInbound, k.key, "protocol", k.proto, "queued", len(q))
}

// replay re-delivers everything buffered for (proto, key), once, in arrival order
func (b *Broker) replay(s *state.State, proto state.AppProto, key string) {
	k := handlerKey{proto, key}
	q := b.inbound[k]
	delete(b.inbound, k)
	for _, pkt := range q {
		b.deliverLocal(s, pkt)
	}
}

func (b *Broker) handlePushes(s *state.State, key string, h PushHandler) {
	if h == nil {
		delete(b.pushes, key)
		return
	}
	b.pushes[key] = func(s *state.State, pkt *state.AppPacket) {
		h(pkt)
	}
	b.replay(s, state.Push, key)
}

func (b *Broker) handleResponder(s *state.State, proto state.AppProto, key string, h Responder) {
	m := b.requests
	if proto == state.Subscription {
		m = b.subs
	}
	if h == nil {
		delete(m, key)
		return
	}
	m[key] = h
	b.replay(s, proto, key)
}

func (b *Broker) handleUnsubscribe(s *state.State, pkt *state.AppPacket) {
	msg, err := state.DecodeBody[state.UnsubscribeMsg](pkt.Body)
	if err != nil {
		s.Log.Debug("bad unsubscribe payload", "from", pkt.Header.Source, "error", err)
		return
	}
	p, ok := b.producers[msg.Transaction]
	if !ok {
		b.cancelCall(msg.Transaction, pkt.Header.Source)
		return
	}
	if p.caller != pkt.Header.Source {
		return
	}
	delete(b.producers, msg.Transaction)
	p.cancel()
	b.trace.Trace(ProducerCancelled, p.req.Header.Key, "transaction", msg.Transaction, "by", pkt.Header.Source)
}

// cancelCall drops a call that is still waiting for a handler. If it has not arrived yet,
// it is remembered so it is dropped on arrival.
func (b *Broker) cancelCall(tx string, caller state.Address) {
	for k, q := range b.inbound {
		if k.proto == state.Push {
			continue
		}
		i := slices.IndexFunc(q, func(pkt *state.AppPacket) bool {
			return pkt.Header.Transaction == tx && pkt.Header.Source == caller
		})
		if i == -1 {
			continue
		}
		q = slices.Delete(q, i, i+1)
		if len(q) == 0 {
			delete(b.inbound, k)
		} else {
			b.inbound[k] = q
		}
		b.trace.Trace(CallCancelled, k.key, "transaction", tx, "from", caller)
		return
	}
	b.cancelled.Set(tx, caller, ttlcache.DefaultTTL)
}

// startProducer runs fn for req on its own goroutine. Frames it emits go back through the mailbox,
// so they leave in emission order.
func (b *Broker) startProducer(s *state.State, req *state.AppPacket, fn Responder, single bool) {
	ctx, cancel := context.WithCancel(s.Context)
	p := &producer{
		req:    req,
		caller: req.Header.Source,
		cancel: cancel,
		single: single,
	}
	b.producers[p.tx()] = p
	b.trace.Trace(ProducerStarted, req.Header.Key, "transaction", p.tx(), "caller", p.caller)

	env := s.Env
	var emitted atomic.Bool
	emit := func(v any) error {
		if ctx.Err() != nil {
			return ErrProducerStopped
		}
		if single && emitted.Swap(true) {
			return ErrProducerStopped
		}
		env.Dispatch(func(s *state.State) error {
			Get[*Broker](s).producerNext(s, p, v)
			return nil
		})
		return nil
	}

	b.responders.Add(1)
	go func() {
		defer b.responders.Done()
		err := runResponder(ctx, fn, req, emit)
		env.Dispatch(func(s *state.State) error {
			Get[*Broker](s).finishProducer(s, p, err)
			return nil
		})
	}()
}

func runResponder(ctx context.Context, fn Responder, req *state.AppPacket, emit Emitter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn(ctx, req, emit)
}

func (b *Broker) reply(s *state.State, p *producer, body any) state.AppPacket {
	frame := p.req.Header.Reply(body)
	// broadcast calls have no target to swap in
	frame.Header.Source = s.Self()
	return frame
}

func (b *Broker) producerNext(s *state.State, p *producer, v any) {
	if b.producers[p.tx()] != p {
		return
	}
	frame := b.reply(s, p, v)
	frame.Header.Next = true
	if p.single {
		frame.Header.Complete = true
		delete(b.producers, p.tx())
		p.cancel()
		b.trace.Trace(ProducerFinished, p.req.Header.Key, "transaction", p.tx())
	}
	Get[*Router](s).send(s, &frame)
}

func (b *Broker) finishProducer(s *state.State, p *producer, err error) {
	if b.producers[p.tx()] != p {
		return
	}
	delete(b.producers, p.tx())
	p.cancel()
	frame := b.reply(s, p, nil)
	if err != nil {
		frame.Header.Error = true
		frame.Body = err.Error()
	} else {
		frame.Header.Complete = true
	}
	b.trace.Trace(ProducerFinished, p.req.Header.Key, "transaction", p.tx(), "error", err)
	Get[*Router](s).send(s, &frame)
}

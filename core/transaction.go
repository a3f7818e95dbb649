package core

import (
	"context"
	"fmt"
	"io"

	"github.com/encodeous/skein/state"
)

type consumerKind int

const (
	// singleConsumer settles on the first frame
	singleConsumer consumerKind = iota
	streamConsumer
	// broadcastConsumer collects Next frames from any responder until closed
	broadcastConsumer
)

// consumer is a pending transaction: the caller side of a request or subscription.
// It is only touched on the dispatch goroutine, so cancellation and shutdown cannot run while a frame
// is being handed over. A terminal frame is settled on the stream in one step.
type consumer struct {
	stream *Stream
	kind   consumerKind
	remote state.Address
	key    string
}

// producer is an open producer: a responder goroutine answering a remote call
type producer struct {
	req    *state.AppPacket
	caller state.Address
	cancel context.CancelFunc
	single bool
}

func (p *producer) tx() string {
	return p.req.Header.Transaction
}

func remoteError(pkt *state.AppPacket) *RemoteError {
	return &RemoteError{
		Source:      pkt.Header.Source,
		Key:         pkt.Header.Key,
		Transaction: pkt.Header.Transaction,
		Value:       pkt.Body,
	}
}

// open registers a pending transaction for pkt, then sends it
func (b *Broker) open(s *state.State, pkt *state.AppPacket, st *Stream, kind consumerKind) {
	c := &consumer{
		stream: st,
		kind:   kind,
		remote: pkt.Header.Target,
		key:    pkt.Header.Key,
	}
	b.pending[pkt.Header.Transaction] = c
	r := Get[*Router](s)
	if kind == broadcastConsumer {
		r.broadcast(s, pkt, s.StartingTTL)
	} else {
		r.send(s, pkt)
	}
}

// consume hands a response frame to its pending transaction
func (b *Broker) consume(s *state.State, c *consumer, pkt *state.AppPacket) {
	h := pkt.Header
	switch c.kind {
	case broadcastConsumer:
		if h.Next {
			c.stream.push(pkt)
		}
	case singleConsumer:
		delete(b.pending, h.Transaction)
		switch {
		case h.Next:
			c.stream.settle(pkt, io.EOF)
			if !h.Complete {
				b.sendUnsubscribe(s, c, h.Transaction)
			}
		case h.Error:
			c.stream.finish(remoteError(pkt))
		default:
			c.stream.finish(io.EOF)
		}
	case streamConsumer:
		var last *state.AppPacket
		if h.Next {
			last = pkt
		}
		switch {
		case h.Error:
			delete(b.pending, h.Transaction)
			c.stream.settle(last, remoteError(pkt))
		case h.Complete:
			delete(b.pending, h.Transaction)
			c.stream.settle(last, io.EOF)
		default:
			c.stream.push(pkt)
		}
	}
}

// cancelPending drops a pending transaction on behalf of the caller and stops the remote producer
func (b *Broker) cancelPending(s *state.State, tx string) {
	c, ok := b.pending[tx]
	if !ok {
		return
	}
	delete(b.pending, tx)
	b.sendUnsubscribe(s, c, tx)
}

func (b *Broker) sendUnsubscribe(s *state.State, c *consumer, tx string) {
	pkt := &state.AppPacket{
		Header: state.AppHeader{
			Protocol:    state.Push,
			Source:      s.Self(),
			Transaction: newId(),
			Key:         state.KeyUnsubscribe,
		},
		Body: state.UnsubscribeMsg{Transaction: tx},
	}
	r := Get[*Router](s)
	if c.kind == broadcastConsumer {
		r.broadcast(s, pkt, s.StartingTTL)
		return
	}
	pkt.Header.Target = c.remote
	r.send(s, pkt)
}

// undeliverable fails the pending transaction opened by a packet that was dropped from the outbound buffer
func (b *Broker) undeliverable(s *state.State, pkt *state.AppPacket) {
	if pkt.Header.IsResponse() || pkt.Header.Protocol == state.Push {
		return
	}
	c, ok := b.pending[pkt.Header.Transaction]
	if !ok {
		return
	}
	delete(b.pending, pkt.Header.Transaction)
	c.stream.finish(fmt.Errorf("%w: %s", ErrUndeliverable, pkt.Header.Target))
}

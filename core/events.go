package core

import (
	"fmt"
	"log/slog"

	"github.com/encodeous/skein/state"
)

type DispatchEvent int

// trace events

const (
	PeerRegistered DispatchEvent = iota + 1
	GraphChanged
	Delivered
	Forwarded
	Rebroadcast
	BufferedInbound
	BufferedOutbound
	FlushedOutbound
	ProducerStarted
	ProducerFinished
	ProducerCancelled
	StaleResponse
	DuplicateCall
	DropSelf
	DropDuplicate
	DropMisaddressed
	DropExpired
	DropUntrusted
	DropMalformed
	CallCancelled
)

// warn events

const (
	InboundOverflow DispatchEvent = iota + 1000
	OutboundOverflow
	HandlerPanic
)

func (e DispatchEvent) String() string {
	switch e {
	case PeerRegistered:
		return "PEER_REGISTERED"
	case GraphChanged:
		return "GRAPH_CHANGED"
	case Delivered:
		return "DELIVERED"
	case Forwarded:
		return "FORWARDED"
	case Rebroadcast:
		return "REBROADCAST"
	case BufferedInbound:
		return "BUFFERED_INBOUND"
	case BufferedOutbound:
		return "BUFFERED_OUTBOUND"
	case FlushedOutbound:
		return "FLUSHED_OUTBOUND"
	case ProducerStarted:
		return "PRODUCER_STARTED"
	case ProducerFinished:
		return "PRODUCER_FINISHED"
	case ProducerCancelled:
		return "PRODUCER_CANCELLED"
	case StaleResponse:
		return "STALE_RESPONSE"
	case CallCancelled:
		return "CALL_CANCELLED"
	case DuplicateCall:
		return "DUPLICATE_CALL"
	case DropSelf:
		return "DROP_SELF"
	case DropDuplicate:
		return "DROP_DUPLICATE"
	case DropMisaddressed:
		return "DROP_MISADDRESSED"
	case DropExpired:
		return "DROP_EXPIRED"
	case DropUntrusted:
		return "DROP_UNTRUSTED"
	case DropMalformed:
		return "DROP_MALFORMED"
	case InboundOverflow:
		return "INBOUND_OVERFLOW"
	case OutboundOverflow:
		return "OUTBOUND_OVERFLOW"
	case HandlerPanic:
		return "HANDLER_PANIC"
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

func (e DispatchEvent) IsWarning() bool {
	return e >= 1000
}

// TraceEvent is published to trace watchers when debug is enabled
type TraceEvent struct {
	Node  state.Address
	Event DispatchEvent
	Desc  string
}

// Tracer logs dispatch events and fans them out to trace watchers. It is safe to use from any goroutine.
type Tracer struct {
	node state.Address
	log  *slog.Logger
	hub  *hub[TraceEvent]
}

func (t *Tracer) Init(s *state.State) error {
	t.node = s.Self()
	t.log = s.Log
	if s.Debug {
		t.hub = newHub[TraceEvent](state.TraceBuffer, false)
	}
	return nil
}

func (t *Tracer) Cleanup(s *state.State) error {
	if t.hub != nil {
		t.hub.close()
	}
	return nil
}

func (t *Tracer) Trace(event DispatchEvent, desc string, args ...any) {
	if t.log != nil {
		msg := fmt.Sprintf("%s %s", event.String(), desc)
		if event.IsWarning() {
			t.log.Warn(msg, args...)
		} else {
			t.log.Debug(msg, args...)
		}
	}
	if t.hub != nil {
		if len(args) > 0 {
			desc = fmt.Sprintf("%s %v", desc, args)
		}
		t.hub.publish(TraceEvent{Node: t.node, Event: event, Desc: desc})
	}
}

func (t *Tracer) watch() (*Watch[TraceEvent], error) {
	if t.hub == nil {
		return nil, ErrTraceDisabled
	}
	return t.hub.watch(nil)
}

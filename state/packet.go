package state

import (
	"errors"
	"fmt"
)

// Address identifies a node. It is assigned at bind time and never changes.
type Address string

type NetProto string

const (
	Broadcast    NetProto = "BROADCAST"
	PointToPoint NetProto = "POINT_TO_POINT"
)

type AppProto string

const (
	Push         AppProto = "PUSH"
	Request      AppProto = "REQUEST"
	Subscription AppProto = "SUBSCRIPTION"
)

var ErrMalformedPacket = errors.New("malformed packet")

// NetHeader addresses a single hop. Id is minted again for every hop.
type NetHeader struct {
	Id       string   `cbor:"id"`
	Source   Address  `cbor:"source"`
	Target   Address  `cbor:"target,omitempty"`
	Protocol NetProto `cbor:"protocol"`
	TTL      uint8    `cbor:"ttl"`
}

type NetPacket struct {
	Header NetHeader `cbor:"header"`
	Body   AppPacket `cbor:"body"`
}

// AppHeader is end-to-end. Response frames keep the protocol and transaction of the call they answer.
type AppHeader struct {
	Protocol    AppProto `cbor:"protocol"`
	Source      Address  `cbor:"source"`
	Target      Address  `cbor:"target,omitempty"`
	Transaction string   `cbor:"transaction"`
	Key         string   `cbor:"key"`
	Next        bool     `cbor:"next,omitempty"`
	Error       bool     `cbor:"error,omitempty"`
	Complete    bool     `cbor:"complete,omitempty"`
}

type AppPacket struct {
	Header AppHeader `cbor:"header"`
	Body   any       `cbor:"body,omitempty"`
}

// IsResponse reports whether the packet is a frame answering a request or subscription.
func (h AppHeader) IsResponse() bool {
	return h.Next || h.Error || h.Complete
}

// Reply builds a response frame for the call described by h.
func (h AppHeader) Reply(body any) AppPacket {
	return AppPacket{
		Header: AppHeader{
			Protocol:    h.Protocol,
			Source:      h.Target,
			Target:      h.Source,
			Transaction: h.Transaction,
			Key:         h.Key,
		},
		Body: body,
	}
}

func (p NetProto) Valid() bool {
	return p == Broadcast || p == PointToPoint
}

func (p AppProto) Valid() bool {
	return p == Push || p == Request || p == Subscription
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

// Validate checks the envelope shape. Transports call it before handing a packet to the dispatcher.
func (p *NetPacket) Validate() error {
	if p == nil {
		return malformed("nil packet")
	}
	h := p.Header
	if !h.Protocol.Valid() {
		return malformed("unknown net protocol %q", h.Protocol)
	}
	if h.Id == "" {
		return malformed("missing id")
	}
	if h.Source == "" {
		return malformed("missing source")
	}
	if h.Protocol == PointToPoint && h.Target == "" {
		return malformed("point to point packet %s has no target", h.Id)
	}
	a := p.Body.Header
	if !a.Protocol.Valid() {
		return malformed("unknown app protocol %q", a.Protocol)
	}
	if a.Source == "" {
		return malformed("missing app source")
	}
	if a.Transaction == "" {
		return malformed("missing transaction")
	}
	if a.Key == "" {
		return malformed("missing key")
	}
	if h.Protocol == PointToPoint && a.Target == "" {
		return malformed("point to point app packet %s has no target", a.Transaction)
	}
	return nil
}

func (p *NetPacket) String() string {
	a := p.Body.Header
	flags := ""
	if a.Next {
		flags += "N"
	}
	if a.Error {
		flags += "E"
	}
	if a.Complete {
		flags += "C"
	}
	return fmt.Sprintf("%s(%s %s->%s ttl=%d) %s[%s] %s->%s tx=%s",
		shortProto(p.Header.Protocol), p.Header.Id, p.Header.Source, p.Header.Target, p.Header.TTL,
		a.Protocol, flags, a.Source, a.Target, a.Transaction)
}

func shortProto(p NetProto) string {
	if p == Broadcast {
		return "BC"
	}
	return "P2P"
}

// DiscoveryMsg is the payload of KeyDiscovery pushes.
type DiscoveryMsg struct {
	Graph Graph `cbor:"graph"`
}

// UnsubscribeMsg is the payload of KeyUnsubscribe pushes.
type UnsubscribeMsg struct {
	Transaction string `cbor:"transaction"`
}

package state

import "context"

// Edge delivers a packet to one specific neighbour over one transport
type Edge func(pkt *NetPacket) error

// LinkSink is how transports hand traffic to a node
type LinkSink interface {
	// Receive accepts a packet that arrived over edgeId. reply answers the sender directly.
	Receive(pkt *NetPacket, edgeId string, reply Edge)
	// Connected is called when a transport establishes a new connection
	Connected(edgeId string)
	// Trusted is consulted before accepting packets from a transport level identity
	Trusted(identity string) bool
}

type Transport interface {
	Name() string
	Start(ctx context.Context, sink LinkSink) error
	// Broadcast floods pkt over every channel the transport has
	Broadcast(pkt *NetPacket) error
	Close() error
}

package state

import "time"

const (
	// KeyDiscovery carries topology gossip between neighbours.
	KeyDiscovery = "_skein.discovery"
	// KeyUnsubscribe tells a responder to tear down an open producer.
	KeyUnsubscribe = "_skein.unsubscribe"
)

var (
	StartingTTL           = uint8(10)
	DiscoveryTTL          = uint8(1) // discovery only reaches direct neighbours, they republish on change
	DedupTTL              = time.Second * 10
	DiscoveryInterval     = time.Second * 2
	SlowDispatchThreshold = time.Millisecond * 4
	MaxAddressLength      = 256

	// transports
	QuicDialRetry      = time.Second * 2
	QuicKeepAlive      = time.Second * 5
	QuicMaxIdleTimeout = time.Second * 30
	DefaultGossipTopic = "skein"

	GraphWatchBuffer = 16
	TraceBuffer      = 1024

	// sim
	DefaultSimSettle = time.Second * 3
)

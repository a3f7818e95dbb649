package link

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/encodeous/skein/state"
)

var ErrLinkClosed = errors.New("link closed")

// Bus is an in-process shared medium. A frame broadcast by one member reaches every other started member.
type Bus struct {
	name    string
	mu      sync.RWMutex
	members map[int]*BusLink
	next    int
}

func NewBus(name string) *Bus {
	return &Bus{
		name:    name,
		members: make(map[int]*BusLink),
	}
}

func (b *Bus) Name() string {
	return b.name
}

// Join returns a new member. It starts receiving once the owning node starts it.
func (b *Bus) Join() *BusLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	return &BusLink{bus: b, id: b.next}
}

func (b *Bus) others(self *BusLink) []*BusLink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*BusLink, 0, len(b.members))
	for _, id := range slices.Sorted(maps.Keys(b.members)) {
		if id != self.id {
			out = append(out, b.members[id])
		}
	}
	return out
}

// BusLink is one node's membership on a Bus
type BusLink struct {
	bus  *Bus
	id   int
	mu   sync.RWMutex
	sink state.LinkSink
	// closed is set once Close has run
	closed bool
}

func (l *BusLink) Name() string {
	return "bus/" + l.bus.name
}

func (l *BusLink) edgeId() string {
	return fmt.Sprintf("bus/%s/%d", l.bus.name, l.id)
}

func (l *BusLink) Start(ctx context.Context, sink state.LinkSink) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.sink = sink
	l.mu.Unlock()

	l.bus.mu.Lock()
	l.bus.members[l.id] = l
	l.bus.mu.Unlock()

	for _, m := range l.bus.others(l) {
		m.connected(l)
		sink.Connected(m.edgeId())
	}
	return nil
}

func (l *BusLink) current() state.LinkSink {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	return l.sink
}

func (l *BusLink) connected(from *BusLink) {
	if sink := l.current(); sink != nil {
		sink.Connected(from.edgeId())
	}
}

// deliver hands pkt to this member as if it arrived from the given member
func (l *BusLink) deliver(pkt *state.NetPacket, from *BusLink) error {
	sink := l.current()
	if sink == nil {
		return ErrLinkClosed
	}
	cp := *pkt
	sink.Receive(&cp, from.edgeId(), func(reply *state.NetPacket) error {
		if l.current() == nil {
			return ErrLinkClosed
		}
		return from.deliver(reply, l)
	})
	return nil
}

func (l *BusLink) Broadcast(pkt *state.NetPacket) error {
	if l.current() == nil {
		return ErrLinkClosed
	}
	for _, m := range l.bus.others(l) {
		_ = m.deliver(pkt, l)
	}
	return nil
}

func (l *BusLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.sink = nil
	l.mu.Unlock()

	l.bus.mu.Lock()
	delete(l.bus.members, l.id)
	l.bus.mu.Unlock()
	return nil
}

// BusSet names the buses shared by the nodes of one process
type BusSet struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

func NewBusSet() *BusSet {
	return &BusSet{
		buses: make(map[string]*Bus),
	}
}

// Get returns the bus called name, creating it on first use
func (bs *BusSet) Get(name string) *Bus {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.buses[name]
	if !ok {
		b = NewBus(name)
		bs.buses[name] = b
	}
	return b
}

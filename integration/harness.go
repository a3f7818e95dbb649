//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/skein/core"
	"github.com/encodeous/skein/state"
)

var ErrNoLink = errors.New("no virtual link")

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// VirtualLink is one direction of a simulated connection between two nodes.
// Its conditions may be changed while traffic flows over it.
type VirtualLink struct {
	Edge    state.Pair[state.Address, state.Address]
	mu      sync.RWMutex
	latency time.Duration
	jitter  time.Duration
	loss    float64
}

// Conditions returns the current latency, jitter and packet loss
func (v *VirtualLink) Conditions() (time.Duration, time.Duration, float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.latency, v.jitter, v.loss
}

func (v *VirtualLink) simulate(data []byte, i *InMemoryNetwork) {
	latency, jitter, loss := v.Conditions()
	if rand.Float64() < loss {
		return
	}
	from, to := v.Edge.V1, v.Edge.V2
	if latency == 0 {
		i.deliver(from, to, data)
		return
	}
	simJitter := rand.Float64() * float64(jitter.Nanoseconds())
	simLat := latency + time.Duration(simJitter)
	if !i.track() {
		return
	}
	go func() {
		defer i.wg.Done()
		select {
		case <-i.ctx.Done():
		case <-time.After(simLat):
			i.deliver(from, to, data)
		}
	}()
}

func (v *VirtualLink) WithLatency(lat, jitter time.Duration) *VirtualLink {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.latency = lat
	v.jitter = jitter
	return v
}

func (v *VirtualLink) WithPacketLoss(loss float64) *VirtualLink {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loss = loss
	return v
}

// PacketTap observes every frame the virtual network delivers
type PacketTap func(from, to state.Address, pkt *state.NetPacket)

// InMemoryNetwork carries CBOR encoded frames between virtual ports along the configured links
type InMemoryNetwork struct {
	sync.Mutex
	ctx    context.Context
	links  []*VirtualLink
	ports  map[state.Address]*virtualPort
	wg     sync.WaitGroup
	closed bool
	// Tap must be set before the harness starts
	Tap PacketTap
}

// track reserves a delivery goroutine, or reports false once the network is stopping
func (i *InMemoryNetwork) track() bool {
	i.Lock()
	defer i.Unlock()
	if i.closed {
		return false
	}
	i.wg.Add(1)
	return true
}

func (i *InMemoryNetwork) link(from, to state.Address) *VirtualLink {
	i.Lock()
	defer i.Unlock()
	idx := slices.IndexFunc(i.links, func(l *VirtualLink) bool {
		return l.Edge.V1 == from && l.Edge.V2 == to
	})
	if idx == -1 {
		return nil
	}
	return i.links[idx]
}

func (i *InMemoryNetwork) outgoing(from state.Address) []*VirtualLink {
	i.Lock()
	defer i.Unlock()
	var out []*VirtualLink
	for _, l := range i.links {
		if l.Edge.V1 == from {
			out = append(out, l)
		}
	}
	return out
}

func (i *InMemoryNetwork) send(from, to state.Address, pkt *state.NetPacket) error {
	l := i.link(from, to)
	if l == nil {
		return fmt.Errorf("%w: %s -> %s", ErrNoLink, from, to)
	}
	data, err := state.EncodePacket(pkt)
	if err != nil {
		return err
	}
	l.simulate(data, i)
	return nil
}

func (i *InMemoryNetwork) deliver(from, to state.Address, data []byte) {
	i.Lock()
	port := i.ports[to]
	i.Unlock()
	if port == nil {
		return // nobody listening, dropped packet
	}
	sink := port.current()
	if sink == nil || !sink.Trusted(string(from)) {
		return
	}
	pkt, err := state.DecodePacket(data)
	if err != nil {
		panic(err)
	}
	if i.Tap != nil {
		i.Tap(from, to, pkt)
	}
	sink.Receive(pkt, edgeId(from), func(reply *state.NetPacket) error {
		return i.send(to, from, reply)
	})
}

func (i *InMemoryNetwork) Stop() {
	i.Lock()
	i.closed = true
	i.Unlock()
	i.wg.Wait()
}

func edgeId(peer state.Address) string {
	return "virtual/" + string(peer)
}

// virtualPort is a node's attachment to the in-memory network
type virtualPort struct {
	net  *InMemoryNetwork
	node state.Address
	mu   sync.Mutex
	sink state.LinkSink
}

func (p *virtualPort) Name() string {
	return "virtual"
}

func (p *virtualPort) current() state.LinkSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

func (p *virtualPort) Start(ctx context.Context, sink state.LinkSink) error {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	p.net.Lock()
	p.net.ports[p.node] = p
	p.net.Unlock()
	for _, l := range p.net.outgoing(p.node) {
		sink.Connected(edgeId(l.Edge.V2))
	}
	return nil
}

func (p *virtualPort) Broadcast(pkt *state.NetPacket) error {
	var errs []error
	for _, l := range p.net.outgoing(p.node) {
		errs = append(errs, p.net.send(p.node, l.Edge.V2, pkt))
	}
	return errors.Join(errs...)
}

func (p *virtualPort) Close() error {
	p.mu.Lock()
	p.sink = nil
	p.mu.Unlock()
	p.net.Lock()
	delete(p.net.ports, p.node)
	p.net.Unlock()
	return nil
}

// VirtualHarness runs a set of skein nodes over an InMemoryNetwork
type VirtualHarness struct {
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Local    []state.LocalCfg
	Net      *InMemoryNetwork
	Registry *core.Registry
	Sockets  map[state.Address]*core.Socket
	pending  []*VirtualLink
}

func (v *VirtualHarness) NewNode(addr state.Address, opts ...func(cfg *state.LocalCfg)) {
	cfg := state.LocalCfg{
		Address:           addr,
		TrustedOrigins:    []string{"*"},
		LogLevel:          "error",
		DiscoveryInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	v.Local = append(v.Local, cfg)
}

// AddLink connects from to to in one direction. Links added after Start take effect immediately.
func (v *VirtualHarness) AddLink(from, to state.Address) *VirtualLink {
	link := &VirtualLink{
		Edge: state.Pair[state.Address, state.Address]{V1: from, V2: to},
	}
	if v.Net == nil {
		v.pending = append(v.pending, link)
		return link
	}
	v.Net.Lock()
	v.Net.links = append(v.Net.links, link)
	port := v.Net.ports[from]
	v.Net.Unlock()
	if port != nil {
		if sink := port.current(); sink != nil {
			sink.Connected(edgeId(to))
		}
	}
	return link
}

// Connect adds links in both directions
func (v *VirtualHarness) Connect(a, b state.Address) (*VirtualLink, *VirtualLink) {
	return v.AddLink(a, b), v.AddLink(b, a)
}

func (v *VirtualHarness) Start(tap PacketTap) error {
	ctx, cancel := context.WithCancelCause(context.Background())
	v.Context = ctx
	v.Cancel = cancel
	v.Registry = core.NewRegistry()
	v.Sockets = make(map[state.Address]*core.Socket)
	v.Net = &InMemoryNetwork{
		ctx:   ctx,
		links: v.pending,
		ports: make(map[state.Address]*virtualPort),
		Tap:   tap,
	}
	v.pending = nil

	for _, cfg := range v.Local {
		var (
			sk  *core.Socket
			err error
		)
		labels := pprof.Labels("skein node", string(cfg.Address))
		pprof.Do(ctx, labels, func(ctx context.Context) {
			sk, err = v.Registry.Bind(ctx, cfg, &virtualPort{net: v.Net, node: cfg.Address})
		})
		if err != nil {
			v.Stop()
			return fmt.Errorf("bind %s: %w", cfg.Address, err)
		}
		v.Sockets[cfg.Address] = sk
	}
	return nil
}

func (v *VirtualHarness) Stop() {
	v.Cancel(fmt.Errorf("stopping harness"))
	v.Registry.CloseAll()
	v.Net.Stop()
}

package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/encodeous/skein/state"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

// GossipSub carries packets over a libp2p gossipsub topic. Every subscriber hears every frame,
// so point to point packets rely on the next hop check in the dispatcher.
type GossipSub struct {
	cfg  state.GossipSubCfg
	log  *slog.Logger
	sink state.LinkSink

	ctx    context.Context
	cancel context.CancelFunc
	host   host.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	events *pubsub.TopicEventHandler
	mdns   mdns.Service
	wg     sync.WaitGroup
}

func NewGossipSub(cfg state.GossipSubCfg, log *slog.Logger) *GossipSub {
	if cfg.Topic == "" {
		cfg.Topic = state.DefaultGossipTopic
	}
	return &GossipSub{
		cfg: cfg,
		log: log.With("transport", "gossipsub"),
	}
}

func (g *GossipSub) Name() string {
	return "gossipsub"
}

func (g *GossipSub) Start(ctx context.Context, sink state.LinkSink) (err error) {
	g.sink = sink
	g.ctx, g.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			g.teardown()
		}
	}()

	listenAddrs := make([]ma.Multiaddr, 0, len(g.cfg.Listen))
	for _, s := range g.cfg.Listen {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	g.host, err = libp2p.New(libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	g.ps, err = pubsub.NewGossipSub(g.ctx, g.host)
	if err != nil {
		return fmt.Errorf("create gossipsub: %w", err)
	}
	g.topic, err = g.ps.Join(g.cfg.Topic)
	if err != nil {
		return fmt.Errorf("join %s: %w", g.cfg.Topic, err)
	}
	g.sub, err = g.topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", g.cfg.Topic, err)
	}
	g.events, err = g.topic.EventHandler()
	if err != nil {
		return fmt.Errorf("topic events: %w", err)
	}

	if g.cfg.MDNS {
		g.mdns = mdns.NewMdnsService(g.host, g.cfg.Topic, &mdnsNotifee{g: g})
		if err := g.mdns.Start(); err != nil {
			g.log.Warn("mdns start failed", "error", err)
		}
	}
	for _, raw := range g.cfg.Bootstrap {
		if err := g.Connect(raw); err != nil {
			g.log.Warn("bootstrap failed", "addr", raw, "error", err)
		}
	}

	g.wg.Add(2)
	go g.readLoop()
	go g.eventLoop()
	return nil
}

// Connect dials a peer given as a full /p2p/ multiaddr
func (g *GossipSub) Connect(raw string) error {
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	return g.host.Connect(g.ctx, *info)
}

// Addrs lists the dialable multiaddrs of this host, including its peer id
func (g *GossipSub) Addrs() []string {
	out := make([]string, 0, len(g.host.Addrs()))
	for _, addr := range g.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), g.host.ID().String()))
	}
	return out
}

func (g *GossipSub) readLoop() {
	defer g.wg.Done()
	self := g.host.ID()
	for {
		msg, err := g.sub.Next(g.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		from := msg.GetFrom()
		if !g.sink.Trusted(from.String()) {
			continue
		}
		pkt, err := state.DecodePacket(msg.Data)
		if err != nil {
			g.log.Debug("dropping malformed message", "from", from, "error", err)
			continue
		}
		g.sink.Receive(pkt, "gossipsub/"+from.String(), g.Broadcast)
	}
}

func (g *GossipSub) eventLoop() {
	defer g.wg.Done()
	for {
		ev, err := g.events.NextPeerEvent(g.ctx)
		if err != nil {
			return
		}
		if ev.Type == pubsub.PeerJoin {
			g.sink.Connected("gossipsub/" + ev.Peer.String())
		}
	}
}

func (g *GossipSub) Broadcast(pkt *state.NetPacket) error {
	data, err := state.EncodePacket(pkt)
	if err != nil {
		return err
	}
	return g.topic.Publish(g.ctx, data)
}

func (g *GossipSub) teardown() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.mdns != nil {
		_ = g.mdns.Close()
	}
	if g.events != nil {
		g.events.Cancel()
	}
	if g.sub != nil {
		g.sub.Cancel()
	}
	if g.topic != nil {
		_ = g.topic.Close()
	}
	if g.host != nil {
		_ = g.host.Close()
	}
}

func (g *GossipSub) Close() error {
	g.teardown()
	g.wg.Wait()
	return nil
}

type mdnsNotifee struct {
	g *GossipSub
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.g.host.ID() {
		return
	}
	if err := n.g.host.Connect(n.g.ctx, info); err != nil {
		n.g.log.Debug("mdns connect failed", "peer", info.ID, "error", err)
	}
}

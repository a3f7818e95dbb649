package core

import (
	"maps"
	"slices"
	"sync/atomic"

	"github.com/encodeous/skein/perf"
	"github.com/encodeous/skein/state"
)

// Router owns the topology graph, the neighbour edges and everything waiting for a route
type Router struct {
	graph    state.Graph
	snapshot atomic.Pointer[state.Graph]
	// peer -> edge id -> edge
	peers map[state.Address]map[string]state.Edge
	// final target -> packets in arrival order
	outbound map[state.Address][]*state.AppPacket
	seen     *seenSet
	graphs   *hub[state.Graph]
	trace    *Tracer
}

func (r *Router) Init(s *state.State) error {
	s.Log.Debug("init router")
	r.trace = Get[*Tracer](s)
	r.peers = make(map[state.Address]map[string]state.Edge)
	r.outbound = make(map[state.Address][]*state.AppPacket)
	r.seen = newSeenSet(s.DedupTTL)
	r.graphs = newHub[state.Graph](state.GraphWatchBuffer, true)
	r.graph = state.Graph{s.Self(): {}}
	r.publishSnapshot()

	// the first run announces on bind
	s.Env.RepeatTask(announce, s.DiscoveryInterval)
	return nil
}

func (r *Router) Cleanup(s *state.State) error {
	r.graphs.close()
	r.seen.Stop()
	return nil
}

// Graph returns a copy of the latest graph. Safe from any goroutine.
func (r *Router) Graph() state.Graph {
	return (*r.snapshot.Load()).Clone()
}

func (r *Router) watchGraph() (*Watch[state.Graph], error) {
	g := r.Graph()
	return r.graphs.watch(&g)
}

func (r *Router) publishSnapshot() {
	snap := r.graph.Clone()
	r.snapshot.Store(&snap)
}

// setGraph replaces the graph, notifies watchers, republishes it and retries buffered packets
func (r *Router) setGraph(s *state.State, g state.Graph) {
	r.graph = g
	r.graphChanged(s)
}

func (r *Router) graphChanged(s *state.State) {
	r.publishSnapshot()
	r.graphs.publish(r.graph.Clone())
	perf.GraphChangesPerSecond.Add(1)
	r.trace.Trace(GraphChanged, "", "nodes", len(r.graph))
	r.announce(s)
	r.flushOutbound(s)
}

// registerPeer records that peer is reachable over edgeId, and links it to us in the graph
func (r *Router) registerPeer(s *state.State, peer state.Address, edgeId string, reply state.Edge) {
	edges, ok := r.peers[peer]
	if !ok {
		edges = make(map[string]state.Edge)
		r.peers[peer] = edges
	}
	_, known := edges[edgeId]
	edges[edgeId] = reply
	if known {
		return
	}
	r.trace.Trace(PeerRegistered, string(peer), "edge", edgeId)
	if r.graph.Link(s.Self(), peer) {
		r.graphChanged(s)
	} else {
		r.flushOutbound(s)
	}
}

// send is the single outbound entry for point to point traffic
func (r *Router) send(s *state.State, pkt *state.AppPacket) {
	if pkt.Header.Target == s.Self() {
		s.Dispatch(func(s *state.State) error {
			Get[*Broker](s).deliverLocal(s, pkt)
			return nil
		})
		return
	}
	if !r.route(s, pkt, s.StartingTTL) {
		r.bufferOutbound(s, pkt)
	}
}

// route sends pkt one hop along the shortest path. It reports false if there is no usable next hop.
func (r *Router) route(s *state.State, pkt *state.AppPacket, ttl uint8) bool {
	path := state.ShortestPath(r.graph, s.Self(), pkt.Header.Target)
	if len(path) < 2 {
		return false
	}
	hop := path[1]
	if len(r.peers[hop]) == 0 {
		return false
	}
	r.fanout(s, hop, &state.NetPacket{
		Header: state.NetHeader{
			Id:       newId(),
			Source:   s.Self(),
			Target:   hop,
			Protocol: state.PointToPoint,
			TTL:      ttl,
		},
		Body: *pkt,
	})
	return true
}

// fanout writes pkt to every edge of hop
func (r *Router) fanout(s *state.State, hop state.Address, pkt *state.NetPacket) {
	edges := r.peers[hop]
	for _, id := range slices.Sorted(maps.Keys(edges)) {
		if err := edges[id](pkt); err != nil {
			perf.EdgeErrorsPerSecond.Add(1)
			s.Log.Debug("edge write failed", "peer", hop, "edge", id, "error", err)
			continue
		}
		perf.FramesSent.Add(1)
	}
}

func (r *Router) forward(s *state.State, pkt *state.NetPacket) {
	app := pkt.Body
	perf.PacketsForwarded.Add(1)
	r.trace.Trace(Forwarded, pkt.String())
	if !r.route(s, &app, pkt.Header.TTL-1) {
		r.bufferOutbound(s, &app)
	}
}

func (r *Router) bufferOutbound(s *state.State, pkt *state.AppPacket) {
	target := pkt.Header.Target
	q := append(r.outbound[target], pkt)
	if limit := s.OutboundBufferLimit; limit > 0 && len(q) > limit {
		dropped := q[0]
		q = q[1:]
		r.trace.Trace(OutboundOverflow, string(target), "transaction", dropped.Header.Transaction, "limit", limit)
		Get[*Broker](s).undeliverable(s, dropped)
	}
	r.outbound[target] = q
	perf.OutboundBuffered.Add(1)
	r.trace.Trace(BufferedOutbound, string(target), "transaction", pkt.Header.Transaction, "queued", len(q))
}

// flushOutbound sends every buffered packet whose target became reachable, in arrival order
func (r *Router) flushOutbound(s *state.State) {
	for _, target := range slices.Sorted(maps.Keys(r.outbound)) {
		q := r.outbound[target]
		sent := 0
		for _, pkt := range q {
			if !r.route(s, pkt, s.StartingTTL) {
				break
			}
			sent++
		}
		if sent == 0 {
			continue
		}
		r.trace.Trace(FlushedOutbound, string(target), "count", sent)
		if sent == len(q) {
			delete(r.outbound, target)
		} else {
			r.outbound[target] = q[sent:]
		}
	}
}

// broadcast floods pkt over every transport with the given hop budget
func (r *Router) broadcast(s *state.State, pkt *state.AppPacket, ttl uint8) {
	Get[*Links](s).broadcast(s, &state.NetPacket{
		Header: state.NetHeader{
			Id:       newId(),
			Source:   s.Self(),
			Protocol: state.Broadcast,
			TTL:      ttl,
		},
		Body: *pkt,
	})
}

func (r *Router) rebroadcast(s *state.State, pkt *state.NetPacket) {
	perf.PacketsRebroadcast.Add(1)
	r.trace.Trace(Rebroadcast, pkt.String())
	app := pkt.Body
	r.broadcast(s, &app, pkt.Header.TTL-1)
}

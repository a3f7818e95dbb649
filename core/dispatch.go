package core

import (
	"github.com/encodeous/skein/perf"
	"github.com/encodeous/skein/state"
)

// receive runs every validated, trusted packet through the dispatch state machine
func receive(s *state.State, pkt *state.NetPacket, edgeId string, reply state.Edge) error {
	r := Get[*Router](s)
	perf.PacketsReceived.Add(1)

	if pkt.Header.Source != s.Self() {
		r.registerPeer(s, pkt.Header.Source, edgeId, reply)
	}

	key := dedupKey(pkt)
	d := classify(s.Self(), pkt, r.seen.Has(key))
	if d.Dropped() {
		perf.PacketsDropped.Add(1)
		r.trace.Trace(d.Drop, pkt.String())
		return nil
	}
	r.seen.Mark(key)

	if d.Deliver {
		app := pkt.Body
		Get[*Broker](s).deliverLocal(s, &app)
	}
	if d.Forward {
		r.forward(s, pkt)
	}
	if d.Rebroadcast {
		r.rebroadcast(s, pkt)
	}
	return nil
}

package core

import "github.com/encodeous/skein/state"

func announce(s *state.State) error {
	Get[*Router](s).announce(s)
	return nil
}

// announce gossips our full graph to direct neighbours
func (r *Router) announce(s *state.State) {
	r.broadcast(s, &state.AppPacket{
		Header: state.AppHeader{
			Protocol:    state.Push,
			Source:      s.Self(),
			Transaction: newId(),
			Key:         state.KeyDiscovery,
		},
		Body: state.DiscoveryMsg{Graph: r.graph.Clone()},
	}, state.DiscoveryTTL)
}

func (r *Router) handleDiscovery(s *state.State, pkt *state.AppPacket) {
	msg, err := state.DecodeBody[state.DiscoveryMsg](pkt.Body)
	if err != nil {
		s.Log.Debug("bad discovery payload", "from", pkt.Header.Source, "error", err)
		return
	}
	merged := state.Merge(r.graph, msg.Graph)
	if merged.Equal(r.graph) {
		return
	}
	r.setGraph(s, merged)
}

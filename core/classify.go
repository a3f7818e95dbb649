package core

import "github.com/encodeous/skein/state"

// Disposition is what the dispatcher does with an inbound packet.
// A non-zero Drop means the packet is discarded and the other fields are unset.
type Disposition struct {
	Drop        DispatchEvent
	Deliver     bool
	Forward     bool
	Rebroadcast bool
}

func (d Disposition) Dropped() bool {
	return d.Drop != 0
}

// classify decides the fate of a packet arriving at self. seen reports whether its identity is in the dedup set.
func classify(self state.Address, pkt *state.NetPacket, seen bool) Disposition {
	h, a := pkt.Header, pkt.Body.Header
	switch {
	case h.Source == self || a.Source == self:
		return Disposition{Drop: DropSelf}
	case seen:
		return Disposition{Drop: DropDuplicate}
	case h.Protocol == state.PointToPoint && h.Target != self:
		return Disposition{Drop: DropMisaddressed}
	case h.TTL == 0:
		return Disposition{Drop: DropExpired}
	}

	if h.Protocol == state.Broadcast {
		return Disposition{Deliver: true, Rebroadcast: h.TTL > 1}
	}
	if a.Target == self {
		return Disposition{Deliver: true}
	}
	if h.TTL <= 1 {
		return Disposition{Drop: DropExpired}
	}
	return Disposition{Forward: true}
}

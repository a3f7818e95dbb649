package link

import (
	"log/slog"

	"github.com/encodeous/skein/state"
)

// FromConfig builds the transports named by cfg.Links. Bus names are resolved through buses.
func FromConfig(cfg *state.LocalCfg, buses *BusSet, log *slog.Logger) []state.Transport {
	transports := make([]state.Transport, 0)
	for _, name := range cfg.Links.Bus {
		transports = append(transports, buses.Get(name).Join())
	}
	if cfg.Links.Quic != nil {
		transports = append(transports, NewQuic(*cfg.Links.Quic, log))
	}
	if cfg.Links.GossipSub != nil {
		transports = append(transports, NewGossipSub(*cfg.Links.GossipSub, log))
	}
	return transports
}

package core

import (
	"errors"
	"fmt"

	"github.com/encodeous/skein/perf"
	"github.com/encodeous/skein/state"
)

// Links owns the transports of a node and is the LinkSink they feed
type Links struct {
	transports []state.Transport
	env        *state.Env
	trusted    state.TrustPredicate
	trace      *Tracer
}

func (l *Links) Init(s *state.State) error {
	s.Log.Debug("init links")
	l.env = s.Env
	l.trusted = state.TrustSet(s.TrustedOrigins)
	l.trace = Get[*Tracer](s)
	for i, t := range l.transports {
		if err := t.Start(s.Context, l); err != nil {
			for _, started := range l.transports[:i] {
				_ = started.Close()
			}
			l.transports = nil
			return fmt.Errorf("start %s: %w", t.Name(), err)
		}
		s.Log.Info("started transport", "transport", t.Name())
	}
	return nil
}

func (l *Links) Cleanup(s *state.State) error {
	var errs []error
	for _, t := range l.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (l *Links) Receive(pkt *state.NetPacket, edgeId string, reply state.Edge) {
	if err := pkt.Validate(); err != nil {
		perf.PacketsDropped.Add(1)
		l.trace.Trace(DropMalformed, err.Error(), "edge", edgeId)
		return
	}
	cp := *pkt
	l.env.Dispatch(func(s *state.State) error {
		return receive(s, &cp, edgeId, reply)
	})
}

func (l *Links) Connected(edgeId string) {
	l.env.Log.Debug("link connected", "edge", edgeId)
	l.env.Dispatch(announce)
}

func (l *Links) Trusted(identity string) bool {
	if l.trusted(identity) {
		return true
	}
	perf.PacketsDropped.Add(1)
	l.trace.Trace(DropUntrusted, identity)
	return false
}

func (l *Links) broadcast(s *state.State, pkt *state.NetPacket) {
	for _, t := range l.transports {
		if err := t.Broadcast(pkt); err != nil {
			perf.EdgeErrorsPerSecond.Add(1)
			s.Log.Debug("broadcast failed", "transport", t.Name(), "error", err)
			continue
		}
		perf.FramesSent.Add(1)
	}
}
